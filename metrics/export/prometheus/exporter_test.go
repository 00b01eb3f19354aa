package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	forumauth "github.com/mengnankk/forumauth"
	"github.com/mengnankk/forumauth/password"
)

type noopStore struct{}

func (noopStore) FindByUsername(context.Context, string) (*forumauth.UserRecord, error) {
	return nil, forumauth.ErrUserNotFound
}

func (noopStore) FindByID(context.Context, int64) (*forumauth.UserRecord, error) {
	return nil, forumauth.ErrUserNotFound
}

func (noopStore) Create(context.Context, forumauth.CreateUserInput) (*forumauth.UserRecord, error) {
	return nil, forumauth.ErrAccountExists
}

func (noopStore) UpdatePasswordHash(context.Context, int64, string) error { return nil }

func (noopStore) RecordLogin(context.Context, int64, string, time.Time) error { return nil }

type noopGraph struct{}

func (noopGraph) RolesForUser(context.Context, int64) ([]string, error) { return nil, nil }

func (noopGraph) PermissionsForUser(context.Context, int64) ([]string, error) { return nil, nil }

func newExporterTest(t *testing.T) (*Exporter, *forumauth.Engine, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	engine, err := forumauth.New().
		WithConfig(forumauth.Config{
			Token: forumauth.TokenConfig{Secret: []byte("0123456789abcdef0123456789abcdef")},
			Password: password.Config{
				Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
			},
		}).
		WithRedis(rdb).
		WithCredentialStore(noopStore{}).
		WithRoleGraph(noopGraph{}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	return NewExporter(engine), engine, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

func TestRenderExposesCounters(t *testing.T) {
	exporter, engine, done := newExporterTest(t)
	defer done()

	// Drive one failed login so a counter is non-zero.
	_, _ = engine.Authenticate(context.Background(), "ghost", "nope")

	text := exporter.Render()
	if !strings.Contains(text, "# TYPE forumauth_login_failure_total counter") {
		t.Fatalf("missing TYPE line:\n%s", text)
	}
	if !strings.Contains(text, "forumauth_login_failure_total 1") {
		t.Fatalf("missing counter value:\n%s", text)
	}
	if !strings.Contains(text, "forumauth_events_dropped_total 0") {
		t.Fatalf("missing dropped counter:\n%s", text)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exporter, _, done := newExporterTest(t)
	defer done()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "forumauth_validate_success_total") {
		t.Fatal("body missing counters")
	}
}
