package permission

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeGraph struct {
	mu          sync.Mutex
	roles       map[int64][]string
	permissions map[int64][]string
	err         error

	roleCalls int
	permCalls int
}

func (g *fakeGraph) RolesForUser(_ context.Context, userID int64) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roleCalls++
	if g.err != nil {
		return nil, g.err
	}
	return g.roles[userID], nil
}

func (g *fakeGraph) PermissionsForUser(_ context.Context, userID int64) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permCalls++
	if g.err != nil {
		return nil, g.err
	}
	return g.permissions[userID], nil
}

func (g *fakeGraph) AssignRole(_ context.Context, userID int64, roleCode string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.roles[userID] = append(g.roles[userID], roleCode)
	return nil
}

func (g *fakeGraph) RemoveRole(_ context.Context, userID int64, roleCode string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	kept := g.roles[userID][:0]
	for _, r := range g.roles[userID] {
		if r != roleCode {
			kept = append(kept, r)
		}
	}
	g.roles[userID] = kept
	return nil
}

func (g *fakeGraph) DeleteRole(_ context.Context, roleCode string) ([]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	var affected []int64
	for userID, roles := range g.roles {
		kept := roles[:0]
		held := false
		for _, r := range roles {
			if r == roleCode {
				held = true
				continue
			}
			kept = append(kept, r)
		}
		g.roles[userID] = kept
		if held {
			affected = append(affected, userID)
		}
	}
	return affected, nil
}

func newResolverTest(t *testing.T) (*Resolver, *fakeGraph, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	graph := &fakeGraph{
		roles:       map[int64][]string{},
		permissions: map[int64][]string{},
	}
	resolver := NewResolver(graph, rdb, "auth", 30*time.Minute)
	return resolver, graph, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestRolesOfCachesGraphResult(t *testing.T) {
	resolver, graph, _, done := newResolverTest(t)
	defer done()
	ctx := context.Background()
	graph.roles[1] = []string{RoleUser, RoleModerator}

	roles, err := resolver.RolesOf(ctx, 1)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{RoleUser, RoleModerator}) {
		t.Fatalf("roles = %v", roles)
	}

	// Second read must be served from cache, not the graph.
	if _, err := resolver.RolesOf(ctx, 1); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if graph.roleCalls != 1 {
		t.Fatalf("graph queried %d times, want 1", graph.roleCalls)
	}
}

func TestCacheEntryHasConfiguredTTL(t *testing.T) {
	resolver, graph, mr, done := newResolverTest(t)
	defer done()
	graph.roles[1] = []string{RoleUser}

	if _, err := resolver.RolesOf(context.Background(), 1); err != nil {
		t.Fatalf("read: %v", err)
	}

	ttl := mr.TTL("auth:user:roles:1")
	if ttl <= 29*time.Minute || ttl > 30*time.Minute {
		t.Fatalf("cache ttl = %v, want about 30m", ttl)
	}
}

func TestCacheExpiryTriggersReload(t *testing.T) {
	resolver, graph, mr, done := newResolverTest(t)
	defer done()
	ctx := context.Background()
	graph.permissions[1] = []string{PermPostManage}

	if _, err := resolver.PermissionsOf(ctx, 1); err != nil {
		t.Fatalf("first read: %v", err)
	}
	mr.FastForward(31 * time.Minute)
	if _, err := resolver.PermissionsOf(ctx, 1); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if graph.permCalls != 2 {
		t.Fatalf("graph queried %d times, want 2 after expiry", graph.permCalls)
	}
}

func TestEmptySetIsCachedNotRetried(t *testing.T) {
	resolver, graph, _, done := newResolverTest(t)
	defer done()
	ctx := context.Background()

	// User 5 has no roles. The empty answer must still be cached, or
	// every anonymous-ish user hammers the graph.
	roles, err := resolver.RolesOf(ctx, 5)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if roles == nil || len(roles) != 0 {
		t.Fatalf("roles = %#v, want empty non-nil slice", roles)
	}

	if _, err := resolver.RolesOf(ctx, 5); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if graph.roleCalls != 1 {
		t.Fatalf("graph queried %d times, want 1", graph.roleCalls)
	}
}

func TestCorruptCacheEntryIsDroppedAndReloaded(t *testing.T) {
	resolver, graph, mr, done := newResolverTest(t)
	defer done()
	graph.roles[1] = []string{RoleAdmin}

	if err := mr.Set("auth:user:roles:1", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	roles, err := resolver.RolesOf(context.Background(), 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{RoleAdmin}) {
		t.Fatalf("roles = %v, want reload from graph", roles)
	}
}

func TestCacheOutageFallsThroughToGraph(t *testing.T) {
	resolver, graph, mr, done := newResolverTest(t)
	defer done()
	graph.roles[1] = []string{RoleUser}

	mr.Close()

	roles, err := resolver.RolesOf(context.Background(), 1)
	if err != nil {
		t.Fatalf("read with cache down: %v", err)
	}
	if !reflect.DeepEqual(roles, []string{RoleUser}) {
		t.Fatalf("roles = %v", roles)
	}
}

func TestGraphOutageIsAnError(t *testing.T) {
	resolver, graph, _, done := newResolverTest(t)
	defer done()
	graph.err = errors.New("connection refused")

	if _, err := resolver.RolesOf(context.Background(), 1); !errors.Is(err, ErrGraphUnavailable) {
		t.Fatalf("expected ErrGraphUnavailable, got %v", err)
	}
}

func TestHasRoleAcceptsPrefixedCode(t *testing.T) {
	resolver, graph, _, done := newResolverTest(t)
	defer done()
	ctx := context.Background()
	graph.roles[1] = []string{RoleAdmin}

	for _, code := range []string{RoleAdmin, RolePrefix + RoleAdmin} {
		has, err := resolver.HasRole(ctx, 1, code)
		if err != nil {
			t.Fatalf("has role %q: %v", code, err)
		}
		if !has {
			t.Fatalf("expected role %q to be held", code)
		}
	}

	has, err := resolver.HasRole(ctx, 1, RoleSuperAdmin)
	if err != nil {
		t.Fatalf("has role: %v", err)
	}
	if has {
		t.Fatal("unheld role reported as held")
	}
}

func TestAuthoritiesCombineRolesAndPermissions(t *testing.T) {
	resolver, graph, _, done := newResolverTest(t)
	defer done()
	graph.roles[1] = []string{RoleModerator}
	graph.permissions[1] = []string{PermPostManage, PermCommentManage}

	authorities, err := resolver.Authorities(context.Background(), 1)
	if err != nil {
		t.Fatalf("authorities: %v", err)
	}
	want := []string{RolePrefix + RoleModerator, PermPostManage, PermCommentManage}
	if !reflect.DeepEqual(authorities, want) {
		t.Fatalf("authorities = %v, want %v", authorities, want)
	}
}

func TestInvalidateDropsBothKeys(t *testing.T) {
	resolver, graph, mr, done := newResolverTest(t)
	defer done()
	ctx := context.Background()
	graph.roles[1] = []string{RoleUser}
	graph.permissions[1] = []string{PermPostManage}

	if _, err := resolver.RolesOf(ctx, 1); err != nil {
		t.Fatalf("warm roles: %v", err)
	}
	if _, err := resolver.PermissionsOf(ctx, 1); err != nil {
		t.Fatalf("warm permissions: %v", err)
	}

	if err := resolver.Invalidate(ctx, 1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if mr.Exists("auth:user:roles:1") || mr.Exists("auth:user:permissions:1") {
		t.Fatal("invalidate must drop both cache keys")
	}
}
