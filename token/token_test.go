package token

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{AccessTTL: time.Hour, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewEngine(Config{Secret: testSecret, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected error for zero access TTL")
	}
	if _, err := NewEngine(Config{Secret: testSecret, AccessTTL: time.Hour, RefreshTTL: time.Hour, Leeway: 5 * time.Minute}); err == nil {
		t.Fatal("expected error for oversized leeway")
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	engine := newTestEngine(t, Config{Issuer: "forum-auth"})

	signed, err := engine.MintAccess("alice", 42)
	if err != nil {
		t.Fatalf("mint access: %v", err)
	}

	claims, err := engine.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "alice" {
		t.Fatalf("subject = %q, want alice", claims.Subject)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id = %d, want 42", claims.UserID)
	}
	if claims.TokenType != TypeAccess {
		t.Fatalf("token type = %q, want %q", claims.TokenType, TypeAccess)
	}
	if claims.Issuer != "forum-auth" {
		t.Fatalf("issuer = %q, want forum-auth", claims.Issuer)
	}
}

func TestMintRefreshCarriesRefreshType(t *testing.T) {
	engine := newTestEngine(t, Config{})

	signed, err := engine.MintRefresh("bob", 7)
	if err != nil {
		t.Fatalf("mint refresh: %v", err)
	}

	claims, err := engine.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.TokenType != TypeRefresh {
		t.Fatalf("token type = %q, want %q", claims.TokenType, TypeRefresh)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	engine := newTestEngine(t, Config{})

	signed, err := engine.MintAccess("alice", 42)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Flip a character inside the payload segment.
	parts := strings.Split(signed, ".")
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	parts[1] = string(payload)

	if _, err := engine.Parse(strings.Join(parts, ".")); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	minter := newTestEngine(t, Config{})
	verifier := newTestEngine(t, Config{Secret: []byte("ffffffffffffffffffffffffffffffff")})

	signed, err := minter.MintAccess("alice", 1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Parse(signed); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseRejectsAlgorithmConfusion(t *testing.T) {
	engine := newTestEngine(t, Config{})

	// A token claiming alg=none must never verify, even with a valid
	// claim set.
	claims := Claims{
		UserID:    1,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := engine.Parse(unsigned); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseExpiredToken(t *testing.T) {
	engine := newTestEngine(t, Config{})

	claims := Claims{
		UserID:    1,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := engine.Parse(signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	minter := newTestEngine(t, Config{Issuer: "somewhere-else"})
	verifier := newTestEngine(t, Config{Issuer: "forum-auth"})

	signed, err := minter.MintAccess("alice", 1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := verifier.Parse(signed); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestRemainingClampsToZero(t *testing.T) {
	expired := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	if got := Remaining(expired); got != 0 {
		t.Fatalf("remaining = %v, want 0", got)
	}

	live := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	got := Remaining(live)
	if got <= 59*time.Minute || got > time.Hour {
		t.Fatalf("remaining = %v, want about an hour", got)
	}

	if Remaining(nil) != 0 {
		t.Fatal("nil claims should have zero remaining")
	}
}

func TestIDIsDigestOfSubjectAndIssueInstant(t *testing.T) {
	issued := time.Now()
	issuedAt := jwt.NewNumericDate(issued)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "alice",
			IssuedAt: issuedAt,
		},
	}

	sum := md5.Sum([]byte("alice" + strconv.FormatInt(issuedAt.UnixMilli(), 10)))
	want := hex.EncodeToString(sum[:])
	if got := ID(claims); got != want {
		t.Fatalf("id = %q, want %q", got, want)
	}

	// Same subject, different issue instant: distinct identity.
	later := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "alice",
			IssuedAt: jwt.NewNumericDate(issued.Add(time.Second)),
		},
	}
	if ID(claims) == ID(later) {
		t.Fatal("ids for different issue instants must differ")
	}
}
