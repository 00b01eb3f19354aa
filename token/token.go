// Package token mints and parses the signed bearer credentials used across
// the forum platform: short-lived access tokens and longer-lived refresh
// tokens. Both are HMAC-SHA256 JWTs signed with a single shared secret; the
// algorithm is fixed at construction and never taken from the token header.
package token

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type claim values.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrMalformed is returned when a token cannot be parsed or its
	// signature does not verify.
	ErrMalformed = errors.New("token malformed")
	// ErrExpired is returned when a structurally valid token is past its
	// expiry.
	ErrExpired = errors.New("token expired")
)

// Config holds the signing secret and lifetime policy for issued tokens.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Claims is the claim set carried by both access and refresh tokens. The
// subject registered claim holds the username.
type Claims struct {
	UserID    int64  `json:"userId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Engine signs and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	config Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	return &Engine{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (e *Engine) AccessTTL() time.Duration { return e.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (e *Engine) RefreshTTL() time.Duration { return e.config.RefreshTTL }

// MintAccess issues an access token for the given username and user id,
// valid from now for the configured access TTL.
func (e *Engine) MintAccess(subject string, userID int64) (string, error) {
	return e.mint(subject, userID, TypeAccess, e.config.AccessTTL)
}

// MintRefresh issues a refresh token. The caller is responsible for
// persisting it as the user's sole refresh session; minting alone does not
// make the token redeemable.
func (e *Engine) MintRefresh(subject string, userID int64) (string, error) {
	return e.mint(subject, userID, TypeRefresh, e.config.RefreshTTL)
}

func (e *Engine) mint(subject string, userID int64, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    e.config.Issuer,
			// The jti makes two mints distinct even within the same
			// second of issue time.
			ID: uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(e.config.Secret)
}

// Parse verifies signature and expiry and returns the claim set. It fails
// with ErrExpired for a token past its lifetime and ErrMalformed for
// anything else, including tokens signed with a different algorithm.
func (e *Engine) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if e.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(e.config.Leeway))
	}
	if e.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(e.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return e.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrMalformed
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Remaining returns the time left until the claims expire, clamped to zero.
// The blacklist uses it to size revocation TTLs so an entry never outlives
// the token it revokes.
func Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ID derives the stable blacklist identity of an issued token: a digest of
// subject and issue instant. Two tokens for the same subject collide only
// when issued in the same millisecond, in which case both are revoked
// together.
func ID(claims *Claims) string {
	sum := md5.Sum([]byte(claims.Subject + strconv.FormatInt(claims.IssuedAt.UnixMilli(), 10)))
	return hex.EncodeToString(sum[:])
}
