// Package session owns the Redis-backed revocation state of the auth core:
// the access-token blacklist and the single current refresh token per user.
// All entries self-expire, so no background sweep is needed.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport or timeout failures of the backing
// store so callers can distinguish them from a definitive miss.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	matchStatusMissing  int64 = 0
	matchStatusMatched  int64 = 1
	matchStatusMismatch int64 = 2
)

// matchRefreshLua compares the presented refresh token against the stored
// record in a single round trip, so the check cannot interleave with a
// concurrent overwrite.
const matchRefreshScript = `
local stored = redis.call("GET", KEYS[1])
if not stored then
  return 0
end
if stored == ARGV[1] then
  return 1
end
return 2
`

var matchRefreshLua = redis.NewScript(matchRefreshScript)

// Store persists revocation entries and refresh sessions.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store writing under the given key prefix ("auth" in
// production deployments).
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "auth"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) blacklistKey(tokenID string) string {
	return fmt.Sprintf("%s:token:blacklist:%s", s.prefix, tokenID)
}

func (s *Store) refreshKey(userID int64) string {
	return fmt.Sprintf("%s:refresh:token:%s", s.prefix, strconv.FormatInt(userID, 10))
}

// Revoke writes a blacklist entry that lives exactly as long as the token
// it revokes. A non-positive ttl means the token is already unusable and
// the call is a no-op.
func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.blacklistKey(tokenID), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the token id is blacklisted. Store failures are
// returned, not mapped to false; the caller decides the fail-closed policy.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// SaveRefresh overwrites the user's refresh session, last write wins. Any
// previously issued refresh token stops matching and is thereby revoked.
func (s *Store) SaveRefresh(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.refreshKey(userID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// MatchRefresh reports whether the presented token is exactly the stored
// refresh session for the user. A missing record is a non-match, not an
// error.
func (s *Store) MatchRefresh(ctx context.Context, userID int64, token string) (bool, error) {
	status, err := matchRefreshLua.Run(ctx, s.redis, []string{s.refreshKey(userID)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return status == matchStatusMatched, nil
}

// DeleteRefresh removes the user's refresh session. Deleting an absent
// record is not an error, which keeps logout idempotent.
func (s *Store) DeleteRefresh(ctx context.Context, userID int64) error {
	if err := s.redis.Del(ctx, s.refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
