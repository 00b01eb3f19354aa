package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate_limit"

// Dimension selects what a policy counts by.
type Dimension int

const (
	// DimensionIP counts per client IP.
	DimensionIP Dimension = iota
	// DimensionUser counts per authenticated user id, falling back to IP
	// for anonymous callers.
	DimensionUser
	// DimensionMethod counts per HTTP method and path.
	DimensionMethod
	// DimensionIPAndMethod counts per client IP and method+path composite.
	DimensionIPAndMethod
)

// Policy configures one protected operation.
type Policy struct {
	// Key namespaces the counter, e.g. "login".
	Key string
	// Window is the fixed counting window.
	Window time.Duration
	// MaxCount admissions are allowed per window; the next one is rejected.
	MaxCount int
	// Dimension selects the counting identity.
	Dimension Dimension
	// Message overrides the rejection text shown to clients.
	Message string
}

// RejectionMessage returns the configured message, or a default naming the
// retry window.
func (p Policy) RejectionMessage() string {
	if p.Message != "" {
		return p.Message
	}
	return fmt.Sprintf("too many requests, retry in %d seconds", int(p.Window.Seconds()))
}

// LimitExceededError reports a rejected admission together with the wait
// until the window resets. It unwraps to ErrRateLimited.
type LimitExceededError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string { return e.Message }

func (e *LimitExceededError) Unwrap() error { return ErrRateLimited }

// admitScript increments the counter and sets the window TTL in one call,
// so a counter key can never be left without an expiry.
var admitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter enforces fixed-window policies against Redis counters.
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient) *Limiter {
	return &Limiter{redis: client}
}

// Allow admits or rejects one request for the policy and resolved dimension
// value. Admission is an atomic increment-and-compare: concurrent requests
// cannot both observe "below limit" and both pass.
func (l *Limiter) Allow(ctx context.Context, p Policy, dimensionValue string) error {
	key := fmt.Sprintf("%s:%s:%s", keyPrefix, p.Key, dimensionValue)

	count, err := admitScript.Run(ctx, l.redis, []string{key}, p.Window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(p.MaxCount) {
		retry := p.Window
		if ttl, err := l.redis.PTTL(ctx, key).Result(); err == nil && ttl > 0 {
			retry = ttl
		}
		return &LimitExceededError{
			Message:    p.RejectionMessage(),
			RetryAfter: retry,
		}
	}

	return nil
}
