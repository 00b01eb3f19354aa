package rate

import "errors"

var (
	// ErrRateLimited is the sentinel every LimitExceededError unwraps to.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps store transport failures; the engine treats
	// it as "permit" for rate checks.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
