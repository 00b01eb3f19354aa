package forumauth

import (
	"errors"
	"time"

	"github.com/mengnankk/forumauth/internal/rate"
	"github.com/mengnankk/forumauth/password"
)

// Config groups the tunables for an Engine. Zero values are filled from
// defaultConfig during Build, except Token.Secret which is mandatory.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Cache     CacheConfig
	Password  password.Config
	RateLimit RateLimitConfig
	Events    EventsConfig
}

// TokenConfig controls JWT minting and validation.
type TokenConfig struct {
	// Secret is the HS256 signing key. Required, minimum 32 bytes.
	Secret []byte
	// AccessTTL is the access token lifetime. Default 24h.
	AccessTTL time.Duration
	// RefreshTTL is the refresh token lifetime. Default 168h.
	RefreshTTL time.Duration
	// Issuer, when set, is stamped into minted tokens and enforced on
	// parse.
	Issuer string
	// Leeway tolerates clock skew on exp/iat validation. At most two
	// minutes.
	Leeway time.Duration
}

// SessionConfig controls the Redis revocation and refresh-session store.
type SessionConfig struct {
	// RedisPrefix namespaces every key the engine writes. Default
	// "auth".
	RedisPrefix string
}

// CacheConfig controls the role/permission read-through cache.
type CacheConfig struct {
	// TTL bounds staleness of cached role and permission sets when no
	// invalidation fires. Default 30m.
	TTL time.Duration
}

// RateLimitConfig carries the built-in policies for the engine's own
// operations. Middleware-level policies are configured per route instead.
type RateLimitConfig struct {
	// Login guards Authenticate, keyed by client IP. Default 5 per
	// 300s.
	Login RatePolicy
	// Register guards Register, keyed by client IP. Default 3 per 60s.
	Register RatePolicy
}

// EventsConfig controls the async domain event dispatcher. The zero
// value enables dispatch with defaulted queue settings.
type EventsConfig struct {
	// Disabled turns the dispatcher off entirely; emits become no-ops.
	Disabled bool
	// BufferSize is the dispatch queue depth. Default 256.
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the
	// queue is full. Dropped counts are visible via Metrics.
	DropIfFull bool
}

// RatePolicy is a fixed-window rate limit policy. MaxCount requests are
// admitted per Window for each distinct dimension value.
type RatePolicy struct {
	// Key distinguishes policies that share a dimension, e.g. "login".
	Key string
	// Window is the fixed window length.
	Window time.Duration
	// MaxCount is the number of admitted requests per window.
	MaxCount int
	// Dimension selects what the limit is keyed on.
	Dimension RateDimension
	// Message overrides the default rejection text.
	Message string
}

// RateDimension selects the request attribute a rate limit is keyed on.
type RateDimension int

const (
	// RateByIP keys on the client IP address.
	RateByIP = RateDimension(rate.DimensionIP)
	// RateByUser keys on the authenticated user id.
	RateByUser = RateDimension(rate.DimensionUser)
	// RateByMethod keys on the operation alone, a global limit.
	RateByMethod = RateDimension(rate.DimensionMethod)
	// RateByIPAndMethod keys on client IP and operation combined.
	RateByIPAndMethod = RateDimension(rate.DimensionIPAndMethod)
)

func (p RatePolicy) internal() rate.Policy {
	return rate.Policy{
		Key:       p.Key,
		Window:    p.Window,
		MaxCount:  p.MaxCount,
		Dimension: rate.Dimension(p.Dimension),
		Message:   p.Message,
	}
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  24 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Session: SessionConfig{
			RedisPrefix: "auth",
		},
		Cache: CacheConfig{
			TTL: 30 * time.Minute,
		},
		Password: password.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Login: RatePolicy{
				Key:       "login",
				Window:    300 * time.Second,
				MaxCount:  5,
				Dimension: RateByIP,
				Message:   "login attempts too frequent, please try again later",
			},
			Register: RatePolicy{
				Key:       "register",
				Window:    60 * time.Second,
				MaxCount:  3,
				Dimension: RateByIP,
				Message:   "registration attempts too frequent, please try again later",
			},
		},
		Events: EventsConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func (c *Config) applyDefaults() {
	def := defaultConfig()
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = def.Token.AccessTTL
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = def.Token.RefreshTTL
	}
	if c.Session.RedisPrefix == "" {
		c.Session.RedisPrefix = def.Session.RedisPrefix
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Password == (password.Config{}) {
		c.Password = def.Password
	}
	if c.RateLimit.Login.Window == 0 {
		c.RateLimit.Login = def.RateLimit.Login
	}
	if c.RateLimit.Register.Window == 0 {
		c.RateLimit.Register = def.RateLimit.Register
	}
	if c.Events == (EventsConfig{}) {
		c.Events = def.Events
	} else if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = def.Events.BufferSize
	}
}

func (c *Config) validate() error {
	if len(c.Token.Secret) == 0 {
		return errors.New("forumauth: token secret is required")
	}
	if len(c.Token.Secret) < 32 {
		return errors.New("forumauth: token secret must be at least 32 bytes")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("forumauth: refresh TTL must exceed access TTL")
	}
	if c.RateLimit.Login.MaxCount <= 0 || c.RateLimit.Register.MaxCount <= 0 {
		return errors.New("forumauth: rate limit max count must be positive")
	}
	return nil
}
