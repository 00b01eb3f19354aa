package forumauth

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mengnankk/forumauth/internal/rate"
	"github.com/mengnankk/forumauth/password"
	"github.com/mengnankk/forumauth/permission"
	"github.com/mengnankk/forumauth/session"
	"github.com/mengnankk/forumauth/token"
)

// Builder assembles an Engine. Configure it during initialization and call
// Build once; the resulting Engine is immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users CredentialStore
	graph permission.Graph
	sink  EventSink

	logger    zerolog.Logger
	hasLogger bool

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the full configuration. Zero-valued fields are
// filled from defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing revocation, refresh sessions,
// the permission cache, and rate limit counters. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account persistence adapter. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithRoleGraph sets the role/permission source. Required. If the graph
// also implements permission.MutableGraph, the Engine exposes a
// permission.Service for assignments via Permissions.
func (b *Builder) WithRoleGraph(graph permission.Graph) *Builder {
	b.graph = graph
	return b
}

// WithEventSink sets the destination for domain events. Optional; without
// it events are discarded.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger. Optional; without it the Engine
// is silent.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.hasLogger = true
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("forumauth: builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("forumauth: redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("forumauth: credential store is required")
	}
	if b.graph == nil {
		return nil, errors.New("forumauth: role graph is required")
	}

	cfg := b.config
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewEngine(token.Config{
		Secret:     cfg.Token.Secret,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if b.hasLogger {
		logger = b.logger
	}

	resolver := permission.NewResolver(b.graph, b.redis, cfg.Session.RedisPrefix, cfg.Cache.TTL)

	var perms *permission.Service
	if mutable, ok := b.graph.(permission.MutableGraph); ok {
		perms = permission.NewService(mutable, resolver)
	}

	b.built = true

	return &Engine{
		cfg:        cfg,
		logger:     logger,
		tokens:     tokens,
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		resolver:   resolver,
		perms:      perms,
		limiter:    rate.New(b.redis),
		hasher:     hasher,
		users:      b.users,
		dispatcher: newEventDispatcher(cfg.Events, b.sink),
		metrics:    newMetrics(),
	}, nil
}
