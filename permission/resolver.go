// Package permission resolves role and permission sets for forum users from
// the relational role graph, with a Redis read-through cache in front of it.
// Cache entries expire on a fixed TTL and are invalidated synchronously by
// the Service whenever an assignment changes, so a permission downgrade is
// visible on the next read.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RolePrefix namespaces role codes in the combined authority set, so "has
// role X" and "has permission X" never collide.
const RolePrefix = "ROLE_"

// TrimRolePrefix strips the RolePrefix namespace from code if present, so
// callers can pass role codes in either form.
func TrimRolePrefix(code string) string {
	return strings.TrimPrefix(code, RolePrefix)
}

// ErrGraphUnavailable wraps failures of the underlying role/permission
// source.
var ErrGraphUnavailable = errors.New("role graph unavailable")

// Graph is the read side of the relational role/permission source.
type Graph interface {
	RolesForUser(ctx context.Context, userID int64) ([]string, error)
	PermissionsForUser(ctx context.Context, userID int64) ([]string, error)
}

// MutableGraph extends Graph with the assignment mutations the Service
// mediates. DeleteRole reports every user id that held the role so their
// cache entries can be invalidated.
type MutableGraph interface {
	Graph
	AssignRole(ctx context.Context, userID int64, roleCode string) error
	RemoveRole(ctx context.Context, userID int64, roleCode string) error
	DeleteRole(ctx context.Context, roleCode string) ([]int64, error)
}

// Resolver answers role and permission lookups through the cache.
type Resolver struct {
	graph  Graph
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewResolver builds a Resolver caching under the given prefix ("auth") for
// ttl per entry.
func NewResolver(graph Graph, client redis.UniversalClient, prefix string, ttl time.Duration) *Resolver {
	if prefix == "" {
		prefix = "auth"
	}
	return &Resolver{graph: graph, redis: client, prefix: prefix, ttl: ttl}
}

func (r *Resolver) rolesKey(userID int64) string {
	return fmt.Sprintf("%s:user:roles:%s", r.prefix, strconv.FormatInt(userID, 10))
}

func (r *Resolver) permissionsKey(userID int64) string {
	return fmt.Sprintf("%s:user:permissions:%s", r.prefix, strconv.FormatInt(userID, 10))
}

// RolesOf returns the user's role codes, served from cache when possible.
func (r *Resolver) RolesOf(ctx context.Context, userID int64) ([]string, error) {
	return r.lookup(ctx, r.rolesKey(userID), func() ([]string, error) {
		return r.graph.RolesForUser(ctx, userID)
	})
}

// PermissionsOf returns the user's permission codes, served from cache when
// possible.
func (r *Resolver) PermissionsOf(ctx context.Context, userID int64) ([]string, error) {
	return r.lookup(ctx, r.permissionsKey(userID), func() ([]string, error) {
		return r.graph.PermissionsForUser(ctx, userID)
	})
}

// lookup is the cache-aside read path. A cache outage falls through to the
// graph; only graph failure is an error. Concurrent misses may both query
// the graph and both write, which is benign: values are identical within a
// TTL window.
func (r *Resolver) lookup(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	data, err := r.redis.Get(ctx, key).Result()
	if err == nil {
		var cached []string
		if jsonErr := json.Unmarshal([]byte(data), &cached); jsonErr == nil {
			return cached, nil
		}
		// Corrupt entry: drop it and reload from the graph.
		_ = r.redis.Del(ctx, key).Err()
	}

	values, err := load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	if values == nil {
		values = []string{}
	}

	if encoded, err := json.Marshal(values); err == nil {
		// Best effort: a failed cache write only costs the next read a
		// graph round trip.
		_ = r.redis.Set(ctx, key, encoded, r.ttl).Err()
	}

	return values, nil
}

// Invalidate drops the user's cached role and permission sets. Mutation
// paths call it before returning; a failure here must surface, because a
// stale entry after a downgrade is a security defect.
func (r *Resolver) Invalidate(ctx context.Context, userID int64) error {
	if err := r.redis.Del(ctx, r.rolesKey(userID), r.permissionsKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate user %d: %w", userID, err)
	}
	return nil
}

// HasRole reports whether the user holds the role code. The code may be
// given with or without the RolePrefix namespace.
func (r *Resolver) HasRole(ctx context.Context, userID int64, code string) (bool, error) {
	roles, err := r.RolesOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return contains(roles, TrimRolePrefix(code)), nil
}

// HasPermission reports whether the user holds the permission code.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, code string) (bool, error) {
	permissions, err := r.PermissionsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return contains(permissions, code), nil
}

// Authorities returns the combined authority set: roles under RolePrefix
// followed by bare permission codes.
func (r *Resolver) Authorities(ctx context.Context, userID int64) ([]string, error) {
	roles, err := r.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	permissions, err := r.PermissionsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	authorities := make([]string, 0, len(roles)+len(permissions))
	for _, role := range roles {
		authorities = append(authorities, RolePrefix+role)
	}
	authorities = append(authorities, permissions...)
	return authorities, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
