// Package forumauth is the authentication and authorization core for the
// forum platform. It issues and validates JWT access/refresh token pairs,
// tracks revoked tokens and refresh sessions in Redis, resolves roles and
// permissions through a cached graph, and enforces fixed-window rate
// limits on sensitive operations.
//
// The package is transport-agnostic. HTTP adapters live in the middleware
// subpackage; persistence adapters live in the store subpackage. An Engine
// is assembled with the Builder:
//
//	engine, err := forumauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithCredentialStore(users).
//		WithRoleGraph(graph).
//		Build()
//
// All Engine methods are safe for concurrent use.
package forumauth
