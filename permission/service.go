package permission

import (
	"context"
	"fmt"
)

// Service mediates role-assignment mutations so cache coherence cannot be
// bypassed: it holds the Resolver it must invalidate and does so after the
// graph mutation commits and before returning to the caller.
type Service struct {
	graph    MutableGraph
	resolver *Resolver
}

// NewService wires a mutable graph to the resolver whose cache it owns.
func NewService(graph MutableGraph, resolver *Resolver) *Service {
	return &Service{graph: graph, resolver: resolver}
}

// AssignRole grants roleCode to the user and invalidates their cached sets.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleCode string) error {
	if err := s.graph.AssignRole(ctx, userID, roleCode); err != nil {
		return fmt.Errorf("assign role %q: %w", roleCode, err)
	}
	return s.resolver.Invalidate(ctx, userID)
}

// RemoveRole revokes roleCode from the user and invalidates their cached
// sets. The invalidation is not skipped on a no-op removal; it is cheap and
// keeps the path uniform.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleCode string) error {
	if err := s.graph.RemoveRole(ctx, userID, roleCode); err != nil {
		return fmt.Errorf("remove role %q: %w", roleCode, err)
	}
	return s.resolver.Invalidate(ctx, userID)
}

// DeleteRole removes the role entirely and invalidates every user that held
// it. Invalidation errors are collected; the first one is returned after
// all users have been attempted.
func (s *Service) DeleteRole(ctx context.Context, roleCode string) error {
	affected, err := s.graph.DeleteRole(ctx, roleCode)
	if err != nil {
		return fmt.Errorf("delete role %q: %w", roleCode, err)
	}

	var firstErr error
	for _, userID := range affected {
		if err := s.resolver.Invalidate(ctx, userID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
