package kg

import (
	"context"
	"fmt"

	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// Service is the read side of the knowledge graph: summary and entity queries
// for the profile API and CLI.
type Service struct {
	store storage.GraphStore
}

// NewService builds a read service over a graph store.
func NewService(store storage.GraphStore) *Service {
	return &Service{store: store}
}

// GetSummary returns the per-child aggregate, or storage.ErrNotFound when no
// extraction has ever completed for the child.
func (s *Service) GetSummary(ctx context.Context, scope storage.Scope) (*types.Summary, error) {
	summary, err := s.store.GetSummary(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

// GetEntities queries a child's entities with the given filters.
func (s *Service) GetEntities(ctx context.Context, scope storage.Scope, q storage.EntityQuery) ([]*types.Entity, error) {
	entities, err := s.store.ListEntities(ctx, scope, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

// GetEntity returns one entity by ID.
func (s *Service) GetEntity(ctx context.Context, scope storage.Scope, id string) (*types.Entity, error) {
	entity, err := s.store.GetEntity(ctx, scope, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	return entity, nil
}
