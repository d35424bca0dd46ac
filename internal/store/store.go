// Package store holds the shared entity collection. All mutation goes through
// Apply: a copy-on-write replacement keyed by entity ID, so concurrent jobs
// never observe interleaved partial writes.
package store

import (
	"context"

	"enricher/internal/domain"
)

// Store is the entity collection contract consumed by the processor and the
// HTTP surface.
type Store interface {
	Get(ctx context.Context, id string) (domain.Entity, error)
	List(ctx context.Context) ([]domain.Entity, error)
	Put(ctx context.Context, entity domain.Entity) error
	// Apply atomically replaces the entity with mutate's result and returns
	// the new snapshot. The mutate function must not retain its argument.
	Apply(ctx context.Context, id string, mutate func(domain.Entity) domain.Entity) (domain.Entity, error)
}

// Listener observes entity snapshots after every Put or Apply.
type Listener func(domain.Entity)
