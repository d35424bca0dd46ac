package store

import (
	"context"
	"fmt"
	"time"

	"enricher/internal/domain"
	"enricher/internal/infra"
	"enricher/internal/sqlinline"
)

// PGStore decorates a MemoryStore with write-through persistence of status
// snapshots. The in-memory copy stays authoritative for reads; persistence
// failures are logged, not surfaced, so a flaky audit table cannot fail jobs.
type PGStore struct {
	mem    *MemoryStore
	runner *infra.SQLRunner
	logger infra.Logger
}

// NewPGStore wraps mem with snapshot persistence through runner.
func NewPGStore(mem *MemoryStore, runner *infra.SQLRunner, logger infra.Logger) *PGStore {
	return &PGStore{mem: mem, runner: runner, logger: logger}
}

// Get prefers the in-memory snapshot and falls back to the persisted status
// row for entities from a previous run. Persisted rows hold status fields
// only; callers that need the title or body must fetch those from the
// platform.
func (s *PGStore) Get(ctx context.Context, id string) (domain.Entity, error) {
	entity, err := s.mem.Get(ctx, id)
	if err == nil {
		return entity, nil
	}
	row := s.runner.QueryRow(ctx, sqlinline.QGetEntityStatus, id)
	entity, scanErr := scanStatusRow(row)
	if scanErr != nil {
		if infra.IsNoRows(scanErr) {
			return domain.Entity{}, domain.ErrEntityNotFound
		}
		return domain.Entity{}, fmt.Errorf("store: load status snapshot: %w", scanErr)
	}
	return entity, nil
}

// Warm loads every persisted status snapshot into the memory store. Call it
// once at startup, before any jobs run. Warmed entities carry no title or
// body until a job hydrates them from the platform.
func (s *PGStore) Warm(ctx context.Context) (int, error) {
	rows, err := s.runner.Query(ctx, sqlinline.QListEntityStatuses)
	if err != nil {
		return 0, fmt.Errorf("store: list status snapshots: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		entity, err := scanStatusRow(rows)
		if err != nil {
			return loaded, fmt.Errorf("store: scan status snapshot: %w", err)
		}
		if err := s.mem.Put(ctx, entity); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatusRow(row rowScanner) (domain.Entity, error) {
	var (
		entity       domain.Entity
		status       string
		generatedURL string
		updatedAt    time.Time
	)
	err := row.Scan(&entity.ID, &status, &entity.StatusMessage, &entity.ImageCount, &entity.FeaturedImageID, &generatedURL, &updatedAt)
	if err != nil {
		return domain.Entity{}, err
	}
	entity.Status = domain.Status(status)
	entity.UpdatedAt = updatedAt
	if generatedURL != "" {
		entity.GeneratedImage = &domain.AssetRef{URL: generatedURL}
	}
	return entity, nil
}

func (s *PGStore) List(ctx context.Context) ([]domain.Entity, error) {
	return s.mem.List(ctx)
}

func (s *PGStore) Put(ctx context.Context, entity domain.Entity) error {
	if err := s.mem.Put(ctx, entity); err != nil {
		return err
	}
	s.persist(ctx, entity)
	return nil
}

func (s *PGStore) Apply(ctx context.Context, id string, mutate func(domain.Entity) domain.Entity) (domain.Entity, error) {
	next, err := s.mem.Apply(ctx, id, mutate)
	if err != nil {
		return domain.Entity{}, err
	}
	s.persist(ctx, next)
	return next, nil
}

func (s *PGStore) persist(ctx context.Context, entity domain.Entity) {
	var generatedURL string
	if entity.GeneratedImage != nil {
		generatedURL = entity.GeneratedImage.URL
	}
	_, err := s.runner.Exec(ctx, sqlinline.QUpsertEntityStatus,
		entity.ID,
		string(entity.Status),
		entity.StatusMessage,
		entity.ImageCount,
		entity.FeaturedImageID,
		generatedURL,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("entity_id", entity.ID).Msg("store: persist status snapshot failed")
	}
}

var _ Store = (*PGStore)(nil)
