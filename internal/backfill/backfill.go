// Package backfill scans the platform for entities that still lack an image
// and enqueues generation jobs for them.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"enricher/internal/domain"
	"enricher/internal/infra"
	"enricher/internal/providers/platform"
	"enricher/internal/queue"
	"enricher/internal/remote"
	"enricher/internal/store"
)

// Summary reports what one backfill pass did.
type Summary struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Config wires the runner.
type Config struct {
	Platform  platform.API
	Store     store.Store
	Scheduler *queue.Scheduler
	Logger    infra.Logger

	BatchSize   int
	BatchDelay  time.Duration
	Retry       remote.RetryPolicy
	CallTimeout time.Duration
}

// Runner executes backfill passes. Safe for concurrent use; each pass is
// independent.
type Runner struct {
	platform  platform.API
	store     store.Store
	scheduler *queue.Scheduler
	logger    infra.Logger

	batchSize  int
	batchDelay time.Duration
	retry      remote.RetryPolicy
	timeout    time.Duration
}

// New constructs a Runner.
func New(cfg Config) *Runner {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		platform:   cfg.Platform,
		store:      cfg.Store,
		scheduler:  cfg.Scheduler,
		logger:     cfg.Logger,
		batchSize:  batchSize,
		batchDelay: cfg.BatchDelay,
		retry:      cfg.Retry,
		timeout:    timeout,
	}
}

// Run lists every entity, hydrates them in batches, and enqueues a generate
// job for each one that has no image yet.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ids, err := remote.RetryValue(ctx, r.retry, func(attemptCtx context.Context) ([]string, error) {
		return remote.CallValue(attemptCtx, r.timeout, r.platform.ListEntityIDs)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("backfill: list entities: %w", err)
	}
	r.logger.Info().Int("entities", len(ids)).Msg("backfill: scan started")

	entities, err := remote.RunBatched(ctx, ids, r.batchSize, r.batchDelay, r.retry,
		func(batchCtx context.Context, chunk []string) ([]domain.Entity, error) {
			return remote.CallValue(batchCtx, r.timeout, func(callCtx context.Context) ([]domain.Entity, error) {
				return r.platform.FetchEntities(callCtx, chunk)
			})
		},
		func(done, total int) {
			r.logger.Debug().Int("done", done).Int("total", total).Msg("backfill: fetch progress")
		},
	)
	if err != nil {
		return Summary{}, fmt.Errorf("backfill: fetch entities: %w", err)
	}

	summary := Summary{Scanned: len(entities)}
	var jobs []*domain.Job
	for _, entity := range entities {
		if err := r.store.Put(ctx, entity); err != nil {
			return summary, fmt.Errorf("backfill: store entity %s: %w", entity.ID, err)
		}
		if entity.HasImage() {
			summary.Skipped++
			continue
		}
		jobs = append(jobs, &domain.Job{
			ID:       uuid.NewString(),
			EntityID: entity.ID,
			Action:   domain.GenerateAction{},
		})
	}
	accepted := r.scheduler.Enqueue(jobs...)
	summary.Enqueued = accepted
	summary.Rejected = len(jobs) - accepted

	r.logger.Info().
		Int("scanned", summary.Scanned).
		Int("enqueued", summary.Enqueued).
		Int("skipped", summary.Skipped).
		Int("rejected", summary.Rejected).
		Msg("backfill: scan finished")
	return summary, nil
}
