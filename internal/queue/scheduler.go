// Package queue owns the pending-job queue and the bounded-concurrency drain
// loop that feeds jobs to the processor.
package queue

import (
	"context"
	"sync"
	"time"

	"enricher/internal/domain"
	"enricher/internal/infra"
)

// Runner executes one job to completion. Failures are the runner's own
// business: it reports them through entity state, never back to the queue.
type Runner interface {
	Run(ctx context.Context, job *domain.Job)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, job *domain.Job)

func (f RunnerFunc) Run(ctx context.Context, job *domain.Job) { f(ctx, job) }

// Config configures a Scheduler.
type Config struct {
	MaxConcurrency int
	Runner         Runner
	Logger         infra.Logger
	// OnChange observes queue depth after every admission or completion.
	OnChange func(pending, active int)
}

// Scheduler admits jobs FIFO and keeps at most MaxConcurrency of them active.
// Every completion immediately re-arms the drain loop, so the queue flows
// without polling. All bookkeeping lives behind one mutex; the raw containers
// are never exposed.
type Scheduler struct {
	mu       sync.Mutex
	pending  []*domain.Job
	active   int
	inflight map[string]struct{}

	ctx      context.Context
	max      int
	runner   Runner
	logger   infra.Logger
	onChange func(pending, active int)
}

// New constructs a Scheduler. Jobs launched by the drain loop run under ctx;
// cancelling it stops new work but does not interrupt in-flight steps beyond
// their own call timeouts.
func New(ctx context.Context, cfg Config) *Scheduler {
	max := cfg.MaxConcurrency
	if max < 1 {
		max = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scheduler{
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		max:      max,
		runner:   cfg.Runner,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
	}
}

// Enqueue appends jobs in order and triggers a drain. Jobs for an entity that
// already has a pending or active job are rejected; the accepted count is
// returned. Safe to call from any goroutine, including runner completions.
func (s *Scheduler) Enqueue(jobs ...*domain.Job) int {
	s.mu.Lock()
	accepted := 0
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if _, busy := s.inflight[job.EntityID]; busy {
			s.logger.Warn().
				Str("job_id", job.ID).
				Str("entity_id", job.EntityID).
				Str("action", job.Action.Name()).
				Msg("queue: entity already in flight, job rejected")
			continue
		}
		s.inflight[job.EntityID] = struct{}{}
		s.pending = append(s.pending, job)
		accepted++
	}
	s.mu.Unlock()
	s.notify()
	s.drain()
	return accepted
}

// Clear empties the pending sequence. Active jobs are not cancelled; they run
// to completion and their entity updates still apply.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	dropped := len(s.pending)
	for _, job := range s.pending {
		delete(s.inflight, job.EntityID)
	}
	s.pending = nil
	s.mu.Unlock()
	s.notify()
	if dropped > 0 {
		s.logger.Info().Int("dropped", dropped).Msg("queue: pending jobs cleared")
	}
	return dropped
}

// Pending returns the current pending-queue length.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Active returns the number of jobs currently executing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// WaitIdle blocks until no job is pending or active, or ctx is done.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := len(s.pending) == 0 && s.active == 0
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain launches pending jobs while slots remain. It takes the lock only
// around bookkeeping, so re-entrant calls (from Enqueue during completions)
// cannot deadlock; a call that finds no free slot is a no-op.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.active >= s.max || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		job := s.pending[0]
		s.pending = s.pending[1:]
		s.active++
		s.mu.Unlock()
		s.notify()
		go s.execute(job)
	}
}

func (s *Scheduler) execute(job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", job.ID).
				Str("entity_id", job.EntityID).
				Interface("panic", r).
				Msg("queue: runner panicked")
		}
		s.mu.Lock()
		s.active--
		delete(s.inflight, job.EntityID)
		s.mu.Unlock()
		s.notify()
		// Re-arm regardless of outcome; a failed job never stalls the queue.
		s.drain()
	}()
	s.runner.Run(s.ctx, job)
}

func (s *Scheduler) notify() {
	if s.onChange == nil {
		return
	}
	s.mu.Lock()
	pending, active := len(s.pending), s.active
	s.mu.Unlock()
	s.onChange(pending, active)
}
