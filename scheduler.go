package majordomo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobHandler runs one scheduled job fire.
type JobHandler func(ctx context.Context, params json.RawMessage) error

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the next fire time (unix seconds) for a cron expression.
func NextRun(expr string, after time.Time) (int64, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return sched.Next(after).Unix(), nil
}

// Scheduler runs persistent cron-like jobs. Jobs live in the memory store
// and survive restarts; a tick loop wakes every second, selects due enabled
// jobs, and hands them to a bounded worker pool. Fires are serialized per
// job name, and a job that slept past several matching minutes fires at
// most once for the backlog.
type Scheduler struct {
	store    MemoryStore
	handlers map[string]JobHandler
	workers  int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerWorkers bounds handler concurrency (default 4).
func WithSchedulerWorkers(n int) SchedulerOption {
	return func(s *Scheduler) { s.workers = n }
}

// WithSchedulerInterval sets the tick interval (default 1s).
func WithSchedulerInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a Scheduler over the memory store.
func NewScheduler(store MemoryStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:    store,
		handlers: make(map[string]JobHandler),
		workers:  4,
		interval: time.Second,
		logger:   nopLogger,
		now:      time.Now,
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler binds a handlerRef to its implementation.
func (s *Scheduler) RegisterHandler(ref string, h JobHandler) {
	s.handlers[ref] = h
}

// Register inserts or updates a job row with its next run precomputed.
func (s *Scheduler) Register(ctx context.Context, name, cronExpr, handlerRef string, params json.RawMessage, enabled bool) error {
	next, err := NextRun(cronExpr, s.now())
	if err != nil {
		return err
	}
	j := ScheduledJob{
		Name:       name,
		CronExpr:   cronExpr,
		HandlerRef: handlerRef,
		Params:     params,
		Enabled:    enabled,
		NextRun:    next,
	}
	if err := s.store.UpsertJob(ctx, j); err != nil {
		return fmt.Errorf("scheduler: upsert %s: %w", name, err)
	}
	return nil
}

// Start runs the tick loop until ctx is cancelled. Returns nil on clean
// shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	sem := make(chan struct{}, s.workers)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx, sem)
		}
	}
}

// tick fires every due enabled job not already running.
func (s *Scheduler) tick(ctx context.Context, sem chan struct{}) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		s.logger.Warn("scheduler: list jobs failed", "error", err)
		return
	}
	now := s.now()
	for _, j := range jobs {
		if !j.Enabled || j.NextRun > now.Unix() {
			continue
		}
		if !s.tryAcquire(j.Name) {
			// Previous fire still in flight; skip, the row refires next tick.
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			// Pool saturated; the job stays due and refires next tick.
			s.release(j.Name)
			continue
		}

		// Recompute next_run before executing so a slow handler cannot
		// refire, and a backlog after a long sleep collapses to one fire.
		next, err := NextRun(j.CronExpr, now)
		if err != nil {
			s.logger.Error("scheduler: bad cron expr, disabling", "job", j.Name, "error", err)
			_ = s.store.SetJobEnabled(ctx, j.Name, false)
			<-sem
			s.release(j.Name)
			continue
		}
		if err := s.store.MarkJobRun(ctx, j.Name, now.Unix(), next); err != nil {
			s.logger.Warn("scheduler: mark run failed", "job", j.Name, "error", err)
			// Continue — better to fire than to silently skip.
		}

		job := j
		go func() {
			defer func() { <-sem; s.release(job.Name) }()
			s.run(ctx, job)
		}()
	}
}

func (s *Scheduler) run(ctx context.Context, j ScheduledJob) {
	h, ok := s.handlers[j.HandlerRef]
	if !ok {
		s.logger.Error("scheduler: no handler, disabling job", "job", j.Name, "handler", j.HandlerRef)
		_ = s.store.SetJobEnabled(ctx, j.Name, false)
		return
	}
	s.logger.Debug("scheduler: firing", "job", j.Name)
	if err := h(ctx, j.Params); err != nil {
		s.logger.Warn("scheduler: job failed", "job", j.Name, "error", err)
	}
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}
