package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// ErrUnknownJob is returned for a job name the scheduler does not know.
var ErrUnknownJob = errors.New("unknown job")

// Job is a named periodic task. Cron, when set, takes precedence over
// Every.
type Job struct {
	Name  string
	Every time.Duration
	Cron  *Schedule
	Run   func(ctx context.Context) error
}

// SchedulerConfig controls locking and whole-job retry.
type SchedulerConfig struct {
	// LockTTL is the minimum lifetime of a job lock. Interval jobs hold the
	// lock for at least their interval.
	LockTTL      time.Duration
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration
	// RunOnStart runs interval jobs once immediately.
	RunOnStart bool
}

// DefaultSchedulerConfig returns 3 retries from 5s to 1m and a 30m lock.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		LockTTL:      30 * time.Minute,
		MaxRetries:   3,
		RetryInitial: 5 * time.Second,
		RetryMax:     time.Minute,
		RunOnStart:   true,
	}
}

// JobEvent is published on domain.ChannelJobs after every run.
type JobEvent struct {
	Job        string    `json:"job"`
	Status     string    `json:"status"` // "succeeded" | "failed" | "skipped"
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Scheduler runs jobs on their schedules. Each run holds the lock
// "job:<name>" so overlapping runs, in this process or another, are skipped;
// a failed run is retried with exponential backoff before the next tick.
type Scheduler struct {
	cfg    SchedulerConfig
	locks  domain.LockManager
	bus    domain.SignalBus
	logger *slog.Logger

	mu       sync.Mutex
	jobs     map[string]Job
	order    []string
	triggers map[string]chan struct{}
}

// NewScheduler creates a Scheduler. bus may be nil.
func NewScheduler(cfg SchedulerConfig, locks domain.LockManager, bus domain.SignalBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		locks:    locks,
		bus:      bus,
		logger:   logger.With(slog.String("component", "scheduler")),
		jobs:     make(map[string]Job),
		triggers: make(map[string]chan struct{}),
	}
}

// Add registers a job.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("pipeline: job needs a name and a run func")
	}
	if job.Cron == nil && job.Every <= 0 {
		return fmt.Errorf("pipeline: job %s has no schedule", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("pipeline: job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	s.order = append(s.order, job.Name)
	s.triggers[job.Name] = make(chan struct{}, 1)
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Trigger asks a running scheduler to run name now. A trigger already
// pending for the job absorbs this one.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	ch, ok := s.triggers[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: %s: %w", name, ErrUnknownJob)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// RunOnce executes name immediately with locking and retry.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: %s: %w", name, ErrUnknownJob)
	}
	return s.execute(ctx, job)
}

// Run drives every registered job until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "scheduler starting", slog.Int("jobs", len(jobs)))
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.mu.Lock()
	trigger := s.triggers[job.Name]
	s.mu.Unlock()

	if s.cfg.RunOnStart && job.Cron == nil {
		_ = s.execute(ctx, job)
	}

	for {
		wait := job.Every
		if job.Cron != nil {
			next, err := job.Cron.Next(time.Now().UTC())
			if err != nil {
				s.logger.ErrorContext(ctx, "cron schedule exhausted",
					slog.String("job", job.Name),
					slog.String("error", err.Error()),
				)
				return
			}
			wait = time.Until(next)
		}
		s.logger.DebugContext(ctx, "job waiting",
			slog.String("job", job.Name),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-trigger:
			timer.Stop()
		case <-timer.C:
		}
		_ = s.execute(ctx, job)
	}
}

func (s *Scheduler) lockTTL(job Job) time.Duration {
	ttl := s.cfg.LockTTL
	if job.Cron == nil {
		ttl = max(ttl, job.Every)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	logger := s.logger.With(slog.String("job", job.Name))
	started := time.Now().UTC()

	unlock, err := s.locks.Acquire(ctx, "job:"+job.Name, s.lockTTL(job))
	if errors.Is(err, domain.ErrLockHeld) {
		logger.InfoContext(ctx, "job already running elsewhere, skipping")
		s.publish(ctx, JobEvent{Job: job.Name, Status: "skipped", StartedAt: started})
		return nil
	}
	if err != nil {
		logger.ErrorContext(ctx, "job lock failed", slog.String("error", err.Error()))
		s.publish(ctx, JobEvent{Job: job.Name, Status: "failed", StartedAt: started, Error: err.Error()})
		return fmt.Errorf("pipeline: lock %s: %w", job.Name, err)
	}
	defer unlock()

	attempts := 0
	op := func() error {
		attempts++
		err := job.Run(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, domain.ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "job failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}
	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.cfg.MaxRetries), ctx), notify)

	ev := JobEvent{
		Job:        job.Name,
		Status:     "succeeded",
		Attempts:   attempts,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		ev.Status, ev.Error = "failed", err.Error()
		logger.ErrorContext(ctx, "job failed",
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
	} else {
		logger.InfoContext(ctx, "job succeeded",
			slog.Int("attempts", attempts),
			slog.Int64("duration_ms", ev.DurationMs),
		)
	}
	s.publish(ctx, ev)
	return err
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax
	b.MaxElapsedTime = 0
	return b
}

func (s *Scheduler) publish(ctx context.Context, ev JobEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err == nil {
		err = s.bus.Publish(ctx, domain.ChannelJobs, payload)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish job event failed",
			slog.String("job", ev.Job),
			slog.String("error", err.Error()),
		)
	}
}
