package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 30 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds every job run; a slow backfill sweep must not hold
	// the lock into the next cycle.
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs the registered jobs once per interval on whichever instance
// holds the lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

// JobResult is the outcome of one job in a cycle.
type JobResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// ErrLockHeld is returned by RunOnce when another instance owns the cycle.
var ErrLockHeld = errors.New("cron lock held by another instance")

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := params.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: timeout,
		now:        now,
	}, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.cycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	_, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrLockHeld):
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
	case err != nil:
		s.logg.Error(ctx, "scheduled run failed", err)
	}
}

// RunOnce takes the lock and runs the named jobs, or all of them. A failing
// job does not stop the ones after it; their errors are combined.
func (s *Service) RunOnce(ctx context.Context, names ...string) ([]JobResult, error) {
	jobs, err := s.registry.Select(names...)
	if err != nil {
		return nil, err
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		return nil, ErrLockHeld
	}
	defer func() {
		// Release even when ctx was canceled mid-cycle.
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	results := make([]JobResult, 0, len(jobs))
	var errs error
	for _, job := range jobs {
		res := s.runJob(ctx, job)
		results = append(results, res)
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "jobs", len(results)), "scheduled run complete")
	return results, errs
}

func (s *Service) runJob(ctx context.Context, job Job) JobResult {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	res := JobResult{Name: job.Name(), Duration: s.now().Sub(start), Err: err}

	s.metrics.ObserveRun(res.Name, res.Duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", res.Duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return res
	}
	s.logg.Info(jobCtx, "job completed")
	return res
}
