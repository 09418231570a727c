package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/metrics"
)

const defaultTick = 30 * time.Second

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	// Tick is how often due jobs are looked for.
	Tick time.Duration
}

// Service wakes every tick and runs the jobs whose cadence elapsed. Due jobs
// run concurrently, each under its own lock, and a tick finishes only when
// all of them return.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Locker == nil {
		return nil, errors.New("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		tick:     tick,
		now:      time.Now,
		lastRun:  map[string]time.Time{},
	}, nil
}

// Run ticks until ctx is canceled. Every job is due on the first tick.
func (s *Service) Run(ctx context.Context) error {
	s.runDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue returns the number of jobs it started.
func (s *Service) runDue(ctx context.Context) int {
	now := s.now()
	var wg conc.WaitGroup
	started := 0
	for _, sched := range s.registry.Schedules() {
		if !s.due(sched, now) {
			continue
		}
		started++
		job := sched.Job
		wg.Go(func() { s.runJob(ctx, job, now) })
	}
	if r := wg.WaitAndRecover(); r != nil {
		s.logg.Error(ctx, "cron job panicked", r.AsError())
	}
	return started
}

func (s *Service) due(sched Schedule, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[sched.Job.Name()]
	return !ok || now.Sub(last) >= sched.Every
}

func (s *Service) markRun(job string, at time.Time) {
	s.mu.Lock()
	s.lastRun[job] = at
	s.mu.Unlock()
}

// runJob leaves a failed job unmarked so it is retried on the next tick. A
// job held by another worker counts as run for this cadence window.
func (s *Service) runJob(ctx context.Context, job Job, now time.Time) {
	name := job.Name()
	jobCtx := s.logg.WithJob(ctx, name)

	acquired, err := s.locker.Acquire(jobCtx, name)
	if err != nil {
		s.logg.Error(jobCtx, "cron lock unavailable", err)
		s.metrics.IncFailure(name)
		return
	}
	if !acquired {
		s.logg.Debug(jobCtx, "job locked by another worker")
		s.metrics.IncSkipped(name)
		s.markRun(name, now)
		return
	}
	defer func() {
		// release must outlive a canceled run context
		if err := s.locker.Release(context.WithoutCancel(jobCtx), name); err != nil {
			s.logg.Error(jobCtx, "cron lock release failed", err)
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)
	if p, ok := job.(interface{ Processed() int }); ok {
		s.metrics.AddAffected(name, p.Processed())
	}
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(name)
		return
	}
	s.markRun(name, now)
	s.metrics.IncSuccess(name)
}
