// Package scheduler runs a job on a fixed interval until its context is cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eddielth/turbine-fleet/logger"
)

// Job is one scheduled run. Its context carries the per-run timeout, if any.
type Job func(ctx context.Context) error

// Option customizes a Scheduler
type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithTimeout bounds every run; zero disables the bound
func WithTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = timeout
	}
}

// WithRunOnStart fires the job once as soon as Run is called
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// WithName labels the log lines of the scheduler
func WithName(name string) Option {
	return func(s *Scheduler) {
		s.name = name
	}
}

// Scheduler fires the job on every tick without waiting for the previous run.
// Runs may overlap; the job must tolerate that.
type Scheduler struct {
	job        Job
	interval   time.Duration
	timeout    time.Duration
	runOnStart bool
	name       string
	clock      clockwork.Clock

	wg       sync.WaitGroup
	running  atomic.Bool
	runs     atomic.Int64
	failures atomic.Int64
}

func New(job Job, interval time.Duration, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}

	s := &Scheduler{
		job:      job,
		interval: interval,
		name:     "scheduler",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s, nil
}

// Run blocks until ctx is done, then waits for in-flight runs to return.
// A failing run is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s is already running", s.name)
	}
	defer s.running.Store(false)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("%s started, interval %s", s.name, s.interval)

	if s.runOnStart {
		s.fire(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info("%s stopped after %d runs (%d failed)", s.name, s.runs.Load(), s.failures.Load())
			return nil
		case <-ticker.Chan():
			s.fire(ctx)
		}
	}
}

// Runs is the number of completed runs
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Failures is the number of completed runs that returned an error
func (s *Scheduler) Failures() int64 {
	return s.failures.Load()
}

func (s *Scheduler) fire(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		defer func() {
			if r := recover(); r != nil {
				s.failures.Add(1)
				s.runs.Add(1)
				logger.Error("%s: run panicked: %v", s.name, r)
			}
		}()

		err := s.job(runCtx)
		if err != nil {
			s.failures.Add(1)
			logger.Error("%s: run failed: %v", s.name, err)
		}
		s.runs.Add(1)
	}()
}
