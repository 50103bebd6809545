// Package scheduler runs a hook on a fixed inter-tick delay in its own goroutine.
//
// Unlike a ticker, the delay is measured from the end of one tick to the start of the
// next, so a slow tick never causes a burst of catch-up ticks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wave-collector/pkg/logger"
	"github.com/wave-collector/pkg/metrics"
)

// Hooks is what a Scheduler drives. Setup and Teardown run exactly once per Start/Stop
// pair; Tick runs repeatedly in between. Hooks must not call Stop or Start themselves.
type Hooks interface {
	Setup() error
	Tick(ctx context.Context) error
	Teardown()
}

// HookFuncs adapts plain functions to Hooks; nil fields are skipped.
type HookFuncs struct {
	SetupFunc    func() error
	TickFunc     func(ctx context.Context) error
	TeardownFunc func()
}

func (h HookFuncs) Setup() error {
	if h.SetupFunc == nil {
		return nil
	}
	return h.SetupFunc()
}

func (h HookFuncs) Tick(ctx context.Context) error {
	if h.TickFunc == nil {
		return nil
	}
	return h.TickFunc(ctx)
}

func (h HookFuncs) Teardown() {
	if h.TeardownFunc != nil {
		h.TeardownFunc()
	}
}

// Scheduler owns the Stopped -> Running -> Stopped lifecycle of one tick loop.
type Scheduler struct {
	name    string
	delay   time.Duration
	hooks   Hooks
	log     *zap.Logger
	metrics *metrics.SchedulerMetrics

	lifecycle sync.Mutex // serializes Start and Stop
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	ticks     atomic.Uint64
}

type Option func(*Scheduler)

// WithLogger overrides the logger used for tick failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records tick failures and durations.
func WithMetrics(m *metrics.SchedulerMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a stopped scheduler. A non-positive delay is treated as 100ms.
func New(name string, delay time.Duration, hooks Hooks, opts ...Option) *Scheduler {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	s := &Scheduler{
		name:  name,
		delay: delay,
		hooks: hooks,
		log:   logger.Named(name),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Name() string         { return s.name }
func (s *Scheduler) Delay() time.Duration { return s.delay }
func (s *Scheduler) Running() bool        { return s.running.Load() }

// Ticks reports how many tick hooks have completed since construction.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Start stops a running loop first, runs Setup, then launches the tick loop. If Setup
// fails the scheduler stays stopped and Teardown is not run.
func (s *Scheduler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	if err := s.hooks.Setup(); err != nil {
		return fmt.Errorf("scheduler %s setup: %w", s.name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go s.loop(ctx, s.done)

	s.log.Debug("scheduler started", zap.Duration("delay", s.delay))
	return nil
}

// Stop blocks until the tick loop has exited, then runs Teardown. Stopping a stopped
// scheduler does nothing.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.done == nil {
		return
	}

	s.running.Store(false)
	s.cancel()
	<-s.done

	s.cancel = nil
	s.done = nil

	s.hooks.Teardown()
	s.log.Debug("scheduler stopped", zap.Uint64("ticks", s.ticks.Load()))
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	for s.running.Load() {
		s.runTick(ctx)

		timer.Reset(s.delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.tickFailed(fmt.Errorf("tick panic: %v", r))
		}
		s.ticks.Add(1)
		if s.metrics != nil {
			s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := s.hooks.Tick(ctx); err != nil {
		s.tickFailed(err)
	}
}

func (s *Scheduler) tickFailed(err error) {
	if s.metrics != nil {
		s.metrics.TickErrors.Inc()
	}
	s.log.Error("tick failed", zap.Error(err))
}
