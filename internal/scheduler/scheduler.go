package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// TickTimeout bounds a single tick. Zero means no bound.
	TickTimeout time.Duration
}

// Scheduler runs a tick function at a fixed interval. Ticks execute inline,
// so at most one is in flight and a slow tick delays the next one.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick once after StartupDelay and then at each
// interval until ctx is cancelled or Stop is called. A tick that has already
// started is not interrupted: it runs on a context detached from ctx, bounded
// only by TickTimeout. Run returns nil after Stop and ctx.Err() after
// cancellation.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return parent.Err()
		case <-timer.C:
		}
	}

	if ctx.Err() != nil {
		return parent.Err()
	}
	// The first tick follows the startup delay directly.
	s.runTick(ctx, s.bucketStart(time.Now().UTC()), tick)
	if ctx.Err() != nil {
		return parent.Err()
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return parent.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := s.bucketStart(next)
		s.runTick(ctx, at, tick)

		if ctx.Err() != nil {
			return parent.Err()
		}
		next = next.Add(s.opts.Interval)
	}
}

// Stop prevents further ticks. It does not wait for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) runTick(ctx context.Context, at time.Time, tick TickFunc) {
	tickCtx := context.WithoutCancel(ctx)
	if s.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, s.opts.TickTimeout)
		defer cancel()
	}

	s.logger.Debug().Time("at", at).Msg("executing scheduled tick")
	if err := tick(tickCtx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
