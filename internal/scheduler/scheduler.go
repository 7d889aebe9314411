package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled cycle.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour. CronSpec, when set, replaces the
// interval loop with cron-expression scheduling.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	CronSpec      string
	StartupDelay  time.Duration
}

// Scheduler drives periodic execution of monitoring cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 && opts.CronSpec == "" {
		panic("scheduler needs a positive interval or a cron spec")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.CronSpec != "" {
		return s.runCron(ctx, tick)
	}
	return s.runInterval(ctx, tick)
}

func (s *Scheduler) runInterval(ctx context.Context, tick TickFunc) error {
	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next cycle")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := s.bucketStart(next)
		s.logger.Info().Time("at", at).Msg("executing scheduled cycle")

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("cycle execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) runCron(ctx context.Context, tick TickFunc) error {
	c := cron.New()
	_, err := c.AddFunc(s.opts.CronSpec, func() {
		at := time.Now().UTC()
		s.logger.Info().Time("at", at).Msg("executing scheduled cycle")
		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("at", at).Msg("cycle execution failed")
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	cronCtx := c.Stop()
	<-cronCtx.Done()
	return ctx.Err()
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
