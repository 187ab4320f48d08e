// Package scheduler drives sampling on fixed, optionally aligned, buckets.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned by New when the interval is not positive.
var ErrInvalidInterval = errors.New("scheduler interval must be positive")

// BucketFunc samples one bucket.
type BucketFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// TickTimeout bounds a single bucket; zero uses the interval.
	TickTimeout time.Duration
}

// Scheduler runs one bucket at a time; a slow bucket delays, never overlaps, the next.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = opts.Interval
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks, sampling at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, fn BucketFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			skipped := next
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
			s.logger.Warn().Time("missed", skipped).Time("next_bucket", next).Msg("bucket overran; skipping ahead")
		}

		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		_ = s.RunOnce(ctx, s.BucketFor(next), fn)
		next = next.Add(s.opts.Interval)
	}
}

// RunOnce samples a single bucket with the tick timeout applied. Errors are
// logged and returned.
func (s *Scheduler) RunOnce(ctx context.Context, bucket time.Time, fn BucketFunc) error {
	tickCtx, cancel := context.WithTimeout(ctx, s.opts.TickTimeout)
	defer cancel()

	started := s.now()
	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	err := fn(tickCtx, bucket)
	if err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		return err
	}
	s.logger.Debug().Time("bucket", bucket).Dur("elapsed", s.now().Sub(started)).Msg("tick finished")
	return nil
}

// BucketFor returns the bucket t belongs to.
func (s *Scheduler) BucketFor(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
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

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
