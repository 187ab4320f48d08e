package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestNextTickAligned(t *testing.T) {
	s, err := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC), s.nextTick(now))

	onBoundary := time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC), s.nextTick(onBoundary))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), s.BucketFor(now))
}

func TestNextTickUnaligned(t *testing.T) {
	s, err := New(Options{Interval: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), s.nextTick(now))
	assert.Equal(t, now, s.BucketFor(now))
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	s, err := New(Options{Interval: time.Minute, TickTimeout: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	err = s.RunOnce(context.Background(), time.Now(), func(ctx context.Context, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("keep going")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.GreaterOrEqual(t, calls.Load(), int32(3))
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
