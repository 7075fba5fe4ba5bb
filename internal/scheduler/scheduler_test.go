package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies Run leaves no task goroutine running once its context
// is canceled, the same discipline the teacher applies to its own
// long-running loops.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunFiresTaskAtInterval(t *testing.T) {
	var count int32
	s := New()
	s.Register(&Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(2))
}

func TestRunDisablesTaskAfterConsecutiveFailures(t *testing.T) {
	var count int32
	s := New()
	s.Register(&Task{
		Name:                    "flaky",
		Interval:                2 * time.Millisecond,
		MaxConsecutiveFailures:  2,
		DisableFor:              time.Hour,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	// Exactly 2 firings before disable kicks in; further ticks must be
	// no-ops because isDisabled short-circuits the run.
	require.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestRunNeverDisablesBestEffortTask(t *testing.T) {
	var count int32
	s := New()
	s.Register(&Task{
		Name:     "besteffort",
		Interval: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	require.Greater(t, atomic.LoadInt32(&count), int32(2))
}

func TestNextUTCReturnsTomorrowWhenHourPassed(t *testing.T) {
	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	next := NextUTC(3)(now)
	require.Equal(t, time.Date(2026, 7, 30, 3, 0, 0, 0, time.UTC), next)
}

func TestNextUTCReturnsTodayWhenHourNotYetPassed(t *testing.T) {
	now := time.Date(2026, 7, 29, 1, 0, 0, 0, time.UTC)
	next := NextUTC(3)(now)
	require.Equal(t, time.Date(2026, 7, 29, 3, 0, 0, 0, time.UTC), next)
}
