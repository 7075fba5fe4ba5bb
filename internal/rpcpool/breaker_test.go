package rpcpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerLatencyBoundary(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Window = 10
	cfg.LatencyTrip = 100 * time.Millisecond
	b := newBreaker(cfg)

	// Exactly at L_cb is still healthy (spec.md §8 boundary behavior).
	for i := 0; i < cfg.Window; i++ {
		b.RecordResult(true, 100*time.Millisecond)
	}
	require.True(t, b.Healthy())

	// Above L_cb counts as a failed outcome; enough of them trips the breaker.
	b2 := newBreaker(cfg)
	for i := 0; i < cfg.Window; i++ {
		b2.RecordResult(true, 101*time.Millisecond)
	}
	require.False(t, b2.Healthy())
}

func TestBreakerFailureRateTrip(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Window = 10
	cfg.FailureRateTrip = 0.30
	b := newBreaker(cfg)

	for i := 0; i < 3; i++ {
		b.RecordResult(false, time.Millisecond)
	}
	for i := 0; i < 7; i++ {
		b.RecordResult(true, time.Millisecond)
	}
	// exactly at 30% failure rate must not trip ("exceeds", strictly greater).
	require.True(t, b.Healthy())

	b2 := newBreaker(cfg)
	for i := 0; i < 4; i++ {
		b2.RecordResult(false, time.Millisecond)
	}
	for i := 0; i < 6; i++ {
		b2.RecordResult(true, time.Millisecond)
	}
	require.False(t, b2.Healthy())
}

func TestBreakerHalfOpenTransitions(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Window = 4
	cfg.FailureRateTrip = 0.1
	cfg.Cooldown = time.Millisecond
	cfg.HalfOpenSuccesses = 2
	b := newBreaker(cfg)

	for i := 0; i < cfg.Window; i++ {
		b.RecordResult(false, time.Millisecond)
	}
	require.False(t, b.Healthy())
	require.Equal(t, "open", b.State())

	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow(), "cooldown elapsed, should move to half-open")
	require.Equal(t, "half_open", b.State())

	b.RecordResult(true, time.Millisecond)
	require.Equal(t, "half_open", b.State())
	b.RecordResult(true, time.Millisecond)
	require.Equal(t, "closed", b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Window = 4
	cfg.Cooldown = time.Millisecond
	b := newBreaker(cfg)
	for i := 0; i < cfg.Window; i++ {
		b.RecordResult(false, time.Millisecond)
	}
	time.Sleep(2 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordResult(false, time.Millisecond)
	require.Equal(t, "open", b.State())
}
