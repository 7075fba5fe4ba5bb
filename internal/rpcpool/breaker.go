package rpcpool

import (
	"sync"
	"time"
)

// breakerState is the three-state circuit breaker machine from spec.md §4.1.
type breakerState uint8

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig holds the tunables for one provider's circuit breaker.
type BreakerConfig struct {
	Window            int           // W_cb: rolling outcome window size
	FailureRateTrip    float64       // r_cb: trip threshold, e.g. 0.30
	LatencyTrip        time.Duration // L_cb: trip threshold, e.g. 100ms
	Cooldown           time.Duration // T_cb: Open -> HalfOpen delay
	HalfOpenSuccesses int           // k_cb: consecutive successes to close
}

// DefaultBreakerConfig matches the example values in spec.md §4.1.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:            20,
		FailureRateTrip:    0.30,
		LatencyTrip:        100 * time.Millisecond,
		Cooldown:           30 * time.Second,
		HalfOpenSuccesses: 3,
	}
}

// breaker is a per-provider circuit breaker. All state mutation happens
// under mu; no suspension point is ever reached while mu is held.
type breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           breakerState
	outcomes        []bool // true = success, ring buffer of the last Window calls
	next            int
	filled          int
	openedAt        time.Time
	halfOpenSuccess int
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{
		cfg:      cfg,
		state:    stateClosed,
		outcomes: make([]bool, cfg.Window),
	}
}

// Allow reports whether a call may be attempted right now, transitioning
// Open -> HalfOpen if the cooldown has elapsed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = stateHalfOpen
			b.halfOpenSuccess = 0
			return true
		}
		return false
	}
	return false
}

// Healthy reports whether the breaker is Closed or HalfOpen, per spec.md
// §4.1's provider-selection healthiness rule. It does not mutate state
// (Allow does the Open->HalfOpen transition on an actual attempt).
func (b *breaker) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != stateOpen
}

// RecordResult folds a call outcome into the breaker, applying the state
// transitions in spec.md §4.1. latency exactly at L_cb is still healthy;
// above it counts toward tripping (boundary per spec.md §8).
func (b *breaker) RecordResult(success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		if !success {
			b.state = stateOpen
			b.openedAt = time.Now()
			return
		}
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenSuccesses {
			b.state = stateClosed
			b.resetOutcomesLocked()
		}
		return
	}

	slow := latency > b.cfg.LatencyTrip
	b.outcomes[b.next] = success && !slow
	b.next = (b.next + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}

	if b.state == stateClosed && b.filled == len(b.outcomes) {
		failures := 0
		for _, ok := range b.outcomes {
			if !ok {
				failures++
			}
		}
		rate := float64(failures) / float64(len(b.outcomes))
		if rate > b.cfg.FailureRateTrip {
			b.state = stateOpen
			b.openedAt = time.Now()
		}
	}
}

func (b *breaker) resetOutcomesLocked() {
	for i := range b.outcomes {
		b.outcomes[i] = true
	}
	b.filled = 0
	b.next = 0
}

func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
