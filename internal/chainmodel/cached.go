package chainmodel

import "time"

// CachedState is the JIT fetcher's cache entry (spec.md §3 "CachedState").
type CachedState struct {
	State         *State
	StateHash     Hash
	ObservedBlock uint64
	ObservedAt    time.Time
	Touched       bool
}

// Quality classifies a cache read, per spec.md §4.5.
type Quality uint8

const (
	QualityFresh Quality = iota
	QualityStale
	QualityCorrupt
)

func (q Quality) String() string {
	switch q {
	case QualityFresh:
		return "fresh"
	case QualityStale:
		return "stale"
	default:
		return "corrupt"
	}
}
