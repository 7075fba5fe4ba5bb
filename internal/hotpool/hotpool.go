// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hotpool maintains the bounded, continuously-warm subset of the
// most economically important pools (spec.md §4.6): the HotSet, ordered by
// weight_usd, refreshed at a cadence adaptive to each member's weight.
package hotpool

import (
	"container/heap"
	"context"
	"math"
	"sync"
	"time"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/statecache"
)

// Config tunes admission and refresh cadence (spec.md §6 "graph.*").
type Config struct {
	KHot         int
	WHotMin      float64
	BaseInterval time.Duration
}

// member is one HotSet occupant, also the container/heap element.
type member struct {
	identity chainmodel.Identity
	weight   float64
	state    *chainmodel.State
	quality  chainmodel.Quality
	index    int // heap.Interface bookkeeping
}

// memberHeap is a min-heap on weight so the tail (lowest-weight member,
// the eviction candidate) is always at the root — the same
// container/heap.Interface shape used elsewhere in the corpus for
// priority-ordered candidate queues.
type memberHeap []*member

func (h memberHeap) Len() int            { return len(h) }
func (h memberHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h memberHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *memberHeap) Push(x interface{}) {
	m := x.(*member)
	m.index = len(*h)
	*h = append(*h, m)
}
func (h *memberHeap) Pop() interface{} {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	m.index = -1
	*h = old[:n-1]
	return m
}

// Manager owns the HotSet. All exported methods are safe for concurrent
// use; reads (Snapshot, Contains) take the read path and never block on a
// refresh in progress for longer than the lock is actually held.
type Manager struct {
	cfg   Config
	cache *statecache.Cache
	log   logging.Logger

	mu      sync.RWMutex
	h       memberHeap
	byIdent map[chainmodel.Identity]*member
}

// NewManager constructs an empty hot-pool manager.
func NewManager(cfg Config, cache *statecache.Cache) *Manager {
	if cfg.KHot <= 0 {
		cfg.KHot = 50
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 30 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		cache:   cache,
		log:     logging.Component("hotpool"),
		h:       make(memberHeap, 0, cfg.KHot),
		byIdent: make(map[chainmodel.Identity]*member),
	}
}

// Consider offers a candidate for admission (spec.md §4.6). A pool whose
// weight is below WHotMin is never admitted. Once KHot members are
// present, a new candidate only displaces the current tail (lowest
// weight) if its weight exceeds the tail's.
func (m *Manager) Consider(id chainmodel.Identity, weightUSD float64, state *chainmodel.State, quality chainmodel.Quality) {
	if weightUSD < m.cfg.WHotMin {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byIdent[id]; ok {
		existing.weight = weightUSD
		existing.state = state
		existing.quality = quality
		heap.Fix(&m.h, existing.index)
		return
	}

	if len(m.h) < m.cfg.KHot {
		mem := &member{identity: id, weight: weightUSD, state: state, quality: quality}
		heap.Push(&m.h, mem)
		m.byIdent[id] = mem
		return
	}

	tail := m.h[0]
	if weightUSD <= tail.weight {
		return
	}
	delete(m.byIdent, tail.identity)
	mem := &member{identity: id, weight: weightUSD, state: state, quality: quality}
	m.h[0] = mem
	mem.index = 0
	m.byIdent[id] = mem
	heap.Fix(&m.h, 0)
}

// Snapshot returns a read-only copy of the HotSet (spec.md §4.6's
// contract: "exposes snapshot() ... never owns authoritative weights").
func (m *Manager) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.h))
	for _, mem := range m.h {
		out = append(out, Entry{Identity: mem.identity, Weight: mem.weight, State: mem.state, Quality: mem.quality})
	}
	return out
}

// Entry is one HotSet member as returned by Snapshot.
type Entry struct {
	Identity chainmodel.Identity
	Weight   float64
	State    *chainmodel.State
	Quality  chainmodel.Quality
}

// Contains reports whether id is currently a HotSet member.
func (m *Manager) Contains(id chainmodel.Identity) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byIdent[id]
	return ok
}

// RefreshInterval computes the adaptive cadence for a member's weight
// (spec.md §4.6: "proportional to log(weight)"): higher-weight pools
// refresh more often. Weight at or below WHotMin refreshes at BaseInterval;
// above it the interval is BaseInterval / (1 + log2(weight/WHotMin)), so
// twice WHotMin waits half as long and four times WHotMin a third as long.
func (m *Manager) RefreshInterval(weightUSD float64) time.Duration {
	if weightUSD <= m.cfg.WHotMin || m.cfg.WHotMin <= 0 {
		return m.cfg.BaseInterval
	}
	ratio := weightUSD / m.cfg.WHotMin
	divisor := 1 + math.Log2(ratio)
	if divisor < 1 {
		divisor = 1
	}
	return time.Duration(float64(m.cfg.BaseInterval) / divisor)
}

// RunRefresh loops forever refreshing every member via the JIT fetcher at
// its own adaptive cadence, until ctx is canceled. Each tick fetches the
// subset of members whose interval has elapsed and marks them touched in
// the shared state cache, so their TTL stays short for as long as they
// remain hot (spec.md §4.6: "via the JIT fetcher with the touched flag
// effectively set").
func (m *Manager) RunRefresh(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	lastRefresh := make(map[chainmodel.Identity]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.refreshDue(ctx, now, lastRefresh)
		}
	}
}

func (m *Manager) refreshDue(ctx context.Context, now time.Time, lastRefresh map[chainmodel.Identity]time.Time) {
	snapshot := m.Snapshot()
	var due []chainmodel.Identity
	for _, e := range snapshot {
		interval := m.RefreshInterval(e.Weight)
		if now.Sub(lastRefresh[e.Identity]) >= interval {
			due = append(due, e.Identity)
		}
	}
	if len(due) == 0 {
		return
	}

	// target_block 0 always exceeds the fuzzy-block tolerance against any
	// real observed_at_block, so this always forces a live fetch rather
	// than serving a cache hit — refresh means refresh.
	results := m.cache.GetBatch(ctx, due, 0)
	m.mu.Lock()
	for _, id := range due {
		lastRefresh[id] = now
		res, ok := results[id]
		if !ok {
			continue
		}
		if mem, ok := m.byIdent[id]; ok {
			mem.state = res.State.State
			mem.quality = res.Quality
		}
		m.cache.MarkTouched(id, res.State.ObservedBlock)
	}
	m.mu.Unlock()
}
