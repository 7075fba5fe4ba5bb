// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package statecache is the JIT (just-in-time) state fetcher and cache
// (spec.md §4.5): an in-process, concurrent, hash-invalidated cache of
// PoolState keyed by PoolIdentity, with fuzzy-block matching and
// touched/untouched TTL differentiation, backed by a batched multicall
// dispatch through the DEX adapters when an entry misses.
package statecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/dexadapter"
	"github.com/luxfi/dexgraph/internal/logging"
)

// Config carries the cache's tuning knobs (spec.md §6 "performance.*").
type Config struct {
	FuzzyBlockTolerance uint64        // ΔB
	TTLHot              time.Duration // T_hot, touched pools
	TTLCold             time.Duration // T_cold, untouched pools
	TouchedDecayBlocks  uint64        // T_touched_decay
	MaxEntries          int
	MaxBatchSize        int
}

// MetaLookup resolves the adapter-routing information (dex tag, protocol)
// for an identity, so a batch of cache misses can be grouped per adapter
// before dispatch.
type MetaLookup interface {
	Get(id chainmodel.Identity) (*chainmodel.Meta, bool)
}

type entry struct {
	state     chainmodel.CachedState
	lastTouch uint64 // block at which the pool was last observed touched
}

// Cache is the JIT fetcher's concurrent state cache. Every read takes the
// underlying expirable.LRU's internal mutex, so concurrent readers
// serialize briefly on it; no lock is held across an RPC fetch, and the
// singleflight group collapses duplicate concurrent fetches for the same
// identity.
type Cache struct {
	cfg      Config
	lru      *lru.LRU[chainmodel.Identity, *entry]
	sf       singleflight.Group
	meta     MetaLookup
	adapters *dexadapter.Registry
	l3       L3
	rec      CacheRecorder
	log      logging.Logger
}

// L3 is the optional persistent secondary tier (spec.md §4.5 "A secondary,
// persistent L3 tier ... is optional and subject to the same invalidation
// rules"). The cache writes every new or changed entry to it through Put;
// nothing in this package calls Get, so L3 contents are never read back.
type L3 interface {
	Get(ctx context.Context, id chainmodel.Identity) (chainmodel.CachedState, bool)
	Put(ctx context.Context, id chainmodel.Identity, s chainmodel.CachedState)
}

type noopL3 struct{}

func (noopL3) Get(context.Context, chainmodel.Identity) (chainmodel.CachedState, bool) {
	return chainmodel.CachedState{}, false
}
func (noopL3) Put(context.Context, chainmodel.Identity, chainmodel.CachedState) {}

// CacheRecorder receives a cache-miss notification for each identity that
// had to fall through to an on-chain fetch. Declared locally rather than
// importing the recorder package directly, same pattern as rpcpool's
// Recorder adapter.
type CacheRecorder interface {
	CacheMiss(dexTag string, id chainmodel.Identity)
}

type noopCacheRecorder struct{}

func (noopCacheRecorder) CacheMiss(string, chainmodel.Identity) {}

// New constructs a Cache. l3 and rec may both be nil to disable the
// secondary tier and miss recording respectively.
func New(cfg Config, meta MetaLookup, adapters *dexadapter.Registry, l3 L3, rec CacheRecorder) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 50_000
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 200
	}
	if l3 == nil {
		l3 = noopL3{}
	}
	if rec == nil {
		rec = noopCacheRecorder{}
	}
	// The LRU's own TTL is set to four times the cold TTL purely as a memory-bounding
	// backstop; the real fuzzy-block + touched-TTL freshness decision is
	// made in isValid, not by the LRU's eviction.
	return &Cache{
		cfg:      cfg,
		lru:      lru.NewLRU[chainmodel.Identity, *entry](cfg.MaxEntries, nil, cfg.TTLCold*4),
		meta:     meta,
		adapters: adapters,
		l3:       l3,
		rec:      rec,
		log:      logging.Component("statecache"),
	}
}

// Get serves a single (identity, target_block) request per the lookup
// protocol in spec.md §4.5. On a miss it single-flights the fetch so
// concurrent callers for the same pool share one in-flight RPC round trip.
func (c *Cache) Get(ctx context.Context, id chainmodel.Identity, targetBlock uint64) (chainmodel.CachedState, chainmodel.Quality, error) {
	if e, ok := c.lru.Get(id); ok {
		if q := c.classify(e, targetBlock); q == chainmodel.QualityFresh {
			return c.confirmHit(id, e, targetBlock), q, nil
		}
	}

	key := fmt.Sprintf("%d:%s", id.ChainID, id.Address.Hex())
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		results, errs := c.fetchBatch(ctx, []chainmodel.Identity{id})
		if len(results) == 0 {
			if err, ok := errs[id]; ok {
				return nil, err
			}
			return nil, fmt.Errorf("statecache: fetch produced no result for %s", id.Address)
		}
		return results[id], nil
	})
	if err != nil {
		if e, ok := c.lru.Get(id); ok {
			return e.state, chainmodel.QualityStale, err
		}
		return chainmodel.CachedState{}, chainmodel.QualityCorrupt, err
	}
	cs := v.(chainmodel.CachedState)
	return cs, chainmodel.QualityFresh, nil
}

// Result pairs a cache read with its quality classification.
type Result struct {
	State   chainmodel.CachedState
	Quality chainmodel.Quality
}

// GetBatch resolves many identities at once, serving cache hits directly
// and dispatching one grouped multicall for every miss (spec.md §4.5
// "Batch fetch"). The returned map always has one entry per requested
// identity; entries for pools whose fetch failed carry whatever stale
// state was previously cached (possibly a zero CachedState if none ever
// existed), with Quality reflecting that degradation.
func (c *Cache) GetBatch(ctx context.Context, ids []chainmodel.Identity, targetBlock uint64) map[chainmodel.Identity]Result {
	out := make(map[chainmodel.Identity]Result, len(ids))

	var misses []chainmodel.Identity
	for _, id := range ids {
		if e, ok := c.lru.Get(id); ok {
			if q := c.classify(e, targetBlock); q == chainmodel.QualityFresh {
				out[id] = Result{c.confirmHit(id, e, targetBlock), q}
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out
	}

	results, errs := c.fetchBatch(ctx, misses)
	for _, id := range misses {
		if cs, ok := results[id]; ok {
			out[id] = Result{cs, chainmodel.QualityFresh}
			continue
		}
		// Degrade to stale cached state if we have one; otherwise corrupt.
		if e, ok := c.lru.Get(id); ok {
			out[id] = Result{e.state, chainmodel.QualityStale}
		} else {
			q := chainmodel.QualityCorrupt
			if _, isErr := errs[id]; !isErr {
				q = chainmodel.QualityStale
			}
			out[id] = Result{chainmodel.CachedState{}, q}
		}
	}
	return out
}

// classify applies the validity rules from spec.md §4.5: fuzzy-block
// tolerance AND touched/untouched TTL. It never mutates e.
func (c *Cache) classify(e *entry, targetBlock uint64) chainmodel.Quality {
	touched := c.isTouched(e)
	var delta uint64
	if targetBlock >= e.state.ObservedBlock {
		delta = targetBlock - e.state.ObservedBlock
	} else {
		delta = e.state.ObservedBlock - targetBlock
	}
	if delta > c.cfg.FuzzyBlockTolerance {
		return chainmodel.QualityStale
	}
	ttl := c.cfg.TTLCold
	if touched {
		ttl = c.cfg.TTLHot
	}
	if time.Since(e.state.ObservedAt) > ttl {
		return chainmodel.QualityStale
	}
	return chainmodel.QualityFresh
}

// confirmHit advances an entry's observed block to targetBlock on a fresh
// hit without touching its StateHash: a hit at a later block within the
// fuzzy tolerance confirms the cached state is still current as of that
// block, which is the only part of the entry that changes.
func (c *Cache) confirmHit(id chainmodel.Identity, e *entry, targetBlock uint64) chainmodel.CachedState {
	if targetBlock > e.state.ObservedBlock {
		e.state.ObservedBlock = targetBlock
		c.lru.Add(id, e)
	}
	return e.state
}

// isTouched reports whether the pool's touched flag has not yet decayed.
func (c *Cache) isTouched(e *entry) bool {
	if e.state.Touched && e.lastTouch > 0 {
		return true
	}
	return e.state.Touched
}

// fetchBatch groups misses per dex tag's adapter, dispatches one
// FetchState multicall per group, and updates the cache hash-invalidated
// (spec.md §4.5: "replaces any existing cache entry only if the hash
// differs ... otherwise only observed_at_block/time are refreshed").
func (c *Cache) fetchBatch(ctx context.Context, ids []chainmodel.Identity) (map[chainmodel.Identity]chainmodel.CachedState, map[chainmodel.Identity]error) {
	results := make(map[chainmodel.Identity]chainmodel.CachedState, len(ids))
	errs := make(map[chainmodel.Identity]error)

	byAdapter := make(map[string][]*chainmodel.Meta)
	for _, id := range ids {
		m, ok := c.meta.Get(id)
		if !ok {
			errs[id] = fmt.Errorf("statecache: no metadata for %s", id.Address)
			continue
		}
		byAdapter[m.DexTag] = append(byAdapter[m.DexTag], m)
		c.rec.CacheMiss(m.DexTag, id)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for dexTag, metas := range byAdapter {
		adapter, ok := c.adapters.Get(dexTag)
		if !ok {
			mu.Lock()
			for _, m := range metas {
				errs[m.Identity] = fmt.Errorf("statecache: no adapter registered for %q", dexTag)
			}
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(adapter dexadapter.Adapter, metas []*chainmodel.Meta) {
			defer wg.Done()
			for start := 0; start < len(metas); start += c.cfg.MaxBatchSize {
				end := start + c.cfg.MaxBatchSize
				if end > len(metas) {
					end = len(metas)
				}
				chunk := metas[start:end]
				states, fetchErrs := adapter.FetchState(ctx, chunk)

				mu.Lock()
				for _, m := range chunk {
					if fe, failed := fetchErrs[m.Identity]; failed {
						errs[m.Identity] = fe
						continue
					}
					st, ok := states[m.Identity]
					if !ok {
						errs[m.Identity] = fmt.Errorf("statecache: adapter returned no state for %s", m.Identity.Address)
						continue
					}
					cs := c.mergeHashInvalidated(m.Identity, st)
					results[m.Identity] = cs
				}
				mu.Unlock()
			}
		}(adapter, metas)
	}
	wg.Wait()
	return results, errs
}

// mergeHashInvalidated computes StateHash for a freshly-fetched state and
// either replaces the cache entry (hash differs or absent) or only
// refreshes the observation timestamp/block (hash matches) — zero
// invalidation in the matching case, per spec.md §4.5.
func (c *Cache) mergeHashInvalidated(id chainmodel.Identity, st *chainmodel.State) chainmodel.CachedState {
	newHash := st.ComputeHash()
	now := time.Now()

	existing, hasExisting := c.lru.Get(id)
	if hasExisting && existing.state.StateHash == newHash {
		existing.state.ObservedBlock = st.ObservedAtBlock
		existing.state.ObservedAt = now
		c.lru.Add(id, existing)
		return existing.state
	}

	// The touched flag is event-driven (spec.md §4.5): a JIT fetch alone
	// never sets it. A changed hash carries forward whatever touched state
	// already existed; a brand-new entry starts untouched.
	touched := false
	lastTouch := uint64(0)
	if hasExisting {
		touched = existing.state.Touched
		lastTouch = existing.lastTouch
	}

	cs := chainmodel.CachedState{
		State:         st,
		StateHash:     newHash,
		ObservedBlock: st.ObservedAtBlock,
		ObservedAt:    now,
		Touched:       touched,
	}
	c.lru.Add(id, &entry{state: cs, lastTouch: lastTouch})
	c.l3.Put(context.Background(), id, cs)
	return cs
}

// Put seeds the cache with a freshly-discovered pool's initial state,
// satisfying discovery.StateWriter. touched is threaded straight through
// rather than forced false, since discovery observed this pool via an
// on-chain creation event — an activity signal, same as a swap/mint/burn.
func (c *Cache) Put(id chainmodel.Identity, s *chainmodel.State, touched bool) {
	if s == nil {
		return
	}
	cs := c.mergeHashInvalidated(id, s)
	if touched && !cs.Touched {
		c.MarkTouched(id, s.ObservedAtBlock)
	}
}

// MarkTouched flags id as touched (e.g. a swap/mint/burn log was observed
// for it), shortening its TTL to T_hot until the touched flag decays.
func (c *Cache) MarkTouched(id chainmodel.Identity, atBlock uint64) {
	if e, ok := c.lru.Get(id); ok {
		e.state.Touched = true
		e.lastTouch = atBlock
		c.lru.Add(id, e)
	}
}

// DecayTouched clears the touched flag for any entry whose last touch is
// more than T_touched_decay blocks behind currentBlock. Called once per
// processed block by the orchestrator.
func (c *Cache) DecayTouched(currentBlock uint64) {
	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Get(id)
		if !ok || !e.state.Touched {
			continue
		}
		if currentBlock > e.lastTouch && currentBlock-e.lastTouch > c.cfg.TouchedDecayBlocks {
			e.state.Touched = false
			c.lru.Add(id, e)
		}
	}
}
