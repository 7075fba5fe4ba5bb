// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/hotpool"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/statecache"
)

// PriceLookup resolves a token's USD price. Mirrors validator.PriceLookup;
// declared separately to avoid pulling in the validator package here.
type PriceLookup interface {
	USD(ctx context.Context, token common.Address) (float64, bool)
}

// DecimalsLookup resolves a token's on-chain decimals, used to normalize
// raw integer reserves/balances into human units before pricing.
type DecimalsLookup interface {
	Decimals(ctx context.Context, token common.Address) (int, bool)
}

// MetaLookup exposes validated pool metadata by identity.
type MetaLookup interface {
	Get(id chainmodel.Identity) (*chainmodel.Meta, bool)
	All() []*chainmodel.Meta
}

// WeightStore persists the current identity -> weight_usd mapping
// (spec.md §4.7: "a single transactional update ... no per-pool RPC").
type WeightStore interface {
	UpsertWeights(ctx context.Context, weights []chainmodel.Weight) error
	LoadWeights(ctx context.Context) ([]chainmodel.Weight, error)
}

// ActiveSetter flips a pool's is_active flag via the transactional update
// spec.md §4.7 requires, independent of a full metadata rewrite.
type ActiveSetter interface {
	SetPoolActive(id chainmodel.Identity, active bool)
}

// WeightRecorder receives notice of a pool whose weight could not be
// computed for want of a price, declared locally to avoid importing the
// recorder package directly (same pattern as statecache.CacheRecorder).
type WeightRecorder interface {
	PriceMissing(dexTag string, id chainmodel.Identity, token common.Address)
}

type noopWeightRecorder struct{}

func (noopWeightRecorder) PriceMissing(string, chainmodel.Identity, common.Address) {}

// Config tunes the engine (spec.md §6 "graph.*").
type Config struct {
	MaxReasonableWeightUSD float64
	PriceFetchChunkSize    int
	Parallelism            int
	// WHotMin is the persisted-weight floor above which a reactivated pool
	// is marked is_active during priming (spec.md §4.7).
	WHotMin float64
}

// Engine is the weight computation and mapping layer (spec.md §4.7). It
// owns the authoritative concurrent identity -> PoolWeight map; the
// hot-pool manager and scheduler both read through it, never duplicating
// state.
type Engine struct {
	cfg       Config
	meta      MetaLookup
	cache     *statecache.Cache
	prices    PriceLookup
	decimals  DecimalsLookup
	hot       *hotpool.Manager
	store     WeightStore
	active    ActiveSetter
	rec       WeightRecorder
	log       logging.Logger

	mu      sync.RWMutex
	weights map[chainmodel.Identity]chainmodel.Weight
}

// New constructs a weight engine. active and rec may both be nil.
func New(cfg Config, meta MetaLookup, cache *statecache.Cache, prices PriceLookup, decimals DecimalsLookup, hot *hotpool.Manager, store WeightStore, active ActiveSetter, rec WeightRecorder) *Engine {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.PriceFetchChunkSize <= 0 {
		cfg.PriceFetchChunkSize = 20
	}
	if cfg.MaxReasonableWeightUSD <= 0 {
		cfg.MaxReasonableWeightUSD = 1e13
	}
	if rec == nil {
		rec = noopWeightRecorder{}
	}
	return &Engine{
		cfg:      cfg,
		meta:     meta,
		cache:    cache,
		prices:   prices,
		decimals: decimals,
		hot:      hot,
		store:    store,
		active:   active,
		rec:      rec,
		log:      logging.Component("graph"),
		weights:  make(map[chainmodel.Identity]chainmodel.Weight),
	}
}

// Snapshot returns the current weight for id, if known.
func (e *Engine) Snapshot(id chainmodel.Identity) (chainmodel.Weight, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w, ok := e.weights[id]
	return w, ok
}

// All returns every currently-known weight, unordered.
func (e *Engine) All() []chainmodel.Weight {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]chainmodel.Weight, 0, len(e.weights))
	for _, w := range e.weights {
		out = append(out, w)
	}
	return out
}

// IncrementalUpdate recomputes weight for exactly the given identities
// (spec.md §4.7's "Incremental update" mode): cost scales with
// len(identities), used after discovery admits new pools or the hot-pool
// refresh loop observes new state.
func (e *Engine) IncrementalUpdate(ctx context.Context, identities []chainmodel.Identity) error {
	if len(identities) == 0 {
		return nil
	}
	results := e.cache.GetBatch(ctx, identities, 0)
	for _, id := range identities {
		res, ok := results[id]
		if !ok || res.Quality == chainmodel.QualityCorrupt {
			continue
		}
		e.recompute(ctx, id, res)
	}
	return nil
}

// FullRefresh recomputes every known pool's weight (spec.md §4.7's
// "Full refresh" mode): chunked parallel price fetches, multicall-batched
// state fetches, bounded by Parallelism.
func (e *Engine) FullRefresh(ctx context.Context) error {
	metas := e.meta.All()
	ids := make([]chainmodel.Identity, 0, len(metas))
	for _, m := range metas {
		if m.Valid && m.Active {
			ids = append(ids, m.Identity)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	chunk := e.cfg.PriceFetchChunkSize
	for i := 0; i < len(ids); i += chunk {
		end := i + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]
		g.Go(func() error {
			results := e.cache.GetBatch(gctx, batch, 0)
			for _, id := range batch {
				res, ok := results[id]
				if !ok || res.Quality == chainmodel.QualityCorrupt {
					continue
				}
				e.recompute(gctx, id, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("graph: full refresh: %w", err)
	}

	if e.store != nil {
		if err := e.store.UpsertWeights(ctx, e.All()); err != nil {
			return fmt.Errorf("graph: persist weights: %w", err)
		}
	}
	return nil
}

// recompute derives a weight from a cached state and writes it into the
// in-process map, offering it to the hot-pool manager. A pool whose price
// dependencies are missing, or whose computed weight is non-finite, is
// skipped entirely rather than written as zero (spec.md §4.7: "non-finite
// results must never silently become a zero weight").
func (e *Engine) recompute(ctx context.Context, id chainmodel.Identity, res statecache.Result) {
	meta, ok := e.meta.Get(id)
	if !ok || res.State.State == nil {
		return
	}
	w, ok := e.toUSD(ctx, meta, res.State.State)
	if !ok {
		e.log.Warn("skipping non-finite or unpriceable weight", "identity", id, "dex", meta.DexTag)
		return
	}

	weight := chainmodel.Weight{
		Identity:          id,
		WeightUSD:         w,
		LastComputedBlock: res.State.ObservedBlock,
		LastUpdatedAt:      res.State.ObservedAt,
	}
	e.mu.Lock()
	e.weights[id] = weight
	e.mu.Unlock()

	if e.hot != nil {
		e.hot.Consider(id, w, res.State.State, res.Quality)
	}
}

// toUSD dispatches to the protocol-specific formula and applies the clamp
// + logging contract from spec.md §4.7's numeric semantics.
func (e *Engine) toUSD(ctx context.Context, meta *chainmodel.Meta, st *chainmodel.State) (float64, bool) {
	w, ok := e.computeRaw(ctx, meta, st)
	if !ok {
		return 0, false
	}
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, false
	}
	if w < 0 {
		w = 0
	}
	if w > e.cfg.MaxReasonableWeightUSD {
		e.log.Warn("clamping weight to max reasonable ceiling", "identity", meta.Identity, "raw_usd", w, "ceiling", e.cfg.MaxReasonableWeightUSD)
		w = e.cfg.MaxReasonableWeightUSD
	}
	return w, true
}

func (e *Engine) computeRaw(ctx context.Context, meta *chainmodel.Meta, st *chainmodel.State) (float64, bool) {
	switch st.Kind {
	case chainmodel.ProtocolConstantProduct, chainmodel.ProtocolConcentratedLiquidity:
		tokenA, tokenB, ok := meta.TokenPair()
		if !ok {
			return 0, false
		}
		priceA, okA := e.prices.USD(ctx, tokenA)
		priceB, okB := e.prices.USD(ctx, tokenB)
		if !okA {
			e.rec.PriceMissing(meta.DexTag, meta.Identity, tokenA)
		}
		if !okB {
			e.rec.PriceMissing(meta.DexTag, meta.Identity, tokenB)
		}
		if !okA || !okB {
			return 0, false
		}
		decA := e.decimalsOf(ctx, tokenA)
		decB := e.decimalsOf(ctx, tokenB)

		if st.Kind == chainmodel.ProtocolConstantProduct {
			return ConstantProductWeightUSD(st.ReserveA, st.ReserveB, priceA, priceB, decA, decB)
		}
		return ConcentratedLiquidityWeightUSD(st.SqrtPriceX96, st.Liquidity, priceA, priceB, decA, decB)

	case chainmodel.ProtocolWeighted, chainmodel.ProtocolStableSwap:
		if len(meta.Tokens) != len(st.Balances) {
			return 0, false
		}
		prices := make([]float64, len(meta.Tokens))
		decimals := make([]int, len(meta.Tokens))
		for i, tok := range meta.Tokens {
			p, ok := e.prices.USD(ctx, tok)
			if !ok {
				e.rec.PriceMissing(meta.DexTag, meta.Identity, tok)
				return 0, false
			}
			prices[i] = p
			decimals[i] = e.decimalsOf(ctx, tok)
		}
		return MultiTokenWeightUSD(st.Balances, prices, decimals)

	default:
		return 0, false
	}
}

func (e *Engine) decimalsOf(ctx context.Context, token common.Address) int {
	if e.decimals == nil {
		return 18
	}
	if d, ok := e.decimals.Decimals(ctx, token); ok {
		return d
	}
	return 18
}
