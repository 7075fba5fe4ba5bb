// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package priceusd is the USD price facade (spec.md §4.8): a
// priority-ordered fallback chain over on-chain oracle reads, pool-derived
// prices, off-chain HTTP feeds, and hard-coded stable-peg identities, with
// a single shared cache carrying explicit freshness metadata. A source
// returning 0.0 is never cached and never treated as resolved — the only
// valid outcomes are a positive price or Missing.
package priceusd

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/dexgraph/internal/logging"
)

// Source is one fallback tier. Implementations live in the onchainoracle,
// poolderived, httpfeed, and stablepeg sub-packages; Facade holds them as
// this interface to stay source-agnostic and avoid an import cycle (the
// sub-packages never import priceusd).
type Source interface {
	Name() string
	Price(ctx context.Context, token common.Address) (float64, bool)
}

// Quote is one resolved price with its provenance, per spec.md §4.8's
// get_prices contract.
type Quote struct {
	PriceUSD float64
	Source   string
	AgeMs    int64
}

type cached struct {
	quote     Quote
	fetchedAt time.Time
}

// Config tunes the facade (spec.md §6 "prices.*").
type Config struct {
	AnchorTokens   []common.Address
	CriticalTokens []common.Address
	RefreshPeriod  time.Duration
}

// Facade composes Sources in priority order and caches resolved quotes.
type Facade struct {
	cfg     Config
	sources []Source
	log     logging.Logger

	mu    sync.RWMutex
	cache map[common.Address]cached

	failuresMu sync.Mutex
	failures   map[common.Address]int
}

// New builds a Facade trying sources in the given priority order (lowest
// index first): on-chain oracle, pool-derived, HTTP feed, stable-peg.
func New(cfg Config, sources ...Source) *Facade {
	return &Facade{
		cfg:      cfg,
		sources:  sources,
		log:      logging.Component("priceusd"),
		cache:    make(map[common.Address]cached),
		failures: make(map[common.Address]int),
	}
}

// USD resolves a single token's price. It satisfies both
// validator.PriceLookup and graph.PriceLookup structurally.
func (f *Facade) USD(ctx context.Context, token common.Address) (float64, bool) {
	prices := f.GetPrices(ctx, []common.Address{token})
	q, ok := prices[token]
	if !ok {
		return 0, false
	}
	return q.PriceUSD, true
}

// GetPrices resolves every token in tokens, trying each configured source
// in order until one returns a usable (non-zero) price. A token with no
// resolvable source is simply absent from the result map — that absence
// IS the Missing marker (spec.md §4.8).
func (f *Facade) GetPrices(ctx context.Context, tokens []common.Address) map[common.Address]Quote {
	out := make(map[common.Address]Quote, len(tokens))
	for _, token := range tokens {
		if q, ok := f.cachedQuote(token); ok {
			out[token] = q
			continue
		}
		q, ok := f.resolve(ctx, token)
		if !ok {
			continue
		}
		out[token] = q
	}
	return out
}

func (f *Facade) cachedQuote(token common.Address) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.cache[token]
	if !ok {
		return Quote{}, false
	}
	q := c.quote
	q.AgeMs = time.Since(c.fetchedAt).Milliseconds()
	return q, true
}

func (f *Facade) resolve(ctx context.Context, token common.Address) (Quote, bool) {
	for _, src := range f.sources {
		price, ok := src.Price(ctx, token)
		if !ok || price <= 0 {
			// A source reporting exactly 0.0 (or an error) falls through
			// to the next source; it is never cached as valid.
			continue
		}
		q := Quote{PriceUSD: price, Source: src.Name(), AgeMs: 0}
		f.mu.Lock()
		f.cache[token] = cached{quote: q, fetchedAt: time.Now()}
		f.mu.Unlock()
		f.resetFailures(token)
		return q, true
	}
	f.recordFailure(token)
	return Quote{}, false
}

func (f *Facade) recordFailure(token common.Address) {
	f.failuresMu.Lock()
	defer f.failuresMu.Unlock()
	f.failures[token]++
}

func (f *Facade) resetFailures(token common.Address) {
	f.failuresMu.Lock()
	defer f.failuresMu.Unlock()
	delete(f.failures, token)
}

// ConsecutiveFailures reports how many uncached lookups of token in a row
// (from any caller, not only the critical refresh) have failed to resolve
// it, for alerting (spec.md §4.8's "records consecutive
// failure counts").
func (f *Facade) ConsecutiveFailures(token common.Address) int {
	f.failuresMu.Lock()
	defer f.failuresMu.Unlock()
	return f.failures[token]
}

// WarmUp synchronously prices the anchor set at startup (spec.md §4.8:
// "at startup, the façade synchronously prices the anchor set"), so every
// downstream consumer has anchor prices available before traffic begins.
func (f *Facade) WarmUp(ctx context.Context) {
	if len(f.cfg.AnchorTokens) == 0 {
		return
	}
	f.GetPrices(ctx, f.cfg.AnchorTokens)
}

// RunCriticalRefresh periodically re-resolves the configured critical
// token set in the background, independent of the hot path (spec.md
// §4.8). It runs until ctx is canceled.
func (f *Facade) RunCriticalRefresh(ctx context.Context) {
	if len(f.cfg.CriticalTokens) == 0 {
		return
	}
	period := f.cfg.RefreshPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.invalidate(f.cfg.CriticalTokens)
			prices := f.GetPrices(ctx, f.cfg.CriticalTokens)
			for _, token := range f.cfg.CriticalTokens {
				if _, ok := prices[token]; !ok {
					f.log.Warn("critical token price unresolved", "token", token, "consecutive_failures", f.ConsecutiveFailures(token))
				}
			}
		}
	}
}

// invalidate drops cached quotes so the next GetPrices call re-resolves
// them live, rather than serving a quote from before this refresh tick.
func (f *Facade) invalidate(tokens []common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tokens {
		delete(f.cache, t)
	}
}
