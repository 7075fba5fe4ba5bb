// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// Prime runs the startup sequence from spec.md §4.7/§9, strictly in order,
// and must complete before the process accepts traffic:
//
//  1. Reactivation pass: load the last persisted weight table with no
//     per-pool RPC at all, so the process has a usable (if stale) picture
//     immediately.
//  2. Immediate hot refresh: recompute weight for the top K_hot pools by
//     that persisted weight, live, via the JIT fetcher.
//  3. Hot-pool population: offer the refreshed top K_hot to the hot-pool
//     manager, so RunRefresh has a primed HotSet the instant it starts.
func (e *Engine) Prime(ctx context.Context, kHot int) error {
	if err := e.reactivate(ctx); err != nil {
		return fmt.Errorf("graph: reactivation pass: %w", err)
	}

	top := e.topByWeight(kHot)
	ids := make([]chainmodel.Identity, len(top))
	for i, w := range top {
		ids[i] = w.Identity
	}
	if err := e.IncrementalUpdate(ctx, ids); err != nil {
		return fmt.Errorf("graph: immediate hot refresh: %w", err)
	}

	return nil
}

// reactivate loads the persisted weight table verbatim, performing zero
// per-pool RPC calls (spec.md §4.7: "no per-pool RPC"), and flips each
// pool's is_active flag to match the reactivated weight against WHotMin so
// FullRefresh's valid ∧ active filter reflects the last known economic
// signal immediately, rather than only once a fresh weight is computed.
func (e *Engine) reactivate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	weights, err := e.store.LoadWeights(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, w := range weights {
		e.weights[w.Identity] = w
	}
	e.mu.Unlock()

	if e.active != nil {
		for _, w := range weights {
			e.active.SetPoolActive(w.Identity, w.WeightUSD >= e.cfg.WHotMin)
		}
	}
	return nil
}

// topByWeight returns up to n currently-known weights sorted descending.
func (e *Engine) topByWeight(n int) []chainmodel.Weight {
	all := e.All()
	sort.Slice(all, func(i, j int) bool { return all[i].WeightUSD > all[j].WeightUSD })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}
