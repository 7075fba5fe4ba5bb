package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/dexadapter"
	"github.com/luxfi/dexgraph/internal/hotpool"
	"github.com/luxfi/dexgraph/internal/statecache"
)

// TestScenarioConstantProductWeight reproduces the literal end-to-end
// scenario: reserve_a = 10^18 * 5 (5 units of an 18-decimal token at
// 2.0 USD) and reserve_b = 10^6 * 10000 (10000 units of a 6-decimal token
// at 1.0 USD). Expected weight_usd = 5*2 + 10000*1 = 10010.0.
func TestScenarioConstantProductWeight(t *testing.T) {
	reserveA := new(uint256.Int).Mul(uint256.NewInt(5), uint256.NewInt(1_000_000_000_000_000_000))
	reserveB := new(uint256.Int).Mul(uint256.NewInt(10000), uint256.NewInt(1_000_000))

	w, ok := ConstantProductWeightUSD(reserveA, reserveB, 2.0, 1.0, 18, 6)
	require.True(t, ok)
	require.InDelta(t, 10010.0, w, 1e-6)
}

// TestScenarioMissingPriceSkip reproduces the literal end-to-end scenario:
// a pool with tokens {A, B}, price(A) resolvable and price(B) missing.
// Expected: no weight is produced, and the pool's previous weight (if any)
// is left untouched rather than zeroed.
func TestScenarioMissingPriceSkip(t *testing.T) {
	e, id := newTestEngine(t, 1000, 1000)
	e.weights[id] = chainmodel.Weight{Identity: id, WeightUSD: 4242}

	e.prices = &fakePrices{prices: map[common.Address]float64{tokenA: 2.0}} // tokenB missing

	err := e.IncrementalUpdate(context.Background(), []chainmodel.Identity{id})
	require.NoError(t, err)

	after, ok := e.Snapshot(id)
	require.True(t, ok)
	require.Equal(t, 4242.0, after.WeightUSD, "a missing price must skip the update, not zero the weight")
}

// newMultiPoolTestEngine builds an engine with n active, valid pools all
// served by the same fake adapter, for scenarios that need more than one
// pool to assert cross-pool invariants.
func newMultiPoolTestEngine(t *testing.T, n int) (*Engine, []chainmodel.Identity) {
	t.Helper()
	metas := make(map[chainmodel.Identity]*chainmodel.Meta, n)
	ids := make([]chainmodel.Identity, 0, n)
	for i := 0; i < n; i++ {
		addr := common.HexToAddress(fmt.Sprintf("0x%040x", i+1000))
		id := chainmodel.Identity{ChainID: 1, Address: addr}
		metas[id] = &chainmodel.Meta{
			Identity: id,
			DexTag:   "fake-graph",
			Protocol: chainmodel.ProtocolConstantProduct,
			Tokens:   []common.Address{tokenA, tokenB},
			Valid:    true,
			Active:   true,
		}
		ids = append(ids, id)
	}
	metaStore := &fakeMetaStore{metas: metas}

	registry := dexadapter.NewRegistry()
	registry.Register("fake-graph", &fakeGraphAdapter{reserveA: 1e18, reserveB: 1e18})

	cache := statecache.New(statecache.Config{
		FuzzyBlockTolerance: 3,
		TTLHot:              30 * time.Second,
		TTLCold:             300 * time.Second,
	}, metaStore, registry, nil, nil)

	prices := &fakePrices{prices: map[common.Address]float64{tokenA: 2.0, tokenB: 1.0}}
	hot := hotpool.NewManager(hotpool.Config{KHot: n, WHotMin: 1}, cache)

	e := New(Config{MaxReasonableWeightUSD: 1e13}, metaStore, cache, prices, fakeDecimals{}, hot, nil, nil, nil)
	return e, ids
}

// TestScenarioFullRefreshIntegrity reproduces the literal end-to-end
// scenario: 10 pools active and valid, all with fresh states and prices.
// Expected: all 10 graph_weights rows share the same last_computed_block
// (the tip observed by the refresh), and the HotSet holds min(10, KHot).
func TestScenarioFullRefreshIntegrity(t *testing.T) {
	e, ids := newMultiPoolTestEngine(t, 10)
	store := &fakeWeightStore{}
	e.store = store

	err := e.FullRefresh(context.Background())
	require.NoError(t, err)
	require.Len(t, store.saved, 10)

	tip := store.saved[0].LastComputedBlock
	for _, w := range store.saved {
		require.Equal(t, tip, w.LastComputedBlock)
	}

	hotCount := 0
	for _, id := range ids {
		if e.hot.Contains(id) {
			hotCount++
		}
	}
	require.Equal(t, 10, hotCount, "KHot=10 configured in newMultiPoolTestEngine, so all 10 must be admitted")
}
