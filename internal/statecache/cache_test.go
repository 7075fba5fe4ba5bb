package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/dexadapter"
)

type fakeMetaLookup struct {
	metas map[chainmodel.Identity]*chainmodel.Meta
}

func (f *fakeMetaLookup) Get(id chainmodel.Identity) (*chainmodel.Meta, bool) {
	m, ok := f.metas[id]
	return m, ok
}

type fakeAdapter struct {
	reserve uint64
	calls   int
}

func (a *fakeAdapter) Name() string                 { return "fake" }
func (a *fakeAdapter) Protocol() chainmodel.Protocol { return chainmodel.ProtocolConstantProduct }
func (a *fakeAdapter) BytecodeCheckRequired() bool   { return false }
func (a *fakeAdapter) Discover(ctx context.Context, from, to uint64, chunk, parallelism int) ([]*chainmodel.Meta, error) {
	return nil, nil
}
func (a *fakeAdapter) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	a.calls++
	states := make(map[chainmodel.Identity]*chainmodel.State, len(metas))
	for _, m := range metas {
		states[m.Identity] = &chainmodel.State{
			Kind:            chainmodel.ProtocolConstantProduct,
			ReserveA:        uint256.NewInt(a.reserve),
			ReserveB:        uint256.NewInt(a.reserve),
			ObservedAtBlock: 100,
		}
	}
	return states, nil
}

func newTestCache(t *testing.T, reserve uint64) (*Cache, *fakeAdapter, chainmodel.Identity) {
	id := chainmodel.Identity{ChainID: 1, Address: common.HexToAddress("0x01")}
	meta := &chainmodel.Meta{Identity: id, DexTag: "fake"}
	registry := dexadapter.NewRegistry()
	adapter := &fakeAdapter{reserve: reserve}
	registry.Register("fake", adapter)
	cache := New(Config{
		FuzzyBlockTolerance: 3,
		TTLHot:              30 * time.Second,
		TTLCold:             300 * time.Second,
		TouchedDecayBlocks:  2,
	}, &fakeMetaLookup{metas: map[chainmodel.Identity]*chainmodel.Meta{id: meta}}, registry, nil, nil)
	return cache, adapter, id
}

func TestCacheMissFetchesAndCaches(t *testing.T) {
	cache, adapter, id := newTestCache(t, 1000)
	cs, q, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)
	require.Equal(t, chainmodel.QualityFresh, q)
	require.Equal(t, uint64(100), cs.ObservedBlock)
	require.Equal(t, 1, adapter.calls)
}

func TestCacheHitWithinFuzzyToleranceSkipsFetch(t *testing.T) {
	cache, adapter, id := newTestCache(t, 1000)
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.calls)

	cs, q, err := cache.Get(context.Background(), id, 102)
	require.NoError(t, err)
	require.Equal(t, chainmodel.QualityFresh, q)
	require.Equal(t, 1, adapter.calls, "within ΔB=3 tolerance must not trigger a new fetch")
	_ = cs
}

func TestCacheMissOutsideFuzzyToleranceRefetches(t *testing.T) {
	cache, adapter, id := newTestCache(t, 1000)
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)

	_, _, err = cache.Get(context.Background(), id, 104)
	require.NoError(t, err)
	require.Equal(t, 2, adapter.calls, "ΔB=4 exceeds tolerance of 3, must refetch")
}

func TestCacheHashUnchangedOnlyRefreshesTimestamp(t *testing.T) {
	cache, adapter, id := newTestCache(t, 1000)
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)
	first, ok := cache.lru.Get(id)
	require.True(t, ok)
	firstHash := first.state.StateHash

	_, _, err = cache.Get(context.Background(), id, 104)
	require.NoError(t, err)
	require.Equal(t, 2, adapter.calls)
	second, ok := cache.lru.Get(id)
	require.True(t, ok)
	require.Equal(t, firstHash, second.state.StateHash, "same reserves must produce the same hash")
}

func TestCacheHashChangedReplacesEntry(t *testing.T) {
	cache, _, id := newTestCache(t, 1000)
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)
	first, _ := cache.lru.Get(id)
	firstHash := first.state.StateHash

	cache.adapters.MustGet("fake").(*fakeAdapter).reserve = 2000
	_, _, err = cache.Get(context.Background(), id, 104)
	require.NoError(t, err)
	second, _ := cache.lru.Get(id)
	require.NotEqual(t, firstHash, second.state.StateHash)
}

func TestMarkTouchedShortensTTL(t *testing.T) {
	cache, _, id := newTestCache(t, 1000)
	cache.cfg.TTLHot = 0
	cache.cfg.TTLCold = time.Hour
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)

	cache.MarkTouched(id, 100)
	e, ok := cache.lru.Get(id)
	require.True(t, ok)
	require.True(t, e.state.Touched)
	require.Equal(t, chainmodel.QualityStale, cache.classify(e, 100), "zero TTLHot on a touched entry must be immediately stale")
}

func TestDecayTouchedClearsFlagAfterWindow(t *testing.T) {
	cache, _, id := newTestCache(t, 1000)
	cache.cfg.TouchedDecayBlocks = 2
	_, _, err := cache.Get(context.Background(), id, 100)
	require.NoError(t, err)
	cache.MarkTouched(id, 100)

	cache.DecayTouched(101)
	e, _ := cache.lru.Get(id)
	require.True(t, e.state.Touched, "decay window not yet elapsed")

	cache.DecayTouched(103)
	e, _ = cache.lru.Get(id)
	require.False(t, e.state.Touched, "decay window elapsed, touched flag should clear")
}

func TestGetBatchReportsCorruptOnFetchErrorWithNoCachedState(t *testing.T) {
	id := chainmodel.Identity{ChainID: 1, Address: common.HexToAddress("0x02")}
	registry := dexadapter.NewRegistry()
	cache := New(Config{FuzzyBlockTolerance: 3, TTLHot: time.Second, TTLCold: time.Second}, &fakeMetaLookup{metas: map[chainmodel.Identity]*chainmodel.Meta{}}, registry, nil, nil)
	results := cache.GetBatch(context.Background(), []chainmodel.Identity{id}, 100)
	require.Contains(t, results, id)
	require.Equal(t, chainmodel.QualityCorrupt, results[id].Quality)
}

func TestPutSeedsCacheAsTouchedForDiscoveredPool(t *testing.T) {
	cache, _, id := newTestCache(t, 500)
	st := &chainmodel.State{
		Kind:            chainmodel.ProtocolConstantProduct,
		ReserveA:        uint256.NewInt(1),
		ReserveB:        uint256.NewInt(1),
		ObservedAtBlock: 50,
	}
	cache.Put(id, st, true)
	e, ok := cache.lru.Get(id)
	require.True(t, ok)
	require.True(t, e.state.Touched)
	require.Equal(t, uint64(50), e.state.ObservedBlock)
}
