package priceusd

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeSource struct {
	name   string
	prices map[common.Address]float64
	calls  int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Price(ctx context.Context, token common.Address) (float64, bool) {
	f.calls++
	p, ok := f.prices[token]
	return p, ok
}

func TestGetPricesTriesSourcesInPriorityOrder(t *testing.T) {
	primary := &fakeSource{name: "primary", prices: map[common.Address]float64{}}
	fallback := &fakeSource{name: "fallback", prices: map[common.Address]float64{tokenA: 2.5}}
	f := New(Config{}, primary, fallback)

	prices := f.GetPrices(context.Background(), []common.Address{tokenA})
	require.Contains(t, prices, tokenA)
	require.Equal(t, 2.5, prices[tokenA].PriceUSD)
	require.Equal(t, "fallback", prices[tokenA].Source)
}

func TestGetPricesNeverCachesZero(t *testing.T) {
	zero := &fakeSource{name: "zero", prices: map[common.Address]float64{tokenA: 0}}
	f := New(Config{}, zero)
	prices := f.GetPrices(context.Background(), []common.Address{tokenA})
	require.NotContains(t, prices, tokenA)
}

func TestGetPricesMissingTokenIsAbsent(t *testing.T) {
	src := &fakeSource{name: "src", prices: map[common.Address]float64{}}
	f := New(Config{}, src)
	prices := f.GetPrices(context.Background(), []common.Address{tokenA})
	require.NotContains(t, prices, tokenA)
}

func TestGetPricesCachesResolvedQuote(t *testing.T) {
	src := &fakeSource{name: "src", prices: map[common.Address]float64{tokenA: 3.0}}
	f := New(Config{}, src)
	_ = f.GetPrices(context.Background(), []common.Address{tokenA})
	_ = f.GetPrices(context.Background(), []common.Address{tokenA})
	require.Equal(t, 1, src.calls, "second lookup must be served from cache")
}

func TestUSDDelegatesToGetPrices(t *testing.T) {
	src := &fakeSource{name: "src", prices: map[common.Address]float64{tokenA: 4.0}}
	f := New(Config{}, src)
	price, ok := f.USD(context.Background(), tokenA)
	require.True(t, ok)
	require.Equal(t, 4.0, price)
}

func TestConsecutiveFailuresTracksUnresolvedToken(t *testing.T) {
	src := &fakeSource{name: "src", prices: map[common.Address]float64{}}
	f := New(Config{}, src)
	f.GetPrices(context.Background(), []common.Address{tokenA})
	f.GetPrices(context.Background(), []common.Address{tokenA})
	require.Equal(t, 2, f.ConsecutiveFailures(tokenA))
}

func TestWarmUpPricesAnchorSet(t *testing.T) {
	src := &fakeSource{name: "src", prices: map[common.Address]float64{tokenA: 1.0}}
	f := New(Config{AnchorTokens: []common.Address{tokenA}}, src)
	f.WarmUp(context.Background())
	_, ok := f.cachedQuote(tokenA)
	require.True(t, ok)
}
