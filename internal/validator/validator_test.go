package validator

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

type fixedPrices map[common.Address]float64

func (p fixedPrices) USD(ctx context.Context, token common.Address) (float64, bool) {
	v, ok := p[token]
	return v, ok
}

func allowAllBytecode() BytecodeLister { return NewStaticBytecodeList(nil) }

func testMeta(tokens ...common.Address) *chainmodel.Meta {
	return &chainmodel.Meta{
		Identity: chainmodel.Identity{ChainID: 1, Address: common.HexToAddress("0xaaaa")},
		Tokens:   tokens,
		Status:   chainmodel.StatusDiscovered,
	}
}

func TestValidateRejectsFewerThanTwoTokens(t *testing.T) {
	v := NewValidator(Config{MinLiquidityUSD: 1000}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(common.HexToAddress("0x01"))
	out := v.Validate(context.Background(), m, nil, false, fixedPrices{})
	require.Equal(t, ResultRejected, out.Status)
}

func TestValidateRejectsDuplicateTokens(t *testing.T) {
	v := NewValidator(Config{MinLiquidityUSD: 1000}, nil, allowAllBytecode(), NewShardedMap())
	tok := common.HexToAddress("0x01")
	m := testMeta(tok, tok)
	out := v.Validate(context.Background(), m, nil, false, fixedPrices{})
	require.Equal(t, ResultRejected, out.Status)
}

func TestValidateRejectsNoAnchorToken(t *testing.T) {
	anchors := map[common.Address]struct{}{common.HexToAddress("0x1111111111111111111111111111111111111111"): {}}
	v := NewValidator(Config{MinLiquidityUSD: 1000, AnchorTokens: anchors}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	state := &chainmodel.State{
		Kind:     chainmodel.ProtocolConstantProduct,
		ReserveA: uint256.NewInt(1000),
		ReserveB: uint256.NewInt(1000),
	}
	out := v.Validate(context.Background(), m, state, false, fixedPrices{})
	require.Equal(t, ResultRejected, out.Status)
	require.Contains(t, out.Reason, "anchor")
}

func TestValidateAcceptsLiquidityAboveFloor(t *testing.T) {
	weth := common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc := common.HexToAddress("0x2222222222222222222222222222222222222222")
	anchors := map[common.Address]struct{}{weth: {}}
	v := NewValidator(Config{MinLiquidityUSD: 1000, AnchorTokens: anchors}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(weth, usdc)
	state := &chainmodel.State{
		Kind:     chainmodel.ProtocolConstantProduct,
		ReserveA: uint256.NewInt(10),
		ReserveB: uint256.NewInt(5000),
	}
	prices := fixedPrices{weth: 2000, usdc: 1}
	out := v.Validate(context.Background(), m, state, false, prices)
	require.Equal(t, ResultValid, out.Status)
}

func TestValidateRejectsBelowLiquidityFloor(t *testing.T) {
	weth := common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc := common.HexToAddress("0x2222222222222222222222222222222222222222")
	anchors := map[common.Address]struct{}{weth: {}}
	v := NewValidator(Config{MinLiquidityUSD: 100000, AnchorTokens: anchors}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(weth, usdc)
	state := &chainmodel.State{
		Kind:     chainmodel.ProtocolConstantProduct,
		ReserveA: uint256.NewInt(1),
		ReserveB: uint256.NewInt(1),
	}
	prices := fixedPrices{weth: 2000, usdc: 1}
	out := v.Validate(context.Background(), m, state, false, prices)
	require.Equal(t, ResultRejected, out.Status)
}

func TestValidateRejectsAllZeroBalances(t *testing.T) {
	weth := common.HexToAddress("0x1111111111111111111111111111111111111111")
	usdc := common.HexToAddress("0x2222222222222222222222222222222222222222")
	anchors := map[common.Address]struct{}{weth: {}}
	v := NewValidator(Config{MinLiquidityUSD: 0, AnchorTokens: anchors}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(weth, usdc)
	state := &chainmodel.State{
		Kind:     chainmodel.ProtocolConstantProduct,
		ReserveA: uint256.NewInt(0),
		ReserveB: uint256.NewInt(0),
	}
	out := v.Validate(context.Background(), m, state, false, fixedPrices{weth: 2000, usdc: 1})
	require.Equal(t, ResultRejected, out.Status)
	require.Contains(t, out.Reason, "zero")
}

func TestValidateBlacklistsAfterRepeatedFailures(t *testing.T) {
	bl := NewShardedMap()
	v := NewValidator(Config{MinLiquidityUSD: 1000}, nil, allowAllBytecode(), bl)
	m := testMeta(common.HexToAddress("0x01")) // fewer than two tokens -> always rejected

	var out Outcome
	for i := 0; i < maxValidationFailures; i++ {
		out = v.Validate(context.Background(), m, nil, false, fixedPrices{})
	}
	require.Equal(t, ResultBlacklisted, out.Status)
	require.True(t, bl.IsBlacklisted(m.Identity))
}

func TestValidateSkipsAlreadyBlacklisted(t *testing.T) {
	bl := NewShardedMap()
	m := testMeta(common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	bl.Blacklist(m.Identity, "manual")
	v := NewValidator(Config{MinLiquidityUSD: 0}, nil, allowAllBytecode(), bl)
	out := v.Validate(context.Background(), m, nil, false, fixedPrices{})
	require.Equal(t, ResultBlacklisted, out.Status)
}

func TestCheckBytecodeServesFromCacheWithoutTouchingPool(t *testing.T) {
	v := NewValidator(Config{}, nil, allowAllBytecode(), NewShardedMap())
	m := testMeta(common.HexToAddress("0x01"), common.HexToAddress("0x02"))

	code := []byte{0x60, 0x80, 0x60, 0x40}
	v.codeCache.Set(m.Identity.Address.Bytes(), code)

	// pool is nil: a cache miss here would panic, so reaching a verdict at
	// all proves checkBytecode never called v.pool.GetCode.
	out, ok := v.checkBytecode(context.Background(), m)
	require.True(t, ok)
	require.Equal(t, Outcome{}, out)
}

func TestCheckBytecodeRejectsHashNotOnWhitelist(t *testing.T) {
	unrelatedHash := codeHash([]byte{0xde, 0xad, 0xbe, 0xef})
	strictList := NewStaticBytecodeList([]string{hex.EncodeToString(unrelatedHash[:])})
	v := NewValidator(Config{}, nil, strictList, NewShardedMap())
	m := testMeta(common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	v.codeCache.Set(m.Identity.Address.Bytes(), []byte{0x01, 0x02, 0x03})

	out, ok := v.checkBytecode(context.Background(), m)
	require.False(t, ok)
	require.Equal(t, ResultRejected, out.Status)
}

func TestShardedMapReinstateResetsFailures(t *testing.T) {
	bl := NewShardedMap()
	id := chainmodel.Identity{ChainID: 1, Address: common.HexToAddress("0x01")}
	bl.RecordFailure(id, "x")
	bl.RecordFailure(id, "x")
	require.Equal(t, 2, bl.Failures(id))
	bl.Reinstate(id)
	require.Equal(t, 0, bl.Failures(id))
	require.False(t, bl.IsBlacklisted(id))
}
