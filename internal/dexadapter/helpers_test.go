package dexadapter

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexgraph/internal/rpcpool"
)

func TestBatchMulticallEmptyCallsReturnsEmptyMap(t *testing.T) {
	out, err := batchMulticall(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestBatchMulticallOrderedEmptyCallsReturnsNil(t *testing.T) {
	out, err := batchMulticallOrdered(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestDecodeSlot0ExtractsPriceAndTick(t *testing.T) {
	sqrtPrice := new(big.Int).Lsh(big.NewInt(1), 96) // 79228162514264337593543950336: 1:1 price in Q96
	tick := big.NewInt(-120)
	u, tk, err := decodeSlot0([]interface{}{sqrtPrice, tick})
	require.NoError(t, err)
	require.Equal(t, int32(-120), tk)
	require.Equal(t, sqrtPrice.String(), u.ToBig().String())
}

func TestDecodeSlot0RejectsWrongType(t *testing.T) {
	_, _, err := decodeSlot0([]interface{}{"not-a-bigint", big.NewInt(0)})
	require.Error(t, err)
}

func TestDecodeUint256OutputConvertsBigInt(t *testing.T) {
	u, err := decodeUint256Output(big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, uint64(42), u.Uint64())
}

func TestDecodeUint256OutputRejectsWrongType(t *testing.T) {
	_, err := decodeUint256Output("nope")
	require.Error(t, err)
}

func TestBigToUint256ClampsOverflowToZero(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 257) // exceeds uint256 range
	u := bigToUint256(huge)
	require.True(t, u.IsZero())
}

func TestBigSliceToUint256ConvertsEachElement(t *testing.T) {
	in := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	out := bigSliceToUint256(in)
	require.Len(t, out, 3)
	require.Equal(t, uint64(2), out[1].Uint64())
}

func TestBlockBigConvertsUint64(t *testing.T) {
	b := blockBig(12345)
	require.Equal(t, "12345", b.String())
}

var _ = rpcpool.Call{} // keep rpcpool imported for call-shape reference above
