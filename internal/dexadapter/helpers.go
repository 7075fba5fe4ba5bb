package dexadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/rpcpool"
)

// callPlan pairs a pool identity with the multicall request that will
// fetch its state, so responses can be matched back to identities after
// rpcpool.Pool.Multicall returns a plain positional slice.
type callPlan struct {
	identity chainmodel.Identity
	target   common.Address
	data     []byte
}

// batchMulticall packs calls into one or more multicall batches (bounded by
// the pool's configured max batch size is enforced inside Multicall) and
// returns results keyed by identity.
func batchMulticall(ctx context.Context, pool *rpcpool.Pool, calls []callPlan) (map[chainmodel.Identity]rpcpool.CallResult, error) {
	out := make(map[chainmodel.Identity]rpcpool.CallResult, len(calls))
	if len(calls) == 0 {
		return out, nil
	}

	const maxBatch = 200
	for start := 0; start < len(calls); start += maxBatch {
		end := start + maxBatch
		if end > len(calls) {
			end = len(calls)
		}
		chunk := calls[start:end]

		reqs := make([]rpcpool.Call, len(chunk))
		for i, c := range chunk {
			reqs[i] = rpcpool.Call{Target: c.target, Data: c.data}
		}
		results, err := pool.Multicall(ctx, reqs)
		if err != nil {
			return out, err
		}
		for i, r := range results {
			out[chunk[i].identity] = r
		}
	}
	return out, nil
}

// batchMulticallOrdered is batchMulticall's counterpart for adapters that
// issue more than one call per pool (e.g. slot0 + liquidity) and need
// results back in the exact request order, since two calls share one
// identity and can't be de-duplicated into a map.
func batchMulticallOrdered(ctx context.Context, pool *rpcpool.Pool, calls []callPlan) ([]rpcpool.CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]rpcpool.CallResult, 0, len(calls))
	const maxBatch = 200
	for start := 0; start < len(calls); start += maxBatch {
		end := start + maxBatch
		if end > len(calls) {
			end = len(calls)
		}
		chunk := calls[start:end]
		reqs := make([]rpcpool.Call, len(chunk))
		for i, c := range chunk {
			reqs[i] = rpcpool.Call{Target: c.target, Data: c.data}
		}
		results, err := pool.Multicall(ctx, reqs)
		if err != nil {
			return out, err
		}
		out = append(out, results...)
	}
	return out, nil
}

// decodeSlot0 extracts sqrtPriceX96 and tick from an unpacked slot0() call.
// go-ethereum's abi package decodes uint160 as *big.Int and int24 as
// *big.Int as well (Solidity integer types narrower than the native Go
// sizes still decode through math/big).
func decodeSlot0(unpacked []interface{}) (*uint256.Int, int32, error) {
	sqrtPrice, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, 0, errDecode("slot0: sqrtPriceX96 not *big.Int")
	}
	tickBig, ok := unpacked[1].(*big.Int)
	if !ok {
		return nil, 0, errDecode("slot0: tick not *big.Int")
	}
	return bigToUint256(sqrtPrice), int32(tickBig.Int64()), nil
}

// decodeUint256Output converts a single unpacked uintN output (always
// *big.Int regardless of declared width) to *uint256.Int.
func decodeUint256Output(v interface{}) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, errDecode("expected *big.Int output")
	}
	return bigToUint256(b), nil
}

func errDecode(msg string) error {
	return fmt.Errorf("dexadapter: %s", msg)
}

func bigToUint256(b *big.Int) *uint256.Int {
	u, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.NewInt(0)
	}
	return u
}

func bigSliceToUint256(bs []*big.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(bs))
	for i, b := range bs {
		out[i] = bigToUint256(b)
	}
	return out
}

func blockBig(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
