package dexadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// ConstantProduct is the adapter for constant-product (x*y=k) pools
// discovered via a factory's PairCreated event (spec.md §4.2), e.g.
// Uniswap-v2-style pairs and their clones.
type ConstantProduct struct {
	deps Deps
}

// NewConstantProduct returns a constant-product pool adapter.
func NewConstantProduct(deps Deps) *ConstantProduct {
	return &ConstantProduct{deps: deps}
}

func (a *ConstantProduct) Name() string                  { return a.deps.DexTag }
func (a *ConstantProduct) Protocol() chainmodel.Protocol { return chainmodel.ProtocolConstantProduct }
func (a *ConstantProduct) BytecodeCheckRequired() bool   { return true }

func (a *ConstantProduct) Discover(ctx context.Context, from, to uint64, chunk int, parallelism int) ([]*chainmodel.Meta, error) {
	if chunk <= 0 {
		chunk = 1000
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	type window struct{ from, to uint64 }
	var windows []window
	for b := from; b < to; b += uint64(chunk) {
		end := b + uint64(chunk)
		if end > to {
			end = to
		}
		windows = append(windows, window{from: b, to: end})
	}

	results := make([][]*chainmodel.Meta, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			logs, err := a.deps.Pool.GetLogs(gctx, ethereum.FilterQuery{
				FromBlock: blockBig(w.from),
				ToBlock:   blockBig(w.to),
				Addresses: []common.Address{a.deps.Factory},
				Topics:    [][]common.Hash{{TopicPairCreated}},
			})
			if err != nil {
				return fmt.Errorf("dexadapter[%s]: get logs [%d,%d): %w", a.deps.DexTag, w.from, w.to, err)
			}
			metas := make([]*chainmodel.Meta, 0, len(logs))
			for _, l := range logs {
				m, err := a.decodePairCreated(l)
				if err != nil {
					continue
				}
				metas = append(metas, m)
			}
			results[i] = metas
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*chainmodel.Meta
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (a *ConstantProduct) decodePairCreated(l types.Log) (*chainmodel.Meta, error) {
	if len(l.Topics) < 3 || len(l.Data) < 32 {
		return nil, fmt.Errorf("malformed PairCreated log")
	}
	token0 := common.BytesToAddress(l.Topics[1].Bytes())
	token1 := common.BytesToAddress(l.Topics[2].Bytes())
	pair := common.BytesToAddress(l.Data[12:32])
	return &chainmodel.Meta{
		Identity:     chainmodel.Identity{ChainID: a.deps.ChainID, Address: pair},
		DexTag:       a.deps.DexTag,
		Protocol:     chainmodel.ProtocolConstantProduct,
		Factory:      a.deps.Factory,
		Tokens:       []common.Address{token0, token1},
		CreatedBlock: l.BlockNumber,
		LogIndex:     uint32(l.Index),
		Status:       chainmodel.StatusDiscovered,
	}, nil
}

func (a *ConstantProduct) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	states := make(map[chainmodel.Identity]*chainmodel.State, len(metas))
	errs := make(map[chainmodel.Identity]error)
	if len(metas) == 0 {
		return states, errs
	}

	calls := make([]callPlan, 0, len(metas))
	for _, m := range metas {
		data, err := abiGetReserves.Pack("getReserves")
		if err != nil {
			errs[m.Identity] = err
			continue
		}
		calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: data})
	}

	results, err := batchMulticall(ctx, a.deps.Pool, calls)
	if err != nil {
		for _, m := range metas {
			if _, already := errs[m.Identity]; !already {
				errs[m.Identity] = err
			}
		}
		return states, errs
	}

	tip, _, _ := a.deps.Pool.GetBlockNumber(ctx)
	for id, res := range results {
		if res.Err != nil {
			errs[id] = res.Err
			continue
		}
		unpacked, err := abiGetReserves.Unpack("getReserves", res.Data)
		if err != nil || len(unpacked) < 2 {
			errs[id] = fmt.Errorf("decode getReserves: %w", err)
			continue
		}
		r0, ok0 := unpacked[0].(*big.Int)
		r1, ok1 := unpacked[1].(*big.Int)
		if !ok0 || !ok1 {
			errs[id] = fmt.Errorf("decode getReserves: unexpected output types")
			continue
		}
		states[id] = &chainmodel.State{
			Kind:            chainmodel.ProtocolConstantProduct,
			ReserveA:        bigToUint256(r0),
			ReserveB:        bigToUint256(r1),
			ObservedAtBlock: tip,
		}
	}
	return states, errs
}
