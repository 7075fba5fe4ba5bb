package dexadapter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// ConcentratedLiquidity is the adapter for concentrated-liquidity pools
// (spec.md §4.2), discovered via a factory's PoolCreated event. Unlike
// constant-product pairs, the fee tier is part of pool identity and is
// carried on Meta.FeeBps.
type ConcentratedLiquidity struct {
	deps Deps
}

// NewConcentratedLiquidity returns a concentrated-liquidity pool adapter.
func NewConcentratedLiquidity(deps Deps) *ConcentratedLiquidity {
	return &ConcentratedLiquidity{deps: deps}
}

func (a *ConcentratedLiquidity) Name() string { return a.deps.DexTag }
func (a *ConcentratedLiquidity) Protocol() chainmodel.Protocol {
	return chainmodel.ProtocolConcentratedLiquidity
}
func (a *ConcentratedLiquidity) BytecodeCheckRequired() bool { return true }

func (a *ConcentratedLiquidity) Discover(ctx context.Context, from, to uint64, chunk int, parallelism int) ([]*chainmodel.Meta, error) {
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
				Topics:    [][]common.Hash{{TopicPoolCreated}},
			})
			if err != nil {
				return fmt.Errorf("dexadapter[%s]: get logs [%d,%d): %w", a.deps.DexTag, w.from, w.to, err)
			}
			metas := make([]*chainmodel.Meta, 0, len(logs))
			for _, l := range logs {
				m, err := a.decodePoolCreated(l)
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

// decodePoolCreated unpacks PoolCreated(token0 indexed, token1 indexed, fee
// indexed uint24, tickSpacing int24, pool address). The fee tier is indexed
// so it lives in Topics[3], left-padded to 32 bytes; the two non-indexed
// fields fill Data as 32-byte words, tickSpacing first and the pool address
// second.
func (a *ConcentratedLiquidity) decodePoolCreated(l types.Log) (*chainmodel.Meta, error) {
	if len(l.Topics) < 4 || len(l.Data) < 64 {
		return nil, fmt.Errorf("malformed PoolCreated log")
	}
	token0 := common.BytesToAddress(l.Topics[1].Bytes())
	token1 := common.BytesToAddress(l.Topics[2].Bytes())
	feeBps := uint32(l.Topics[3].Big().Uint64())
	pool := common.BytesToAddress(l.Data[44:64])
	return &chainmodel.Meta{
		Identity:     chainmodel.Identity{ChainID: a.deps.ChainID, Address: pool},
		DexTag:       a.deps.DexTag,
		Protocol:     chainmodel.ProtocolConcentratedLiquidity,
		Factory:      a.deps.Factory,
		Tokens:       []common.Address{token0, token1},
		FeeBps:       feeBps,
		HasFee:       true,
		CreatedBlock: l.BlockNumber,
		LogIndex:     uint32(l.Index),
		Status:       chainmodel.StatusDiscovered,
	}, nil
}

func (a *ConcentratedLiquidity) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	states := make(map[chainmodel.Identity]*chainmodel.State, len(metas))
	errs := make(map[chainmodel.Identity]error)
	if len(metas) == 0 {
		return states, errs
	}

	slot0Data, err := abiSlot0.Pack("slot0")
	if err != nil {
		for _, m := range metas {
			errs[m.Identity] = fmt.Errorf("pack slot0: %w", err)
		}
		return states, errs
	}
	liqData, err := abiLiquidity.Pack("liquidity")
	if err != nil {
		for _, m := range metas {
			errs[m.Identity] = fmt.Errorf("pack liquidity: %w", err)
		}
		return states, errs
	}

	// Two calls per pool. tags[i] records which pool and which call calls[i]
	// is; batchMulticallOrdered returns results in request order across
	// chunk boundaries, so results[i] is matched back through tags[i].
	type tagged struct {
		id   chainmodel.Identity
		kind string
	}
	var calls []callPlan
	tags := make([]tagged, 0, len(metas)*2)
	for _, m := range metas {
		calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: slot0Data})
		tags = append(tags, tagged{id: m.Identity, kind: "slot0"})
		calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: liqData})
		tags = append(tags, tagged{id: m.Identity, kind: "liquidity"})
	}

	results, err := batchMulticallOrdered(ctx, a.deps.Pool, calls)
	if err != nil {
		for _, m := range metas {
			errs[m.Identity] = err
		}
		return states, errs
	}

	type partial struct {
		sqrtPriceX96 []byte
		liquidity    []byte
	}
	partials := make(map[chainmodel.Identity]*partial, len(metas))
	for i, r := range results {
		t := tags[i]
		p := partials[t.id]
		if p == nil {
			p = &partial{}
			partials[t.id] = p
		}
		if r.Err != nil {
			errs[t.id] = r.Err
			continue
		}
		switch t.kind {
		case "slot0":
			p.sqrtPriceX96 = r.Data
		case "liquidity":
			p.liquidity = r.Data
		}
	}

	tip, _, _ := a.deps.Pool.GetBlockNumber(ctx)
	for _, m := range metas {
		if _, failed := errs[m.Identity]; failed {
			continue
		}
		p := partials[m.Identity]
		if p == nil || p.sqrtPriceX96 == nil || p.liquidity == nil {
			errs[m.Identity] = fmt.Errorf("incomplete concentrated-liquidity response")
			continue
		}
		unpackedSlot0, err := abiSlot0.Unpack("slot0", p.sqrtPriceX96)
		if err != nil || len(unpackedSlot0) < 2 {
			errs[m.Identity] = fmt.Errorf("decode slot0: %w", err)
			continue
		}
		sqrtPriceX96, tickVal, derr := decodeSlot0(unpackedSlot0)
		if derr != nil {
			errs[m.Identity] = derr
			continue
		}
		unpackedLiq, err := abiLiquidity.Unpack("liquidity", p.liquidity)
		if err != nil || len(unpackedLiq) < 1 {
			errs[m.Identity] = fmt.Errorf("decode liquidity: %w", err)
			continue
		}
		liquidity, lerr := decodeUint256Output(unpackedLiq[0])
		if lerr != nil {
			errs[m.Identity] = lerr
			continue
		}
		states[m.Identity] = &chainmodel.State{
			Kind:            chainmodel.ProtocolConcentratedLiquidity,
			SqrtPriceX96:    sqrtPriceX96,
			Liquidity:       liquidity,
			Tick:            tickVal,
			ObservedAtBlock: tip,
		}
	}
	return states, errs
}
