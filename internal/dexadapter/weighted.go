package dexadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// Weighted is the adapter for Balancer-style weighted multi-token pools
// (spec.md §4.2). These pools are not discovered via per-block event logs;
// a vault-level PoolRegistered event stream exists upstream but this
// adapter does not read it. Deps.Factory holds the vault address that
// getPoolTokens is called on, and Discover is a no-op (see below).
type Weighted struct {
	deps Deps
}

// NewWeighted returns a weighted-pool adapter.
func NewWeighted(deps Deps) *Weighted {
	return &Weighted{deps: deps}
}

func (a *Weighted) Name() string                 { return a.deps.DexTag }
func (a *Weighted) Protocol() chainmodel.Protocol { return chainmodel.ProtocolWeighted }
func (a *Weighted) BytecodeCheckRequired() bool   { return true }

// Discover is a no-op for weighted pools in this deployment: pool
// enrollment arrives out-of-band (vault PoolRegistered events are not
// modeled here, spec.md Non-goals), so FetchState is the only path that
// exercises the chain for this adapter. Discover always returns an empty
// set rather than erroring, so the orchestrator's per-DEX cycle treats it
// like any quiet window.
func (a *Weighted) Discover(ctx context.Context, from, to uint64, chunk int, parallelism int) ([]*chainmodel.Meta, error) {
	return nil, nil
}

func (a *Weighted) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	states := make(map[chainmodel.Identity]*chainmodel.State, len(metas))
	errs := make(map[chainmodel.Identity]error)
	if len(metas) == 0 {
		return states, errs
	}

	type tagged struct {
		id   chainmodel.Identity
		kind string
	}
	var calls []callPlan
	tags := make([]tagged, 0, len(metas)*2)
	for _, m := range metas {
		poolIDData, err := abiPoolTokens.Pack("getPoolTokens", poolIDBytes32(m))
		if err != nil {
			errs[m.Identity] = fmt.Errorf("pack getPoolTokens: %w", err)
			continue
		}
		weightsData, err := abiNormWeights.Pack("getNormalizedWeights")
		if err != nil {
			errs[m.Identity] = fmt.Errorf("pack getNormalizedWeights: %w", err)
			continue
		}
		calls = append(calls, callPlan{identity: m.Identity, target: a.deps.Factory, data: poolIDData})
		tags = append(tags, tagged{id: m.Identity, kind: "tokens"})
		calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: weightsData})
		tags = append(tags, tagged{id: m.Identity, kind: "weights"})
	}

	results, err := batchMulticallOrdered(ctx, a.deps.Pool, calls)
	if err != nil {
		for _, m := range metas {
			if _, failed := errs[m.Identity]; !failed {
				errs[m.Identity] = err
			}
		}
		return states, errs
	}

	type partial struct {
		tokensRaw  []byte
		weightsRaw []byte
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
		case "tokens":
			p.tokensRaw = r.Data
		case "weights":
			p.weightsRaw = r.Data
		}
	}

	tip, _, _ := a.deps.Pool.GetBlockNumber(ctx)
	for _, m := range metas {
		if _, failed := errs[m.Identity]; failed {
			continue
		}
		p := partials[m.Identity]
		if p == nil || p.tokensRaw == nil || p.weightsRaw == nil {
			errs[m.Identity] = fmt.Errorf("incomplete weighted-pool response")
			continue
		}
		unpackedTokens, err := abiPoolTokens.Unpack("getPoolTokens", p.tokensRaw)
		if err != nil || len(unpackedTokens) < 2 {
			errs[m.Identity] = fmt.Errorf("decode getPoolTokens: %w", err)
			continue
		}
		balancesRaw, ok := unpackedTokens[1].([]*big.Int)
		if !ok {
			errs[m.Identity] = fmt.Errorf("decode getPoolTokens: unexpected balances type")
			continue
		}
		unpackedWeights, err := abiNormWeights.Unpack("getNormalizedWeights", p.weightsRaw)
		if err != nil || len(unpackedWeights) < 1 {
			errs[m.Identity] = fmt.Errorf("decode getNormalizedWeights: %w", err)
			continue
		}
		weightsRaw, ok := unpackedWeights[0].([]*big.Int)
		if !ok {
			errs[m.Identity] = fmt.Errorf("decode getNormalizedWeights: unexpected type")
			continue
		}
		balances := make([]*uint256.Int, len(balancesRaw))
		for i, b := range balancesRaw {
			balances[i] = bigToUint256(b)
		}
		weights := make([]*uint256.Int, len(weightsRaw))
		for i, w := range weightsRaw {
			weights[i] = bigToUint256(w)
		}
		states[m.Identity] = &chainmodel.State{
			Kind:            chainmodel.ProtocolWeighted,
			Balances:        balances,
			Weights:         weights,
			ObservedAtBlock: tip,
		}
	}
	return states, errs
}

// poolIDBytes32 returns the bytes32 pool ID passed to getPoolTokens:
// Meta.PoolIDHandle when it holds exactly 32 bytes, otherwise the pool
// address left-padded into bytes32. The fallback carries no
// specialization/nonce bits, and no adapter in this package sets
// PoolIDHandle.
func poolIDBytes32(m *chainmodel.Meta) [32]byte {
	var out [32]byte
	if len(m.PoolIDHandle) == 32 {
		copy(out[:], m.PoolIDHandle)
		return out
	}
	copy(out[12:], m.Identity.Address.Bytes())
	return out
}
