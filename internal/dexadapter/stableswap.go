package dexadapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// maxStableSwapCoins bounds how many balances(i) calls are attempted for a
// pool whose Meta lists no tokens; a reverted call past the real coin count
// is treated as the end of the array, since Curve-style pools expose no coin
// count accessor.
const maxStableSwapCoins = 8

// StableSwap is the adapter for Curve-style stable-swap pools (spec.md
// §4.2). It neither scans event logs nor reads a registry contract:
// Discover returns no pools, so the orchestrator's window arguments are
// accepted but unused, and state is read only for the metas handed to
// FetchState.
type StableSwap struct {
	deps Deps
}

// NewStableSwap returns a registry-based stable-swap adapter.
func NewStableSwap(deps Deps) *StableSwap {
	return &StableSwap{deps: deps}
}

func (a *StableSwap) Name() string                 { return a.deps.DexTag }
func (a *StableSwap) Protocol() chainmodel.Protocol { return chainmodel.ProtocolStableSwap }

// BytecodeCheckRequired is false: a registry-enumerated pool is already
// vouched for by the registry's own admission control (spec.md §4.3).
func (a *StableSwap) BytecodeCheckRequired() bool { return false }

// Discover is a no-op: it makes no chain reads and returns no Meta records.
// There is no registry walk (pool_count/pool_list) here or in the discovery
// package, so stable-swap pools reach FetchState only through metas the
// caller already holds.
func (a *StableSwap) Discover(ctx context.Context, from, to uint64, chunk int, parallelism int) ([]*chainmodel.Meta, error) {
	return nil, nil
}

func (a *StableSwap) FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error) {
	states := make(map[chainmodel.Identity]*chainmodel.State, len(metas))
	errs := make(map[chainmodel.Identity]error)
	if len(metas) == 0 {
		return states, errs
	}

	type tagged struct {
		id    chainmodel.Identity
		kind  string
		index int
	}
	var calls []callPlan
	var tags []tagged
	for _, m := range metas {
		ampData, err := abiAmp.Pack("A")
		if err != nil {
			errs[m.Identity] = fmt.Errorf("pack A: %w", err)
			continue
		}
		calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: ampData})
		tags = append(tags, tagged{id: m.Identity, kind: "amp"})

		n := len(m.Tokens)
		if n == 0 {
			n = maxStableSwapCoins
		}
		for i := 0; i < n; i++ {
			balData, err := abiBalances.Pack("balances", big.NewInt(int64(i)))
			if err != nil {
				continue
			}
			calls = append(calls, callPlan{identity: m.Identity, target: m.Identity.Address, data: balData})
			tags = append(tags, tagged{id: m.Identity, kind: "balance", index: i})
		}
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
		ampRaw      []byte
		balancesRaw map[int][]byte
	}
	partials := make(map[chainmodel.Identity]*partial, len(metas))
	for i, r := range results {
		t := tags[i]
		p := partials[t.id]
		if p == nil {
			p = &partial{balancesRaw: make(map[int][]byte)}
			partials[t.id] = p
		}
		if r.Err != nil {
			// balances(i) past the real coin count reverts; that is
			// expected once n was over-estimated and is not an error.
			if t.kind == "balance" {
				continue
			}
			errs[t.id] = r.Err
			continue
		}
		switch t.kind {
		case "amp":
			p.ampRaw = r.Data
		case "balance":
			p.balancesRaw[t.index] = r.Data
		}
	}

	tip, _, _ := a.deps.Pool.GetBlockNumber(ctx)
	for _, m := range metas {
		if _, failed := errs[m.Identity]; failed {
			continue
		}
		p := partials[m.Identity]
		if p == nil || p.ampRaw == nil || len(p.balancesRaw) == 0 {
			errs[m.Identity] = fmt.Errorf("incomplete stable-swap response")
			continue
		}
		unpackedAmp, err := abiAmp.Unpack("A", p.ampRaw)
		if err != nil || len(unpackedAmp) < 1 {
			errs[m.Identity] = fmt.Errorf("decode A: %w", err)
			continue
		}
		amp, aerr := decodeUint256Output(unpackedAmp[0])
		if aerr != nil {
			errs[m.Identity] = aerr
			continue
		}
		indices := make([]int, 0, len(p.balancesRaw))
		for idx := range p.balancesRaw {
			indices = append(indices, idx)
		}
		sortInts(indices)
		balances := make([]*big.Int, 0, len(indices))
		ok := true
		for _, idx := range indices {
			unpackedBal, err := abiBalances.Unpack("balances", p.balancesRaw[idx])
			if err != nil || len(unpackedBal) < 1 {
				ok = false
				break
			}
			b, isBig := unpackedBal[0].(*big.Int)
			if !isBig {
				ok = false
				break
			}
			balances = append(balances, b)
		}
		if !ok {
			errs[m.Identity] = fmt.Errorf("decode balances: malformed output")
			continue
		}
		states[m.Identity] = &chainmodel.State{
			Kind:            chainmodel.ProtocolStableSwap,
			Balances:        bigSliceToUint256(balances),
			AmpCoeff:        amp,
			ObservedAtBlock: tip,
		}
	}
	return states, errs
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
