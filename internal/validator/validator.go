package validator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/logging"
	"github.com/luxfi/dexgraph/internal/rpcpool"
)

// bytecodeCacheBytes bounds the in-process permanent cache of deployed
// bytecode per address (spec.md §4.3: a contract's code never changes post
// deployment, so once read it never needs to be re-fetched).
const bytecodeCacheBytes = 32 * 1024 * 1024

// maxValidationFailures is the strike count past which a pool is
// blacklisted rather than merely rejected (spec.md §4.3's retry policy).
const maxValidationFailures = 3

// PriceLookup resolves a token's USD price for the liquidity-floor check.
// Implemented by the price facade; accepted here as an interface to avoid
// an import cycle.
type PriceLookup interface {
	USD(ctx context.Context, token common.Address) (float64, bool)
}

// BytecodeLister exposes the configured whitelist of pool bytecode hashes.
type BytecodeLister interface {
	Allowed(hash [32]byte) bool
}

// Config carries the validation thresholds (spec.md §6 "validator.*").
type Config struct {
	AnchorTokens      map[common.Address]struct{}
	BlacklistedTokens map[common.Address]struct{}
	MinLiquidityUSD   float64
}

// Validator runs the ordered check sequence from spec.md §4.3: token
// sanity, bytecode match (when required by the adapter), liquidity floor,
// then a balance-read sanity check. Checks short-circuit on first failure
// so an invalid pool never pays for the remaining RPC calls.
type Validator struct {
	cfg       Config
	pool      *rpcpool.Pool
	bytecode  BytecodeLister
	blacklist *ShardedMap
	codeCache *fastcache.Cache
	log       logging.Logger
}

// NewValidator constructs a Validator.
func NewValidator(cfg Config, pool *rpcpool.Pool, bytecode BytecodeLister, blacklist *ShardedMap) *Validator {
	return &Validator{
		cfg:       cfg,
		pool:      pool,
		bytecode:  bytecode,
		blacklist: blacklist,
		codeCache: fastcache.New(bytecodeCacheBytes),
		log:       logging.Component("validator"),
	}
}

// Outcome is the result of validating one pool. USDValue/USDKnown carry the
// liquidity-floor check's USD estimate forward so a caller that needs it
// (the discovery cycle's activation-threshold test) doesn't have to
// recompute pricing itself. USDKnown is false for concentrated-liquidity
// pools, whose USD figure needs tick-range math the floor check doesn't do
// (spec.md §4.7 leaves that to the graph engine).
type Outcome struct {
	Status   ValidationResult
	Reason   string
	USDValue float64
	USDKnown bool
}

// ValidationResult mirrors chainmodel.ValidationStatus but separates
// "this call errored" (Errored, caller should retry) from a true terminal
// Rejected/Blacklisted verdict.
type ValidationResult uint8

const (
	ResultValid ValidationResult = iota
	ResultRejected
	ResultBlacklisted
	ResultErrored
)

// Validate runs the full check sequence for a single pool. bytecodeRequired
// comes from the owning adapter (chainmodel.Meta's dexadapter.Adapter,
// spec.md §4.2's "registry-managed protocols opt out").
func (v *Validator) Validate(ctx context.Context, m *chainmodel.Meta, state *chainmodel.State, bytecodeRequired bool, prices PriceLookup) Outcome {
	if v.blacklist.IsBlacklisted(m.Identity) {
		return Outcome{Status: ResultBlacklisted, Reason: "already blacklisted"}
	}

	if out, ok := v.checkTokenSanity(m); !ok {
		return v.fail(m, out)
	}

	if bytecodeRequired {
		if out, ok := v.checkBytecode(ctx, m); !ok {
			return v.fail(m, out)
		}
	}

	liquidity, ok := v.checkLiquidityFloor(ctx, m, state, prices)
	if !ok {
		return v.fail(m, liquidity)
	}

	if out, ok := v.checkBalanceRead(state); !ok {
		return v.fail(m, out)
	}

	v.blacklist.Reinstate(m.Identity)
	return Outcome{Status: ResultValid, USDValue: liquidity.USDValue, USDKnown: liquidity.USDKnown}
}

// fail records a failure against the pool's strike counter and promotes it
// to Blacklisted once maxValidationFailures is reached; otherwise it stays
// Rejected and is eligible for re-validation on the next discovery pass.
func (v *Validator) fail(m *chainmodel.Meta, out Outcome) Outcome {
	strikes := v.blacklist.RecordFailure(m.Identity, out.Reason)
	if strikes >= maxValidationFailures {
		v.blacklist.Blacklist(m.Identity, out.Reason)
		v.log.Warn("pool blacklisted", "pool", m.Identity.Address, "reason", out.Reason, "strikes", strikes)
		return Outcome{Status: ResultBlacklisted, Reason: out.Reason}
	}
	return Outcome{Status: ResultRejected, Reason: out.Reason}
}

// checkTokenSanity rejects pools whose tokens are malformed, duplicated, or
// on the configured blacklist.
func (v *Validator) checkTokenSanity(m *chainmodel.Meta) (Outcome, bool) {
	if len(m.Tokens) < 2 {
		return Outcome{Status: ResultRejected, Reason: "fewer than two tokens"}, false
	}
	seen := make(map[common.Address]struct{}, len(m.Tokens))
	for _, t := range m.Tokens {
		if t == (common.Address{}) {
			return Outcome{Status: ResultRejected, Reason: "zero-address token"}, false
		}
		if _, dup := seen[t]; dup {
			return Outcome{Status: ResultRejected, Reason: "duplicate token"}, false
		}
		seen[t] = struct{}{}
		if _, blocked := v.cfg.BlacklistedTokens[t]; blocked {
			return Outcome{Status: ResultRejected, Reason: "token is blacklisted"}, false
		}
	}
	return Outcome{}, true
}

// checkBytecode fetches the pool's deployed code and matches it against the
// whitelist of known-good bytecode hashes.
func (v *Validator) checkBytecode(ctx context.Context, m *chainmodel.Meta) (Outcome, bool) {
	addrKey := m.Identity.Address.Bytes()
	code := v.codeCache.Get(nil, addrKey)
	if code == nil {
		fetched, err := v.pool.GetCode(ctx, m.Identity.Address)
		if err != nil {
			return Outcome{Status: ResultErrored, Reason: fmt.Sprintf("get code: %v", err)}, false
		}
		if len(fetched) > 0 {
			v.codeCache.Set(addrKey, fetched)
		}
		code = fetched
	}
	if len(code) == 0 {
		return Outcome{Status: ResultRejected, Reason: "no code at address"}, false
	}
	h := codeHash(code)
	if !v.bytecode.Allowed(h) {
		return Outcome{Status: ResultRejected, Reason: "bytecode not whitelisted"}, false
	}
	return Outcome{}, true
}

// checkLiquidityFloor estimates the pool's USD liquidity using whatever
// reserve-like fields the protocol populates, converting through prices,
// and rejects pools below Config.MinLiquidityUSD. A pool must have at
// least one anchor-paired token to be priceable at all; pools with none are
// rejected rather than assigned a manufactured price (spec.md §4.3, §4.7).
func (v *Validator) checkLiquidityFloor(ctx context.Context, m *chainmodel.Meta, state *chainmodel.State, prices PriceLookup) (Outcome, bool) {
	if !m.Anchor(v.cfg.AnchorTokens) {
		return Outcome{Status: ResultRejected, Reason: "no anchor-paired token"}, false
	}
	if state == nil {
		return Outcome{Status: ResultErrored, Reason: "no state to price"}, false
	}

	if state.Kind == chainmodel.ProtocolConcentratedLiquidity {
		// Liquidity alone isn't a USD figure without tick-range math; the
		// floor check here only confirms there is non-zero liquidity, and
		// leaves the authoritative USD figure to the graph engine.
		if state.Liquidity == nil || state.Liquidity.IsZero() {
			return Outcome{Status: ResultRejected, Reason: "zero liquidity"}, false
		}
		return Outcome{}, true
	}

	var usd float64
	switch state.Kind {
	case chainmodel.ProtocolConstantProduct:
		usd = v.reserveUSD(ctx, m.Tokens, []*uint256.Int{state.ReserveA, state.ReserveB}, prices)
	case chainmodel.ProtocolWeighted, chainmodel.ProtocolStableSwap:
		usd = v.reserveUSD(ctx, m.Tokens, state.Balances, prices)
	}

	if usd < v.cfg.MinLiquidityUSD {
		return Outcome{Status: ResultRejected, Reason: fmt.Sprintf("liquidity %.2f below floor %.2f", usd, v.cfg.MinLiquidityUSD)}, false
	}
	return Outcome{USDValue: usd, USDKnown: true}, true
}

func (v *Validator) reserveUSD(ctx context.Context, tokens []common.Address, reserves []*uint256.Int, prices PriceLookup) float64 {
	total := 0.0
	for i, r := range reserves {
		if r == nil || i >= len(tokens) {
			continue
		}
		price, ok := prices.USD(ctx, tokens[i])
		if !ok || price <= 0 {
			continue
		}
		f, _ := new(big.Float).SetInt(r.ToBig()).Float64()
		total += f * price
	}
	return total
}

// checkBalanceRead rejects a pool whose fetched state is entirely zeroed
// out, which on a real pool means either the read target was wrong or the
// pool has been drained to dust.
func (v *Validator) checkBalanceRead(state *chainmodel.State) (Outcome, bool) {
	if state == nil {
		return Outcome{Status: ResultErrored, Reason: "no state"}, false
	}
	nonZero := false
	switch state.Kind {
	case chainmodel.ProtocolConstantProduct:
		nonZero = !isZeroOrNil(state.ReserveA) || !isZeroOrNil(state.ReserveB)
	case chainmodel.ProtocolConcentratedLiquidity:
		nonZero = !isZeroOrNil(state.Liquidity)
	case chainmodel.ProtocolWeighted, chainmodel.ProtocolStableSwap:
		for _, b := range state.Balances {
			if !isZeroOrNil(b) {
				nonZero = true
				break
			}
		}
	}
	if !nonZero {
		return Outcome{Status: ResultRejected, Reason: "all balances read as zero"}, false
	}
	return Outcome{}, true
}

func isZeroOrNil(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
