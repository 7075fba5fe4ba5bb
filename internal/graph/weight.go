// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package graph translates PoolState and USD token prices into PoolWeight
// (spec.md §4.7), keeping the in-process concurrent identity→weight_usd
// mapping that every other component (hot-pool manager, scheduler) reads
// from.
package graph

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// defaultMaxReasonableWeightUSD is the customary weight ceiling (1e13 USD).
// The ceiling in force is Config.MaxReasonableWeightUSD; New applies the
// same 1e13 as a literal when that field is unset, and nothing in the
// package reads this constant.
const defaultMaxReasonableWeightUSD = 1e13

// q96 is 2^96, the Q64.96 fixed-point scale used by concentrated-liquidity
// sqrtPriceX96 values.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// ConstantProductWeightUSD implements spec.md §4.7's first formula:
// w = r_a·p_a + r_b·p_b, normalized by each token's decimals.
func ConstantProductWeightUSD(reserveA, reserveB *uint256.Int, priceA, priceB float64, decimalsA, decimalsB int) (float64, bool) {
	a := toFloatNormalized(reserveA, decimalsA)
	b := toFloatNormalized(reserveB, decimalsB)
	w := a*priceA + b*priceB
	return finalize(w)
}

// ConcentratedLiquidityWeightUSD implements spec.md §4.7's second formula:
// virtual token amounts at the current price derived from
// (sqrtPriceX96, liquidity), then priced. amt_a = L·2^96/sqrtP,
// amt_b = L·sqrtP/2^96.
func ConcentratedLiquidityWeightUSD(sqrtPriceX96, liquidity *uint256.Int, priceA, priceB float64, decimalsA, decimalsB int) (float64, bool) {
	if sqrtPriceX96 == nil || liquidity == nil || sqrtPriceX96.IsZero() {
		return 0, false
	}
	l := new(big.Float).SetInt(liquidity.ToBig())
	sqrtP := new(big.Float).SetInt(sqrtPriceX96.ToBig())

	amtA := new(big.Float).Quo(new(big.Float).Mul(l, q96), sqrtP)
	amtB := new(big.Float).Quo(new(big.Float).Mul(l, sqrtP), q96)

	fa, _ := amtA.Float64()
	fb, _ := amtB.Float64()
	fa = normalizeDecimals(fa, decimalsA)
	fb = normalizeDecimals(fb, decimalsB)

	w := fa*priceA + fb*priceB
	return finalize(w)
}

// MultiTokenWeightUSD implements spec.md §4.7's third formula, shared by
// weighted and stable-swap pools: w = Σ balance_i · p_i.
func MultiTokenWeightUSD(balances []*uint256.Int, prices []float64, decimals []int) (float64, bool) {
	if len(balances) != len(prices) {
		return 0, false
	}
	total := 0.0
	for i, b := range balances {
		dec := 18
		if i < len(decimals) {
			dec = decimals[i]
		}
		total += toFloatNormalized(b, dec) * prices[i]
	}
	return finalize(total)
}

func toFloatNormalized(v *uint256.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v.ToBig())
	val, _ := f.Float64()
	return normalizeDecimals(val, decimals)
}

func normalizeDecimals(v float64, decimals int) float64 {
	if decimals <= 0 {
		return v
	}
	return v / math.Pow10(decimals)
}

// finalize applies spec.md §4.7's numeric semantics: NaN/Inf become a skip
// decision (ok=false), everything else is returned as-is. Clamping to
// MaxReasonableWeightUSD is the caller's (Engine's) job, since the cap is
// configurable.
func finalize(w float64) (float64, bool) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, false
	}
	return w, true
}
