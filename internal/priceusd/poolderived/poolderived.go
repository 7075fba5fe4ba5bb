// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package poolderived is the price facade's second-priority source
// (spec.md §4.8): the price of a token is derived from its reserve ratio
// against an anchor token in a known high-liquidity constant-product pool,
// using the anchor's already-resolved USD price.
package poolderived

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/luxfi/dexgraph/internal/chainmodel"
)

// AnchorPriceLookup resolves the USD price of an anchor token. The facade
// itself (minus this source, to avoid a priority cycle) is wired in here
// by the caller at startup.
type AnchorPriceLookup interface {
	USD(ctx context.Context, token common.Address) (float64, bool)
}

// StateLookup fetches the current state of a reference pool by identity.
type StateLookup interface {
	Get(ctx context.Context, id chainmodel.Identity, targetBlock uint64) (chainmodel.CachedState, chainmodel.Quality, error)
}

// reference pairs a token with the pool it should be priced against and
// which side of that pool holds the anchor.
type reference struct {
	pool        chainmodel.Identity
	anchor      common.Address
	anchorIsA   bool
	tokenDec    int
	anchorDec   int
}

// Source derives prices for a configured set of tokens from their
// reference pool's reserves.
type Source struct {
	anchors    AnchorPriceLookup
	states     StateLookup
	references map[common.Address]reference
}

// Ref describes one token's reference pool, supplied at construction
// (spec.md §6's reference-pool configuration, wired outside this package).
type Ref struct {
	Token     common.Address
	Pool      chainmodel.Identity
	Anchor    common.Address
	AnchorIsA bool
	TokenDecimals  int
	AnchorDecimals int
}

// New builds a pool-derived source over the given reference pools.
func New(anchors AnchorPriceLookup, states StateLookup, refs []Ref) *Source {
	m := make(map[common.Address]reference, len(refs))
	for _, r := range refs {
		m[r.Token] = reference{pool: r.Pool, anchor: r.Anchor, anchorIsA: r.AnchorIsA, tokenDec: r.TokenDecimals, anchorDec: r.AnchorDecimals}
	}
	return &Source{anchors: anchors, states: states, references: m}
}

func (s *Source) Name() string { return "poolderived" }

// Price derives token's USD price as anchor_price * (anchor_reserve /
// token_reserve), both reserves normalized by decimals. It only supports
// constant-product reference pools; any other protocol kind, or a missing
// anchor price, falls through (ok=false) to the next facade source.
func (s *Source) Price(ctx context.Context, token common.Address) (float64, bool) {
	ref, ok := s.references[token]
	if !ok {
		return 0, false
	}
	anchorPrice, ok := s.anchors.USD(ctx, ref.anchor)
	if !ok || anchorPrice <= 0 {
		return 0, false
	}
	cs, quality, err := s.states.Get(ctx, ref.pool, 0)
	if err != nil || quality == chainmodel.QualityCorrupt || cs.State == nil {
		return 0, false
	}
	if cs.State.Kind != chainmodel.ProtocolConstantProduct {
		return 0, false
	}

	var anchorReserve, tokenReserve *uint256.Int
	anchorDec, tokenDec := ref.anchorDec, ref.tokenDec
	if ref.anchorIsA {
		anchorReserve, tokenReserve = cs.State.ReserveA, cs.State.ReserveB
	} else {
		anchorReserve, tokenReserve = cs.State.ReserveB, cs.State.ReserveA
	}
	if tokenReserve == nil || tokenReserve.IsZero() || anchorReserve == nil {
		return 0, false
	}

	anchorF := normalize(anchorReserve, anchorDec)
	tokenF := normalize(tokenReserve, tokenDec)
	if tokenF == 0 {
		return 0, false
	}
	price := anchorPrice * (anchorF / tokenF)
	if price <= 0 {
		return 0, false
	}
	return price, true
}

func normalize(v *uint256.Int, decimals int) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	val, _ := f.Float64()
	if decimals <= 0 {
		return val
	}
	scale := new(big.Float).SetFloat64(1)
	for i := 0; i < decimals; i++ {
		scale.Mul(scale, big.NewFloat(10))
	}
	scaled, _ := new(big.Float).Quo(f, scale).Float64()
	return scaled
}
