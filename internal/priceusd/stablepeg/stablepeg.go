// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stablepeg is the price facade's lowest-priority source
// (spec.md §4.8): a hard-coded identity mapping for configured stable
// tokens against USD. It never fails with an error and never queries
// anything — it is the backstop once every live source is exhausted.
package stablepeg

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Source is an identity-mapped stable-token price list.
type Source struct {
	pegged map[common.Address]struct{}
}

// New builds a stable-peg source for the given token addresses, each
// assumed pegged 1:1 to USD.
func New(tokens []common.Address) *Source {
	pegged := make(map[common.Address]struct{}, len(tokens))
	for _, t := range tokens {
		pegged[t] = struct{}{}
	}
	return &Source{pegged: pegged}
}

func (s *Source) Name() string { return "stablepeg" }

// Price returns 1.0 for a configured pegged token, false otherwise.
func (s *Source) Price(ctx context.Context, token common.Address) (float64, bool) {
	if _, ok := s.pegged[token]; ok {
		return 1.0, true
	}
	return 0, false
}
