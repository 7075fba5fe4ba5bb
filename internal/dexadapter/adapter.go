// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dexadapter turns protocol-specific chain data into
// chainmodel.Meta and chainmodel.State. One adapter struct implements the
// uniform capability set per supported DEX variant (spec.md §4.2, §9 —
// never modeled by inheritance).
package dexadapter

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/dexgraph/internal/chainmodel"
	"github.com/luxfi/dexgraph/internal/rpcpool"
)

// Adapter is the uniform capability set every DEX variant implements.
type Adapter interface {
	Name() string
	Protocol() chainmodel.Protocol

	// Discover queries [from, to) for new pools. For registry-based
	// protocols, from/to are ignored and discovery reads the registry at
	// the current tip (spec.md §4.2).
	Discover(ctx context.Context, from, to uint64, chunk int, parallelism int) ([]*chainmodel.Meta, error)

	// FetchState assembles a multicall for metas and decodes each pool's
	// state. Decoding failures for individual pools are returned per-pool
	// in the second map, never failing the whole batch.
	FetchState(ctx context.Context, metas []*chainmodel.Meta) (map[chainmodel.Identity]*chainmodel.State, map[chainmodel.Identity]error)

	// BytecodeCheckRequired reports whether the validator must check this
	// adapter's pools against the bytecode allow-list (registry-managed
	// protocols opt out, spec.md §4.3).
	BytecodeCheckRequired() bool
}

// Deps are the shared dependencies every adapter needs.
type Deps struct {
	Pool    *rpcpool.Pool
	ChainID uint64
	Factory common.Address
	DexTag  string
}
