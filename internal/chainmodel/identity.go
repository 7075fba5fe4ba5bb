// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chainmodel holds the data types shared by every component of the
// indexer: pool identity, static metadata, runtime state, and the derived
// state hash used for cache invalidation. Nothing in this package talks to
// chain RPC, a database, or a cache — it is pure data plus the arithmetic
// that turns state into a comparable hash.
package chainmodel

import (
	"github.com/ethereum/go-ethereum/common"
)

// Identity is the primary key for every pool-keyed structure in the system:
// PoolMeta, PoolState, PoolWeight, the JIT cache, and the hot set.
type Identity struct {
	ChainID uint64
	Address common.Address
}

// Protocol is the closed set of supported DEX variants.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolConstantProduct
	ProtocolConcentratedLiquidity
	ProtocolWeighted
	ProtocolStableSwap
)

func (p Protocol) String() string {
	switch p {
	case ProtocolConstantProduct:
		return "constant_product"
	case ProtocolConcentratedLiquidity:
		return "concentrated_liquidity"
	case ProtocolWeighted:
		return "weighted"
	case ProtocolStableSwap:
		return "stable_swap"
	default:
		return "unknown"
	}
}

// ValidationStatus tracks a pool through the lifecycle in spec.md §4.3.
type ValidationStatus uint8

const (
	StatusDiscovered ValidationStatus = iota
	StatusValid
	StatusRejected
	StatusBlacklisted
)

func (s ValidationStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusRejected:
		return "rejected"
	case StatusBlacklisted:
		return "blacklisted"
	default:
		return "discovered"
	}
}
