// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokenmeta resolves a token's on-chain decimals() via the shared
// RPC pool, in the same single-call ABI idiom as priceusd/onchainoracle,
// caching results forever since a token's decimals never change post
// deployment (spec.md §4.7's DecimalsLookup).
package tokenmeta

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/dexgraph/internal/rpcpool"
)

const decimalsABI = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

// Resolver implements graph.DecimalsLookup over the shared RPC pool.
type Resolver struct {
	pool *rpcpool.Pool
	abi  abi.ABI

	mu    sync.RWMutex
	cache map[common.Address]int
}

// New builds a decimals resolver. defaults seeds well-known tokens (e.g.
// WETH=18, USDC=6) so the hot path rarely waits on an RPC round-trip.
func New(pool *rpcpool.Pool, defaults map[common.Address]int) (*Resolver, error) {
	parsed, err := abi.JSON(strings.NewReader(decimalsABI))
	if err != nil {
		return nil, err
	}
	cache := make(map[common.Address]int, len(defaults))
	for addr, dec := range defaults {
		cache[addr] = dec
	}
	return &Resolver{pool: pool, abi: parsed, cache: cache}, nil
}

// Decimals resolves token's decimals, caching the result permanently on
// first successful read. Returns (18, false) when the call fails, so a
// transient RPC error degrades to the conventional default rather than
// poisoning a weight computation.
func (r *Resolver) Decimals(ctx context.Context, token common.Address) (int, bool) {
	r.mu.RLock()
	dec, ok := r.cache[token]
	r.mu.RUnlock()
	if ok {
		return dec, true
	}

	data, err := r.abi.Pack("decimals")
	if err != nil {
		return 18, false
	}
	results, err := r.pool.Multicall(ctx, []rpcpool.Call{{Target: token, Data: data}})
	if err != nil || len(results) != 1 || results[0].Err != nil {
		return 18, false
	}
	unpacked, err := r.abi.Unpack("decimals", results[0].Data)
	if err != nil || len(unpacked) != 1 {
		return 18, false
	}
	d, ok := unpacked[0].(uint8)
	if !ok {
		return 18, false
	}

	r.mu.Lock()
	r.cache[token] = int(d)
	r.mu.Unlock()
	return int(d), true
}
