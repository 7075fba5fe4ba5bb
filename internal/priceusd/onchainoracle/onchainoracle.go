// Copyright 2024 The dexgraph Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package onchainoracle is the price facade's highest-priority source
// (spec.md §4.8): a batched multicall read of Chainlink-style aggregator
// feeds, one per configured token, via the shared RPC pool.
package onchainoracle

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/luxfi/dexgraph/internal/rpcpool"
)

const latestRoundDataABI = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

// Source reads a configured feed-address-per-token set.
type Source struct {
	pool *rpcpool.Pool
	abi  abi.ABI

	mu       sync.RWMutex
	feeds    map[common.Address]common.Address
	decimals map[common.Address]uint8
}

// New builds an on-chain oracle source. feeds maps a priced token to its
// aggregator contract address (spec.md §6's oracle feed registry).
func New(pool *rpcpool.Pool, feeds map[common.Address]common.Address) (*Source, error) {
	parsed, err := abi.JSON(strings.NewReader(latestRoundDataABI))
	if err != nil {
		return nil, err
	}
	return &Source{
		pool:     pool,
		abi:      parsed,
		feeds:    feeds,
		decimals: make(map[common.Address]uint8),
	}, nil
}

func (s *Source) Name() string { return "onchainoracle" }

// Price reads the feed's latestRoundData and decimals, returning
// answer / 10^decimals. A zero or negative answer (a paused or
// misconfigured feed) is treated as unresolved, never as a zero price.
func (s *Source) Price(ctx context.Context, token common.Address) (float64, bool) {
	s.mu.RLock()
	feed, ok := s.feeds[token]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}

	roundData, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return 0, false
	}
	decData, err := s.abi.Pack("decimals")
	if err != nil {
		return 0, false
	}

	results, err := s.pool.Multicall(ctx, []rpcpool.Call{
		{Target: feed, Data: roundData},
		{Target: feed, Data: decData},
	})
	if err != nil || len(results) != 2 {
		return 0, false
	}
	if results[0].Err != nil || results[1].Err != nil {
		return 0, false
	}

	unpacked, err := s.abi.Unpack("latestRoundData", results[0].Data)
	if err != nil || len(unpacked) < 2 {
		return 0, false
	}
	answer, ok := unpacked[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return 0, false
	}

	decUnpacked, err := s.abi.Unpack("decimals", results[1].Data)
	if err != nil || len(decUnpacked) != 1 {
		return 0, false
	}
	dec, ok := decUnpacked[0].(uint8)
	if !ok {
		return 0, false
	}

	f := new(big.Float).SetInt(answer)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil))
	price, _ := new(big.Float).Quo(f, scale).Float64()
	if price <= 0 {
		return 0, false
	}
	return price, true
}
