package dexadapter

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topic hashes, computed once at package init rather than hand-coded,
// so they stay correct if the signature ever changes.
var (
	TopicPairCreated = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
	TopicPoolCreated = crypto.Keccak256Hash([]byte("PoolCreated(address,address,uint24,int24,address)"))
)

// mustABI parses a minimal single-method/event ABI JSON fragment. Adapters
// keep a hand-written minimal ABI per call rather than full abigen output,
// to keep the surface small (SPEC_FULL.md §4.2).
func mustABI(fragmentJSON string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(fragmentJSON))
	if err != nil {
		panic("dexadapter: invalid ABI fragment: " + err.Error())
	}
	return a
}

var (
	abiGetReserves = mustABI(`[{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}]`)
	abiToken01     = mustABI(`[{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}]`)
	abiSlot0       = mustABI(`[{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]}]`)
	abiLiquidity   = mustABI(`[{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}]`)
	abiFee         = mustABI(`[{"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]}]`)
	abiPoolTokens  = mustABI(`[{"name":"getPoolTokens","type":"function","stateMutability":"view","inputs":[{"name":"poolId","type":"bytes32"}],"outputs":[{"name":"tokens","type":"address[]"},{"name":"balances","type":"uint256[]"},{"name":"lastChangeBlock","type":"uint256"}]}]`)
	abiNormWeights = mustABI(`[{"name":"getNormalizedWeights","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]}]`)
	abiBalances    = mustABI(`[{"name":"balances","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}]`)
	abiAmp         = mustABI(`[{"name":"A","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`)
	abiCoins       = mustABI(`[{"name":"coins","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}]`)
)
