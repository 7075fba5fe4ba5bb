package chainmodel

import (
	"encoding/binary"

	"github.com/holiman/uint256"
)

// State is a tagged union over the closed set of protocol-shaped runtime
// states named in spec.md §3. Exactly one of the payload fields is
// populated, selected by Kind; callers must switch exhaustively over Kind
// rather than type-asserting an interface (spec.md §9).
type State struct {
	Kind Protocol

	// ProtocolConstantProduct
	ReserveA *uint256.Int
	ReserveB *uint256.Int

	// ProtocolConcentratedLiquidity
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	Tick         int32

	// ProtocolWeighted / ProtocolStableSwap
	Balances []*uint256.Int
	Weights  []*uint256.Int // normalized weights (1e18 = 100%), weighted pools only
	AmpCoeff *uint256.Int   // stable-swap amplification parameter, nil otherwise

	ObservedAtBlock uint64
}

// Hash is a fixed-width digest over the protocol-discriminated state
// payload. Two states are considered equal iff their hashes match; Hash is
// the cache-invalidation key, not the block number (spec.md §3).
type Hash [32]byte

func uint256Bytes(v *uint256.Int) [32]byte {
	if v == nil {
		return [32]byte{}
	}
	return v.Bytes32()
}

// ComputeHash returns the StateHash for s. The encoding is deterministic and
// contains no floating-point values: a protocol tag byte followed by the
// big-endian 32-byte words of every raw uint256 field (the concentrated-
// liquidity tick as 4 big-endian bytes), in a fixed field order per
// protocol.
func (s *State) ComputeHash() Hash {
	h := newHasher()
	h.writeByte(byte(s.Kind))
	switch s.Kind {
	case ProtocolConstantProduct:
		h.write32(uint256Bytes(s.ReserveA))
		h.write32(uint256Bytes(s.ReserveB))
	case ProtocolConcentratedLiquidity:
		h.write32(uint256Bytes(s.SqrtPriceX96))
		h.write32(uint256Bytes(s.Liquidity))
		h.writeInt32(s.Tick)
	case ProtocolWeighted, ProtocolStableSwap:
		for _, b := range s.Balances {
			h.write32(uint256Bytes(b))
		}
		for _, w := range s.Weights {
			h.write32(uint256Bytes(w))
		}
		h.write32(uint256Bytes(s.AmpCoeff))
	}
	return h.sum()
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func int32ToBytes(v int32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return b
}
