package chainmodel

import "github.com/ethereum/go-ethereum/common"

// Meta is static, once-validated pool metadata (spec.md §3 "PoolMeta").
// It is mutated only through an idempotent upsert keyed on Identity.
type Meta struct {
	Identity       Identity
	DexTag         string
	Protocol       Protocol
	Factory        common.Address
	Tokens         []common.Address // [token_a, token_b, ...]
	FeeBps         uint32           // 0 if the protocol has no fee tier
	HasFee         bool
	PoolIDHandle   []byte // opaque registry handle, for protocols addressed by key not address
	Status         ValidationStatus
	CreatedBlock   uint64
	LogIndex       uint32 // position of the creation log within CreatedBlock, for EventRecord
	Valid          bool
	Active         bool
}

// Anchor reports whether any of the pool's tokens is in the anchor set.
func (m *Meta) Anchor(anchors map[common.Address]struct{}) bool {
	for _, t := range m.Tokens {
		if _, ok := anchors[t]; ok {
			return true
		}
	}
	return false
}

// TokenPair returns the first two tokens; most protocols only ever have two,
// weighted/stable-swap pools have more and callers should use Tokens directly.
func (m *Meta) TokenPair() (a, b common.Address, ok bool) {
	if len(m.Tokens) < 2 {
		return common.Address{}, common.Address{}, false
	}
	return m.Tokens[0], m.Tokens[1], true
}
