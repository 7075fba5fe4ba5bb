package chainmodel

import (
	"crypto/sha256"
	"hash"
)

// hasher is a tiny deterministic byte-accumulator wrapper around sha256,
// kept separate from State.ComputeHash so the field encoding order is easy
// to read next to the hashing mechanics.
type hasher struct {
	h hash.Hash
}

func newHasher() *hasher {
	return &hasher{h: sha256.New()}
}

func (h *hasher) writeByte(b byte) {
	h.h.Write([]byte{b})
}

func (h *hasher) write32(b [32]byte) {
	h.h.Write(b[:])
}

func (h *hasher) writeInt32(v int32) {
	b := int32ToBytes(v)
	h.h.Write(b[:])
}

func (h *hasher) sum() Hash {
	var out Hash
	copy(out[:], h.h.Sum(nil))
	return out
}
