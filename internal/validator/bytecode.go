package validator

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

func codeHash(code []byte) [32]byte {
	return crypto.Keccak256Hash(code)
}

// StaticBytecodeList is a BytecodeLister backed by a fixed set of hex-coded
// hashes loaded from Config.WhitelistedBytecodeHash. Empty lists allow
// everything through rather than rejecting every pool, since an operator
// who hasn't populated the whitelist yet almost certainly wants discovery
// to keep working while they build it.
type StaticBytecodeList struct {
	hashes map[[32]byte]struct{}
}

// NewStaticBytecodeList parses a list of "0x..."-or-bare hex hash strings.
// Malformed entries are skipped rather than failing the whole list.
func NewStaticBytecodeList(hexHashes []string) *StaticBytecodeList {
	set := make(map[[32]byte]struct{}, len(hexHashes))
	for _, h := range hexHashes {
		h = strings.TrimPrefix(h, "0x")
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != 32 {
			continue
		}
		var fixed [32]byte
		copy(fixed[:], b)
		set[fixed] = struct{}{}
	}
	return &StaticBytecodeList{hashes: set}
}

// Allowed reports whether hash is in the whitelist, or always true if the
// whitelist is empty (see NewStaticBytecodeList's doc comment).
func (l *StaticBytecodeList) Allowed(hash [32]byte) bool {
	if len(l.hashes) == 0 {
		return true
	}
	_, ok := l.hashes[hash]
	return ok
}
