package state

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is a content address: the sha256 of the bytes it identifies (a
// code blob, an action's signable encoding, or the trie's leaf dump).
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}

func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(b) != len(h) {
		return Hash{}, errHashLength
	}
	copy(h[:], b)
	return h, nil
}

func hashesToBytes(hs []Hash) [][]byte {
	out := make([][]byte, len(hs))
	for i, h := range hs {
		cp := h
		out[i] = cp[:]
	}
	return out
}

func bytesToHash(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}
