package entity

import (
	"crypto/sha256"
	"encoding/hex"
)

// PairID identifies an unordered pair of entities. It is the hex-encoded
// SHA-256 of the two ids sorted lexicographically, so (a,b) and (b,a) always
// map to the same pair and distinct pairs cannot collide short of a hash
// collision.
type PairID string

// NewPairID computes the canonical pair id for two entity ids.
func NewPairID(a, b ID) PairID {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	h := sha256.New()
	h.Write([]byte(lo))
	h.Write([]byte{0})
	h.Write([]byte(hi))
	return PairID(hex.EncodeToString(h.Sum(nil)))
}

// Pair is an unordered candidate pair produced by blocking.
type Pair struct {
	ID         PairID
	A, B       ID
	CreatedSeq uint64
}

// NewPair builds a Pair with its canonical id. The stored A/B keep the
// caller's order; identity is carried by the id alone.
func NewPair(a, b ID, seq uint64) Pair {
	return Pair{ID: NewPairID(a, b), A: a, B: b, CreatedSeq: seq}
}
