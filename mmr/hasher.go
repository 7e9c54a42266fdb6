package mmr

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hasher computes node hashes under the protocol's position-committing
// rule: every node, leaf or parent, hashes its own position alongside its
// payload. The position is always written as a big-endian uint64 — this
// byte order is consensus-observable and must never change, independent of
// the little-endian convention used for every other on-disk integer.
type Hasher struct {
	new func() hash.Hash
}

// NewHasher returns a Hasher backed by Blake2b-256, the hash function this
// protocol mandates.
func NewHasher() *Hasher {
	return &Hasher{
		new: func() hash.Hash {
			h, err := blake2b.New256(nil)
			if err != nil {
				// New256 with a nil key only fails if the key is the
				// wrong length, which nil never is.
				panic(err)
			}
			return h
		},
	}
}

// HashLeaf returns Blake2b(pos ‖ payload) for the leaf at position pos.
func (h *Hasher) HashLeaf(pos uint64, payload []byte) []byte {
	hh := h.new()
	writeBE64(hh, pos)
	hh.Write(payload)
	return hh.Sum(nil)
}

// HashParent returns Blake2b(pos ‖ left ‖ right) for the parent node at
// position pos whose children hash to left and right.
func (h *Hasher) HashParent(pos uint64, left, right []byte) []byte {
	hh := h.new()
	writeBE64(hh, pos)
	hh.Write(left)
	hh.Write(right)
	return hh.Sum(nil)
}

// BagPeaks folds a list of peak hashes, given in ascending position order,
// into the MMR root for the given size: root = Blake2b(size ‖ peaks
// concatenated right-to-left). Bagging right-to-left means the rightmost
// (most recently completed, lowest) peak is written first.
func (h *Hasher) BagPeaks(size uint64, peakHashes [][]byte) []byte {
	hh := h.new()
	writeBE64(hh, size)
	for i := len(peakHashes) - 1; i >= 0; i-- {
		hh.Write(peakHashes[i])
	}
	return hh.Sum(nil)
}

func writeBE64(w hash.Hash, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}
