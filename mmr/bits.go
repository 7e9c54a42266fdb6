package mmr

import "math/bits"

// bitLength returns the number of bits required to represent num, ie the
// position of its highest set bit plus one. bitLength(0) is 0.
func bitLength(num uint64) uint64 {
	return uint64(bits.Len64(num))
}

// allOnes reports whether num, read in binary, is of the form 2^k - 1 —
// every bit up to its highest set bit is 1. This identifies "perfect tree"
// sizes when num is a one-based position or a leaf count.
func allOnes(num uint64) bool {
	return num != 0 && (uint64(1)<<bits.OnesCount64(num))-1 == num
}
