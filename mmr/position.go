package mmr

import "math/bits"

// Height returns the height of the node at the given zero-indexed postorder
// position. Leaves are height 0. Height is computed by peeling off the
// largest "perfect tree" (2^k - 1) prefix from the one-based position,
// repeating until what remains is itself a perfect-tree size 2^(h+1) - 1;
// that remaining size's h is the height. This is the basis for every other function
// in this package — see doc.go for the background.
func Height(p uint64) uint64 {
	pos := p + 1
	for !allOnes(pos) {
		pos = jumpLeftPerfect(pos)
	}
	return bitLength(pos) - 1
}

// jumpLeftPerfect moves a one-based position back by the size of the
// largest perfect subtree that precedes it, landing on the rightmost
// position of the next perfect tree down. Repeating this until the
// position is itself an "all ones" value discovers the height.
func jumpLeftPerfect(pos uint64) uint64 {
	msb := uint64(1) << (bitLength(pos) - 1)
	return pos - (msb - 1)
}

// Parent returns the position of the node that is the immediate parent of p
// in the infinite MMR. It does not check whether that parent is actually
// present in any particular MMR size — callers combine it with the size to
// decide that (see FamilyBranch).
func Parent(p uint64) uint64 {
	h := Height(p)
	if Height(p+1) > h {
		// p is a right child: its parent is the very next position.
		return p + 1
	}
	// p is a left child: its parent follows its right sibling.
	return p + (uint64(1) << (h + 1))
}

// Sibling returns the position of p's sibling in the infinite MMR. Every
// position has one there, though it may not yet be present in a given,
// smaller, MMR size.
func Sibling(p uint64) uint64 {
	h := Height(p)
	offset := (uint64(1) << (h + 1)) - 1
	if Height(p+1) > h {
		// p is a right child; its sibling precedes it.
		return p - offset
	}
	// p is a left child; its sibling follows it.
	return p + offset
}

// LeftChild returns the position of the left child of the parent at
// position p, and false if p is a leaf (height 0, no children).
func LeftChild(p uint64) (uint64, bool) {
	h := Height(p)
	if h == 0 {
		return 0, false
	}
	return p - (uint64(1) << h), true
}

// RightChild returns the position of the right child of the parent at
// position p, and false if p is a leaf.
func RightChild(p uint64) (uint64, bool) {
	if Height(p) == 0 {
		return 0, false
	}
	return p - 1, true
}

// Peaks returns the positions of the mountain peaks of an MMR with the
// given size (size is a node count, not a leaf count), in ascending
// position order. It returns nil if size is zero, or if size does not
// correspond to any reachable MMR state (a "sibling without its parent"
// size — one that could never result from a sequence of AppendLeaf calls).
func Peaks(size uint64) []uint64 {
	if size == 0 {
		return nil
	}
	var peaks []uint64
	var pos uint64
	remaining := size
	prevHeight := bitLength(size) + 1 // sentinel, larger than any real height
	for remaining > 0 {
		h := highestPerfectHeight(remaining)
		if h >= prevHeight {
			// Two peaks at non-decreasing height: this size is not
			// reachable by any valid append sequence.
			return nil
		}
		prevHeight = h
		peakSize := (uint64(1) << h) - 1
		pos += peakSize
		peaks = append(peaks, pos-1)
		remaining -= peakSize
	}
	return peaks
}

// highestPerfectHeight returns the height h such that 2^h - 1 is the
// largest perfect-tree size that is <= remaining.
func highestPerfectHeight(remaining uint64) uint64 {
	h := bitLength(remaining+1) - 1
	for (uint64(1)<<h)-1 > remaining {
		h--
	}
	return h
}

// NLeaves returns the number of leaves present in an MMR of the given size.
func NLeaves(size uint64) uint64 {
	var n uint64
	for _, p := range Peaks(size) {
		n += uint64(1) << Height(p)
	}
	return n
}

// LeafToPos maps a zero-based leaf index to its position in the MMR. This
// is a pure function of the leaf index: the position a leaf is appended at
// never depends on anything appended after it.
func LeafToPos(leafIndex uint64) uint64 {
	return 2*leafIndex - uint64(bits.OnesCount64(leafIndex))
}

// PosToLeaf maps a leaf position back to its zero-based leaf index. Passing
// a non-leaf position (Height(p) != 0) is a programmer error; the spec
// defines this mapping only over leaf positions.
func PosToLeaf(p uint64) uint64 {
	return NLeaves(firstCompleteSize(p)) - 1
}

// firstCompleteSize returns the smallest MMR size under which position p is
// a "complete" node — ie the size just after p's own backfill chain (if
// any) finishes. For a leaf this is the size immediately after it, and any
// parents it completes, have been appended.
func firstCompleteSize(p uint64) uint64 {
	i := p
	h0 := Height(i)
	h1 := Height(i + 1)
	for h0 < h1 {
		i++
		h0 = h1
		h1 = Height(i + 1)
	}
	return i + 1
}

// FamilyBranch returns the sequence of sibling positions connecting p to
// the peak of the MMR of the given size that contains it — the inclusion
// proof path, expressed as positions rather than hashes. It is empty if p
// is itself a peak.
func FamilyBranch(p uint64, size uint64) []uint64 {
	var branch []uint64
	cur := p
	for {
		sib := Sibling(cur)
		if sib+1 > size {
			// The sibling isn't present in this size: cur is a peak.
			break
		}
		branch = append(branch, sib)
		cur = Parent(cur)
	}
	return branch
}
