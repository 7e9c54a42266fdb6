package bitmapfile

import (
	"path/filepath"

	"github.com/mw-node/txhashset/mmr"
)

// PruneList is the persistent roaring-bitmap of pruned subtree roots
// described in spec §4.D: a position is recorded only when it is the root
// of a maximal fully-pruned subtree — every leaf beneath it is spent — and
// entries are kept pairwise disjoint, with no entry an ancestor of another.
type PruneList struct {
	*Bitmap
}

const pruneListFileName = "pmmr_prun.bin"

// OpenPruneList opens the prune list file in dir.
func OpenPruneList(dir string) (*PruneList, error) {
	bm, err := openBitmap(filepath.Join(dir, pruneListFileName))
	if err != nil {
		return nil, err
	}
	return &PruneList{Bitmap: bm}, nil
}

// IsPruned reports whether position p lies inside any subtree this list
// has recorded as fully removed.
func (pl *PruneList) IsPruned(p uint64) bool {
	for _, root := range pl.roots() {
		if coversPosition(root, p) {
			return true
		}
	}
	return false
}

// Shift returns the number of positions strictly before p that have been
// physically removed from the backing files, ie the difference between a
// logical MMR position and its on-disk offset.
func (pl *PruneList) Shift(p uint64) uint64 {
	return ShiftAmong(pl.Roots(), p)
}

// LeafShift is Shift's leaf-index counterpart: the number of leaves
// (rather than MMR nodes) physically removed from the data file strictly
// before the leaf at position p.
func (pl *PruneList) LeafShift(p uint64) uint64 {
	return LeafShiftAmong(pl.Roots(), p)
}

// Add records position p as a newly fully-pruned subtree root. If p's
// sibling is also fully pruned (recorded, or itself a descendant of an
// already-recorded root), the pair collapses into their shared parent,
// which is added in p's place, recursing toward the MMR's peak until no
// further collapse is possible.
func (pl *PruneList) Add(p uint64) {
	cur := p
	for {
		pl.Set(uint32(cur))
		sibling := mmr.Sibling(cur)
		if !pl.Contains(uint32(sibling)) && !pl.containsAncestorOf(sibling) {
			return
		}
		pl.Clear(uint32(cur))
		pl.clearDescendantsOf(sibling)
		cur = mmr.Parent(cur)
	}
}

// containsAncestorOf reports whether some recorded root is an ancestor of
// p (p is already covered, just not itself recorded).
func (pl *PruneList) containsAncestorOf(p uint64) bool {
	for _, root := range pl.roots() {
		if root != p && coversPosition(root, p) {
			return true
		}
	}
	return false
}

// clearDescendantsOf removes every recorded root that is p itself or a
// descendant of it, because they are about to be subsumed by a new,
// higher, root.
func (pl *PruneList) clearDescendantsOf(p uint64) {
	for _, root := range pl.roots() {
		if root == p || coversPosition(p, root) {
			pl.Clear(uint32(root))
		}
	}
}

func (pl *PruneList) roots() []uint64 {
	snap := pl.Snapshot()
	it := snap.Iterator()
	var out []uint64
	for it.HasNext() {
		out = append(out, uint64(it.Next()))
	}
	return out
}

// Roots returns every recorded fully-pruned subtree root, in ascending
// position order. Exported so pmmr.Compact can take a pre-mutation snapshot
// of the roots before recording newly pruned subtrees, and diff against it
// afterward to know exactly which physical rows a rewrite must drop.
func (pl *PruneList) Roots() []uint64 {
	return pl.roots()
}

// TotalShift returns the total number of MMR nodes physically removed by
// every recorded pruned subtree, the position-shift that applies to any
// position at or beyond the current MMR size.
func (pl *PruneList) TotalShift() uint64 {
	return ShiftAmong(pl.Roots(), ^uint64(0))
}

// TotalLeafShift is TotalShift's leaf-index counterpart: the number of
// leaves physically removed from the data file by every recorded pruned
// subtree.
func (pl *PruneList) TotalLeafShift() uint64 {
	return LeafShiftAmong(pl.Roots(), ^uint64(0))
}

// IsPrunedAmong reports whether p lies within any of the given subtree
// roots. It lets a caller check pruned-ness against a snapshot of roots
// taken before a batch of Add calls, rather than against the live list.
func IsPrunedAmong(roots []uint64, p uint64) bool {
	for _, root := range roots {
		if coversPosition(root, p) {
			return true
		}
	}
	return false
}

// ShiftAmong is Shift's counterpart over an explicit root list rather than
// a PruneList's live state.
func ShiftAmong(roots []uint64, p uint64) uint64 {
	var shifted uint64
	for _, root := range roots {
		if root >= p {
			continue
		}
		shifted += subtreeSize(root)
	}
	return shifted
}

// LeafShiftAmong is ShiftAmong's leaf-index counterpart: it sums leaf
// counts (2^height) instead of node counts (2^(height+1) - 1).
func LeafShiftAmong(roots []uint64, p uint64) uint64 {
	var shifted uint64
	for _, root := range roots {
		if root >= p {
			continue
		}
		shifted += uint64(1) << mmr.Height(root)
	}
	return shifted
}

// subtreeSize returns the number of MMR nodes in the perfect subtree
// rooted at position root.
func subtreeSize(root uint64) uint64 {
	return (uint64(1) << (mmr.Height(root) + 1)) - 1
}

// coversPosition reports whether p lies within the perfect subtree rooted
// at root (root itself counts).
func coversPosition(root, p uint64) bool {
	size := subtreeSize(root)
	first := root + 1 - size
	return p >= first && p <= root
}
