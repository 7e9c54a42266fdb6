// Package pmmr implements the prunable Merkle Mountain Range described in
// spec §4.G/4.H: a HashFile, a DataFile, a LeafSet, and a PruneList,
// combined into a single generic type instantiated once for outputs and
// once for range proofs rather than hand-writing two near-identical
// structures — the spec's own "DataFile<N>" is a construction-time
// constant, and Go generics express that directly.
package pmmr

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/mw-node/txhashset/bitmapfile"
	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/filestore"
	"github.com/mw-node/txhashset/mmr"
	"github.com/mw-node/txhashset/txhashseterr"
)

// PMMR is a prunable MMR of leaves of type T.
type PMMR[T any] struct {
	hashes    *shiftedHashes
	leaves    *shiftedLeaves
	leafSet   *bitmapfile.LeafSet
	pruneList *bitmapfile.PruneList
	hasher    *mmr.Hasher
	codec     LeafCodec[T]
}

// New opens (or creates) a prunable MMR under dir, using name as the
// on-disk file prefix for its hash and data files (so OutputPMMR and
// RangeProofPMMR in the same TxHashSet directory don't collide).
//
// leafSet and pruneList are injected rather than opened here: outputs and
// range proofs are always appended and removed in lockstep — each output
// has exactly one range proof at the same leaf index — so this package
// shares a single leaf set and prune list between the two PMMRs rather
// than keeping one copy per PMMR, as grin does, that would need to be kept
// in lockstep by hand (see DESIGN.md).
func New[T any](dir, name string, codec LeafCodec[T], leafSet *bitmapfile.LeafSet, pruneList *bitmapfile.PruneList) (*PMMR[T], error) {
	hashFile, err := filestore.OpenHashFile(dir + "/" + name + "_hash.bin")
	if err != nil {
		return nil, err
	}
	dataFile, err := filestore.OpenDataFile(dir+"/"+name+"_data.bin", codec.RecordSize())
	if err != nil {
		return nil, err
	}

	hashes := &shiftedHashes{file: hashFile, pruneList: pruneList, logicalSize: hashFile.Size() + pruneList.TotalShift()}
	leaves := &shiftedLeaves{file: dataFile, pruneList: pruneList, logicalSize: dataFile.Size() + pruneList.TotalLeafShift()}

	return &PMMR[T]{
		hashes:    hashes,
		leaves:    leaves,
		leafSet:   leafSet,
		pruneList: pruneList,
		hasher:    mmr.NewHasher(),
		codec:     codec,
	}, nil
}

// NewOutputPMMR opens the output PMMR under dir, sharing leafSet and
// pruneList with the RangeProofPMMR opened alongside it.
func NewOutputPMMR(dir string, leafSet *bitmapfile.LeafSet, pruneList *bitmapfile.PruneList) (*PMMR[chain.Output], error) {
	return New[chain.Output](dir, "output", outputCodec{}, leafSet, pruneList)
}

// NewRangeProofPMMR opens the range-proof PMMR under dir, sharing leafSet
// and pruneList with the OutputPMMR opened alongside it.
func NewRangeProofPMMR(dir string, leafSet *bitmapfile.LeafSet, pruneList *bitmapfile.PruneList) (*PMMR[chain.RangeProof], error) {
	return New[chain.RangeProof](dir, "rangeproof", rangeProofCodec{}, leafSet, pruneList)
}

// Size returns the current MMR node count.
func (p *PMMR[T]) Size() uint64 { return p.hashes.Size() }

// NLeaves returns the number of leaves ever appended, spent or not.
func (p *PMMR[T]) NLeaves() uint64 { return p.leaves.nLeaves() }

// Append extends the data file with leaf, marks it unspent in the leaf
// set, and appends its hash plus every parent the append completes along
// the right spine. It returns the leaf's MMR position.
func (p *PMMR[T]) Append(leaf T) (uint64, error) {
	encoded := p.codec.Encode(leaf)
	leafIndex, err := p.leaves.append(encoded)
	if err != nil {
		return 0, err
	}

	wantPos := mmr.LeafToPos(leafIndex)
	if wantPos != p.hashes.Size() {
		return 0, fmt.Errorf("%w: leaf %d expects MMR position %d, hashes are at %d",
			txhashseterr.ErrIO, leafIndex, wantPos, p.hashes.Size())
	}

	leafHash := p.hasher.HashLeaf(wantPos, encoded)
	if _, err := mmr.AppendLeaf(p.hashes, p.hasher, leafHash); err != nil {
		return 0, err
	}
	p.leafSet.Set(uint32(leafIndex))
	return wantPos, nil
}

// Remove clears the leaf set bit at position. The record itself remains in
// the data file until Compact runs.
func (p *PMMR[T]) Remove(position uint64) error {
	if mmr.Height(position) != 0 {
		return fmt.Errorf("%w: position %d is not a leaf", txhashseterr.ErrIO, position)
	}
	leafIndex := mmr.PosToLeaf(position)
	p.leafSet.Clear(uint32(leafIndex))
	return nil
}

// GetAt returns the leaf at position, or ok=false if position is pruned or
// its leaf set bit is clear (spent).
func (p *PMMR[T]) GetAt(position uint64) (leaf T, ok bool, err error) {
	if mmr.Height(position) != 0 {
		return leaf, false, nil
	}
	if p.pruneList.IsPruned(position) {
		return leaf, false, nil
	}
	leafIndex := mmr.PosToLeaf(position)
	if !p.leafSet.Contains(uint32(leafIndex)) {
		return leaf, false, nil
	}
	raw, err := p.leaves.get(leafIndex)
	if err != nil {
		return leaf, false, err
	}
	leaf, err = p.codec.Decode(raw)
	if err != nil {
		return leaf, false, err
	}
	return leaf, true, nil
}

// HashAt returns the hash stored at MMR position pos, or ok=false if pos is
// beyond the MMR's current size or falls inside a pruned subtree.
func (p *PMMR[T]) HashAt(pos uint64) ([]byte, bool, error) {
	if pos >= p.hashes.Size() {
		return nil, false, nil
	}
	h, err := p.hashes.Get(pos)
	if err != nil {
		if errors.Is(err, txhashseterr.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return h, true, nil
}

// Root computes the bagged MMR root at the given size.
func (p *PMMR[T]) Root(size uint64) ([]byte, error) {
	return mmr.Root(p.hashes, p.hasher, size)
}

// Rewind restores the MMR to size (a node count) and the leaf set to
// rewindLeafSetDelta — the pre-apply snapshot of the block being reversed,
// per spec §4.G/4.H's "root(size), rewind(size, rewind_leafset_delta)".
func (p *PMMR[T]) Rewind(size uint64, rewindLeafSetDelta *roaring.Bitmap) error {
	if err := p.hashes.rewind(size); err != nil {
		return err
	}
	if err := p.leaves.rewind(mmr.NLeaves(size)); err != nil {
		return err
	}
	p.leafSet.Restore(rewindLeafSetDelta)
	return nil
}

// Compact rewrites the data and hash files to physically remove every
// fully-pruned subtree: every leaf whose bit is clear is added to the
// prune list (collapsing with its sibling when both are pruned), then both
// files are rewritten to omit what the updated prune list now covers, and
// the prune list itself is flushed — the spec's "atomically swap
// PruneList."
func (p *PMMR[T]) Compact() error {
	preRoots := p.pruneList.Roots()

	for leafIndex := uint64(0); leafIndex < p.leaves.nLeaves(); leafIndex++ {
		if p.leafSet.Contains(uint32(leafIndex)) {
			continue
		}
		pos := mmr.LeafToPos(leafIndex)
		if bitmapfile.IsPrunedAmong(preRoots, pos) {
			continue
		}
		p.pruneList.Add(pos)
	}
	postRoots := p.pruneList.Roots()

	var newRecords [][]byte
	for leafIndex := uint64(0); leafIndex < p.leaves.nLeaves(); leafIndex++ {
		pos := mmr.LeafToPos(leafIndex)
		if bitmapfile.IsPrunedAmong(preRoots, pos) {
			continue // already not physically present before this compaction
		}
		if bitmapfile.IsPrunedAmong(postRoots, pos) {
			continue // newly pruned by this compaction: drop it
		}
		physicalIdx := leafIndex - bitmapfile.LeafShiftAmong(preRoots, pos)
		raw, err := p.leaves.file.Get(physicalIdx)
		if err != nil {
			return err
		}
		newRecords = append(newRecords, raw)
	}

	var newHashes [][]byte
	for pos := uint64(0); pos < p.hashes.Size(); pos++ {
		if bitmapfile.IsPrunedAmong(preRoots, pos) {
			continue
		}
		if bitmapfile.IsPrunedAmong(postRoots, pos) {
			continue
		}
		physicalIdx := pos - bitmapfile.ShiftAmong(preRoots, pos)
		raw, err := p.hashes.file.Get(physicalIdx)
		if err != nil {
			return err
		}
		newHashes = append(newHashes, raw)
	}

	if err := p.leaves.file.RewriteRecords(newRecords); err != nil {
		return err
	}
	if err := p.hashes.file.RewriteAll(newHashes); err != nil {
		return err
	}
	return p.pruneList.Flush()
}

// OnInitWrite, Commit, Rollback, and OnEndWrite let a PMMR enlist with a
// batch.Coordinator directly, flushing data before hash per spec §4.J.
// The shared leaf set and prune list are not touched here — they are
// registered with the coordinator once by txhashset.TxHashSet, not once
// per PMMR, since OutputPMMR and RangeProofPMMR share both (see New).
func (p *PMMR[T]) OnInitWrite() error {
	if err := p.leaves.file.OnInitWrite(); err != nil {
		return err
	}
	return p.hashes.file.OnInitWrite()
}

func (p *PMMR[T]) Commit() error {
	if err := p.leaves.file.Commit(); err != nil {
		return err
	}
	return p.hashes.file.Commit()
}

func (p *PMMR[T]) Rollback() error {
	_ = p.leaves.file.Rollback()
	_ = p.hashes.file.Rollback()
	p.hashes.logicalSize = p.hashes.file.Size() + p.pruneList.TotalShift()
	p.leaves.logicalSize = p.leaves.file.Size() + p.pruneList.TotalLeafShift()
	return nil
}

func (p *PMMR[T]) OnEndWrite() error {
	_ = p.leaves.file.OnEndWrite()
	_ = p.hashes.file.OnEndWrite()
	return nil
}
