package pmmr

import (
	"fmt"

	"github.com/mw-node/txhashset/bitmapfile"
	"github.com/mw-node/txhashset/filestore"
	"github.com/mw-node/txhashset/mmr"
	"github.com/mw-node/txhashset/txhashseterr"
)

// shiftedHashes adapts a filestore.HashFile, whose rows are only the
// positions that have survived compaction, into an mmr.HashStore indexed by
// logical MMR position — the position space §4.E's pure arithmetic
// operates in, unaware that pruning ever happened. logicalSize is tracked
// independently of the file's physical size because Compact can shrink the
// file without changing how many logical positions the MMR has ever held.
type shiftedHashes struct {
	file        *filestore.HashFile
	pruneList   *bitmapfile.PruneList
	logicalSize uint64
}

func (h *shiftedHashes) Size() uint64 { return h.logicalSize }

func (h *shiftedHashes) Append(hash []byte) (uint64, error) {
	pos := h.logicalSize
	if _, err := h.file.Append(hash); err != nil {
		return 0, err
	}
	h.logicalSize++
	return pos, nil
}

func (h *shiftedHashes) Get(pos uint64) ([]byte, error) {
	if h.pruneList.IsPruned(pos) {
		return nil, fmt.Errorf("%w: MMR position %d", txhashseterr.ErrNotFound, pos)
	}
	return h.file.Get(pos - h.pruneList.Shift(pos))
}

func (h *shiftedHashes) rewind(newSize uint64) error {
	h.logicalSize = newSize
	return h.file.Rewind(newSize - h.pruneList.Shift(newSize))
}

// shiftedLeaves is shiftedHashes's counterpart over the data file, indexed
// by logical leaf index rather than MMR position.
type shiftedLeaves struct {
	file        *filestore.DataFile
	pruneList   *bitmapfile.PruneList
	logicalSize uint64
}

func (l *shiftedLeaves) nLeaves() uint64 { return l.logicalSize }

func (l *shiftedLeaves) append(record []byte) (uint64, error) {
	idx := l.logicalSize
	if _, err := l.file.Append(record); err != nil {
		return 0, err
	}
	l.logicalSize++
	return idx, nil
}

func (l *shiftedLeaves) get(leafIndex uint64) ([]byte, error) {
	pos := mmr.LeafToPos(leafIndex)
	return l.file.Get(leafIndex - l.pruneList.LeafShift(pos))
}

func (l *shiftedLeaves) rewind(newNLeaves uint64) error {
	l.logicalSize = newNLeaves
	pos := mmr.LeafToPos(newNLeaves)
	return l.file.Rewind(newNLeaves - l.pruneList.LeafShift(pos))
}
