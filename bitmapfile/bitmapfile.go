// Package bitmapfile implements LeafSet and PruneList: the two persistent
// roaring-bitmap structures described in spec §4.C/4.D. Both wrap
// github.com/RoaringBitmap/roaring — the literal data structure the
// specification names — under copy-on-write semantics: a snapshot is an
// immutable clone, and every mutation lands in the live bitmap directly
// (roaring bitmaps are cheap to clone, so there is no separate "pending
// delta" structure the way filestore stages appends; flush always
// serializes the live bitmap).
package bitmapfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/mw-node/txhashset/txhashseterr"
)

// Bitmap is the shared implementation behind LeafSet and PruneList: a
// roaring bitmap persisted to path, flushed via the same
// write-temp-fsync-rename discipline filestore uses.
type Bitmap struct {
	mu      sync.RWMutex
	path    string
	live    *roaring.Bitmap
	pending *txState
}

func openBitmap(path string) (*Bitmap, error) {
	b := &Bitmap{path: path, live: roaring.NewBitmap()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", txhashseterr.ErrIO, path, err)
	}
	if err := b.live.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", txhashseterr.ErrIO, path, err)
	}
	return b, nil
}

// Set marks i present.
func (b *Bitmap) Set(i uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live.Add(i)
}

// Clear marks i absent.
func (b *Bitmap) Clear(i uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live.Remove(i)
}

// Contains reports whether i is present.
func (b *Bitmap) Contains(i uint32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live.Contains(i)
}

// Snapshot returns an immutable clone of the current bitmap. The returned
// value is never mutated by subsequent Set/Clear calls on b — callers can
// hold it across a batch without taking any lock.
func (b *Bitmap) Snapshot() *roaring.Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live.Clone()
}

// Restore replaces the live bitmap with a clone of snapshot, used by
// rewind to restore the pre-batch leaf set.
func (b *Bitmap) Restore(snapshot *roaring.Bitmap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = snapshot.Clone()
}

// Cardinality returns the number of set bits.
func (b *Bitmap) Cardinality() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live.GetCardinality()
}

// Flush serializes the live bitmap to path via a temp file and rename.
func (b *Bitmap) Flush() error {
	b.mu.RLock()
	data, err := b.live.MarshalBinary()
	b.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", txhashseterr.ErrIO, b.path, err)
	}
	return writeFileAtomic(b.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %v", txhashseterr.ErrIO, path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", txhashseterr.ErrIO, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: fsync %s: %v", txhashseterr.ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file for %s: %v", txhashseterr.ErrIO, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename into %s: %v", txhashseterr.ErrIO, path, err)
	}
	return nil
}

// a pending snapshot/restore pair, captured before a batch starts mutating
// the bitmap, so Rollback can undo every Set/Clear the batch made.
type txState struct {
	before *roaring.Bitmap
}

// OnInitWrite captures the pre-batch state so Rollback can restore it.
func (b *Bitmap) OnInitWrite() error {
	b.pending = &txState{before: b.Snapshot()}
	return nil
}

// Commit flushes the live bitmap to disk and clears the pending rollback
// state.
func (b *Bitmap) Commit() error {
	b.pending = nil
	return b.Flush()
}

// Rollback restores the bitmap to the state captured by OnInitWrite.
func (b *Bitmap) Rollback() error {
	if b.pending != nil {
		b.Restore(b.pending.before)
		b.pending = nil
	}
	return nil
}

// OnEndWrite is a no-op, present to satisfy batch.Participant.
func (b *Bitmap) OnEndWrite() error { return nil }
