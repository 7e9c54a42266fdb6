package filestore

import (
	"fmt"
	"sync"

	"github.com/mw-node/txhashset/txhashseterr"
)

// HashSize is the fixed width of every MMR node hash (pmmr_hash.bin).
const HashSize = 32

// HashFile is the append-only file of 32-byte hashes indexed by MMR
// position described in spec §4.A. Writes land in a staging slice;
// flush() is the only operation that touches disk.
type HashFile struct {
	mu sync.RWMutex

	path string

	// committed holds every hash already durably on disk, loaded eagerly
	// at Open time and kept in memory thereafter.
	committed [][]byte
	staged    [][]byte

	// pendingTruncate is the rewind target to apply on the next flush, or
	// -1 if no rewind is pending.
	pendingTruncate int64
}

// OpenHashFile opens (or creates, if absent) the hash file at path. If the
// file's size sidecar records fewer committed hashes than the file itself
// holds, the file's tail beyond that count is an interrupted flush and is
// discarded rather than trusted.
func OpenHashFile(path string) (*HashFile, error) {
	raw, err := readFileOrEmpty(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%HashSize != 0 {
		return nil, fmt.Errorf("%w: %s: length %d is not a multiple of %d",
			txhashseterr.ErrIO, path, len(raw), HashSize)
	}
	n := len(raw) / HashSize
	committedCount, err := reconcileSidecarCount(path, uint64(n))
	if err != nil {
		return nil, err
	}
	committed := make([][]byte, committedCount)
	for i := uint64(0); i < committedCount; i++ {
		h := make([]byte, HashSize)
		copy(h, raw[i*HashSize:(i+1)*HashSize])
		committed[i] = h
	}
	return &HashFile{path: path, committed: committed, pendingTruncate: -1}, nil
}

// Size returns the number of hashes visible through this HashFile,
// including anything appended since the last flush.
func (f *HashFile) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.committed) + len(f.staged))
}

// Append adds hash to the end of the file and returns the position it was
// written at. hash must be exactly HashSize bytes.
func (f *HashFile) Append(hash []byte) (uint64, error) {
	if len(hash) != HashSize {
		return 0, fmt.Errorf("%w: hash is %d bytes, want %d", txhashseterr.ErrIO, len(hash), HashSize)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, HashSize)
	copy(cp, hash)
	f.staged = append(f.staged, cp)
	return uint64(len(f.committed) + len(f.staged) - 1), nil
}

// Get returns the hash at pos, or an error wrapping
// txhashseterr.ErrNotFound if pos is beyond the current size.
func (f *HashFile) Get(pos uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pos < uint64(len(f.committed)) {
		return f.committed[pos], nil
	}
	i := pos - uint64(len(f.committed))
	if i < uint64(len(f.staged)) {
		return f.staged[i], nil
	}
	return nil, fmt.Errorf("%w: hash position %d", txhashseterr.ErrNotFound, pos)
}

// Rewind trims the file back to size new_size. If new_size falls within
// the staged (unflushed) region this is applied immediately; otherwise it
// is recorded and applied atomically on the next Flush.
func (f *HashFile) Rewind(newSize uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := uint64(len(f.committed) + len(f.staged))
	if newSize > total {
		return fmt.Errorf("%w: rewind target %d exceeds current size %d", txhashseterr.ErrIO, newSize, total)
	}
	if newSize >= uint64(len(f.committed)) {
		f.staged = f.staged[:newSize-uint64(len(f.committed))]
		return nil
	}
	f.staged = nil
	f.pendingTruncate = int64(newSize)
	return nil
}

// Discard drops every unflushed append, leaving the file exactly as it was
// after the last successful Flush.
func (f *HashFile) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = nil
	f.pendingTruncate = -1
}

// Flush durably applies every pending append and rewind: any pending
// truncation of the committed region is applied first, then the staged
// tail is appended, all via one atomic rewrite-and-rename of the file.
func (f *HashFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	truncated := f.pendingTruncate >= 0
	if truncated {
		f.committed = f.committed[:f.pendingTruncate]
		f.pendingTruncate = -1
	}

	if len(f.staged) == 0 && !truncated {
		return nil
	}

	tail := make([]byte, 0, len(f.staged)*HashSize)
	for _, h := range f.staged {
		tail = append(tail, h...)
	}
	existing := make([]byte, 0, len(f.committed)*HashSize)
	for _, h := range f.committed {
		existing = append(existing, h...)
	}
	if err := appendFileAtomic(f.path, existing, tail); err != nil {
		return err
	}
	f.committed = append(f.committed, f.staged...)
	f.staged = nil
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

// TruncateTo immediately discards any hash at or beyond newSize, both in
// memory and on disk, bypassing the stage/flush pipeline. Used by
// compaction, which is already rewriting the whole file.
func (f *HashFile) TruncateTo(newSize uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if newSize > uint64(len(f.committed)) {
		return fmt.Errorf("%w: truncate target %d exceeds committed size %d",
			txhashseterr.ErrIO, newSize, len(f.committed))
	}
	f.committed = f.committed[:newSize]
	f.staged = nil
	f.pendingTruncate = -1

	existing := make([]byte, 0, len(f.committed)*HashSize)
	for _, h := range f.committed {
		existing = append(existing, h...)
	}
	if err := writeFileAtomic(f.path, existing); err != nil {
		return err
	}
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

// RewriteAll atomically replaces the entire committed hash set with
// hashes, used by PMMR compaction when it rewrites a hash file with pruned
// subtrees removed. Any unflushed staged append is dropped — compaction
// only ever runs against a freshly committed state.
func (f *HashFile) RewriteAll(hashes [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = nil
	f.pendingTruncate = -1
	f.committed = hashes

	existing := make([]byte, 0, len(f.committed)*HashSize)
	for _, h := range f.committed {
		existing = append(existing, h...)
	}
	if err := writeFileAtomic(f.path, existing); err != nil {
		return err
	}
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

// OnInitWrite is a no-op: HashFile has no per-batch setup beyond what the
// staging slice already provides.
func (f *HashFile) OnInitWrite() error { return nil }

// Commit flushes every staged append and pending rewind to disk.
func (f *HashFile) Commit() error { return f.Flush() }

// Rollback discards every staged append and pending rewind.
func (f *HashFile) Rollback() error { f.Discard(); return nil }

// OnEndWrite is a no-op, present to satisfy batch.Participant.
func (f *HashFile) OnEndWrite() error { return nil }
