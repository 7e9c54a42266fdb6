package filestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mw-node/txhashset/txhashseterr"
)

// DataFile is the append-only file of leaf records indexed by leaf index
// described in spec §4.B. recordSize is fixed at construction: a positive
// value means every record is exactly that many bytes (outputs, range
// proofs); zero means records are variable length and length-prefixed with
// a little-endian uint32, the encoding the spec requires for kernels.
type DataFile struct {
	mu sync.RWMutex

	path       string
	recordSize int

	committed [][]byte
	staged    [][]byte

	pendingTruncate int64
}

// OpenDataFile opens (or creates, if absent) the data file at path with the
// given fixed record size, or 0 for variable length-prefixed records. If the
// file's size sidecar records fewer committed records than the file itself
// holds, the tail beyond that count is an interrupted flush and is discarded
// rather than trusted — see HashFile.Open.
func OpenDataFile(path string, recordSize int) (*DataFile, error) {
	raw, err := readFileOrEmpty(path)
	if err != nil {
		return nil, err
	}
	var parsed [][]byte
	if recordSize > 0 {
		if len(raw)%recordSize != 0 {
			return nil, fmt.Errorf("%w: %s: length %d is not a multiple of record size %d",
				txhashseterr.ErrIO, path, len(raw), recordSize)
		}
		for off := 0; off < len(raw); off += recordSize {
			rec := make([]byte, recordSize)
			copy(rec, raw[off:off+recordSize])
			parsed = append(parsed, rec)
		}
	} else {
		off := 0
		for off < len(raw) {
			if off+4 > len(raw) {
				return nil, fmt.Errorf("%w: %s: truncated length prefix at offset %d",
					txhashseterr.ErrIO, path, off)
			}
			n := int(binary.LittleEndian.Uint32(raw[off : off+4]))
			off += 4
			if off+n > len(raw) {
				return nil, fmt.Errorf("%w: %s: truncated record at offset %d", txhashseterr.ErrIO, path, off)
			}
			rec := make([]byte, n)
			copy(rec, raw[off:off+n])
			parsed = append(parsed, rec)
			off += n
		}
	}
	committedCount, err := reconcileSidecarCount(path, uint64(len(parsed)))
	if err != nil {
		return nil, err
	}
	committed := parsed[:committedCount]
	return &DataFile{path: path, recordSize: recordSize, committed: committed, pendingTruncate: -1}, nil
}

// Size returns the number of records visible through this DataFile.
func (f *DataFile) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return uint64(len(f.committed) + len(f.staged))
}

// Append adds record to the end of the file and returns the leaf index it
// was written at.
func (f *DataFile) Append(record []byte) (uint64, error) {
	if f.recordSize > 0 && len(record) != f.recordSize {
		return 0, fmt.Errorf("%w: record is %d bytes, want %d", txhashseterr.ErrIO, len(record), f.recordSize)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(record))
	copy(cp, record)
	f.staged = append(f.staged, cp)
	return uint64(len(f.committed) + len(f.staged) - 1), nil
}

// Get returns the record at leafIndex.
func (f *DataFile) Get(leafIndex uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if leafIndex < uint64(len(f.committed)) {
		return f.committed[leafIndex], nil
	}
	i := leafIndex - uint64(len(f.committed))
	if i < uint64(len(f.staged)) {
		return f.staged[i], nil
	}
	return nil, fmt.Errorf("%w: data record %d", txhashseterr.ErrNotFound, leafIndex)
}

// Rewind trims the file back to newSize records, staged immediately if
// possible and otherwise applied on the next Flush — see HashFile.Rewind.
func (f *DataFile) Rewind(newSize uint64) error {
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

// Discard drops every unflushed append and pending rewind.
func (f *DataFile) Discard() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = nil
	f.pendingTruncate = -1
}

func (f *DataFile) encode(rec []byte) []byte {
	if f.recordSize > 0 {
		return rec
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(rec)))
	out := make([]byte, 0, 4+len(rec))
	out = append(out, lenPrefix[:]...)
	out = append(out, rec...)
	return out
}

// Flush durably applies every pending append and rewind — see
// HashFile.Flush.
func (f *DataFile) Flush() error {
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

	var tail []byte
	for _, rec := range f.staged {
		tail = append(tail, f.encode(rec)...)
	}
	var existing []byte
	for _, rec := range f.committed {
		existing = append(existing, f.encode(rec)...)
	}
	if err := appendFileAtomic(f.path, existing, tail); err != nil {
		return err
	}
	f.committed = append(f.committed, f.staged...)
	f.staged = nil
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

// TruncateTo immediately discards any record at or beyond newSize, both in
// memory and on disk — see HashFile.TruncateTo.
func (f *DataFile) TruncateTo(newSize uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if newSize > uint64(len(f.committed)) {
		return fmt.Errorf("%w: truncate target %d exceeds committed size %d",
			txhashseterr.ErrIO, newSize, len(f.committed))
	}
	f.committed = f.committed[:newSize]
	f.staged = nil
	f.pendingTruncate = -1

	var existing []byte
	for _, rec := range f.committed {
		existing = append(existing, f.encode(rec)...)
	}
	if err := writeFileAtomic(f.path, existing); err != nil {
		return err
	}
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

// RewriteRecords atomically replaces the entire committed record set with
// records, used by compaction when it rewrites a data file with spent
// leaves removed. Any unflushed staged append is dropped — compaction only
// ever runs against a freshly committed state.
func (f *DataFile) RewriteRecords(records [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = nil
	f.pendingTruncate = -1
	f.committed = records

	var existing []byte
	for _, rec := range f.committed {
		existing = append(existing, f.encode(rec)...)
	}
	if err := writeFileAtomic(f.path, existing); err != nil {
		return err
	}
	return writeSidecarCount(f.path, uint64(len(f.committed)))
}

func (f *DataFile) OnInitWrite() error { return nil }
func (f *DataFile) Commit() error      { return f.Flush() }
func (f *DataFile) Rollback() error    { f.Discard(); return nil }
func (f *DataFile) OnEndWrite() error  { return nil }
