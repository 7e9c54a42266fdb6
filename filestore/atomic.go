// Package filestore implements the append-only flat files that back every
// MMR: a HashFile of 32-byte node hashes indexed by MMR position, and a
// DataFile of leaf records indexed by leaf index, either fixed width or
// length-prefixed variable width.
//
// Both types buffer appended records in memory and only touch disk on
// flush: a flush writes the whole committed-plus-new-tail content to a temp
// file, fsyncs it, and renames it over the live file, then does the same for
// a "<name>.size" sidecar recording the committed element count (see
// DESIGN.md). The data rename always happens before the sidecar rename, so
// a crash between the two leaves a file that is ahead of its sidecar —
// detected on the next open and the extra tail discarded, rather than
// assumed committed on the strength of the data file alone.
package filestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mw-node/txhashset/txhashseterr"
)

// writeFileAtomic writes data to path by way of a temp file in the same
// directory, fsynced and renamed into place. The temp file is always
// cleaned up, even on failure.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %v", txhashseterr.ErrIO, path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

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

// appendFileAtomic appends data to the file at path by writing the whole
// extended content through an fsynced temp file and rename. This is the same discipline as
// writeFileAtomic; flat files always flush through a full rewrite of the
// committed region plus the new tail rather than an in-place append, so a
// reader never observes a file whose length disagrees with its contents.
func appendFileAtomic(path string, existing []byte, tail []byte) error {
	combined := make([]byte, 0, len(existing)+len(tail))
	combined = append(combined, existing...)
	combined = append(combined, tail...)
	return writeFileAtomic(path, combined)
}

func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", txhashseterr.ErrIO, path, err)
	}
	return data, nil
}

// sidecarPath is the size sidecar for the data/hash file at path.
func sidecarPath(path string) string {
	return path + ".size"
}

// writeSidecarCount durably records count as path's committed element
// count, via the same write-temp-then-rename discipline as the data file
// itself. Callers write the data file first, then the sidecar, so the
// sidecar renaming is always the last thing a flush does.
func writeSidecarCount(path string, count uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	return writeFileAtomic(sidecarPath(path), buf[:])
}

// readSidecarCount reads the committed element count recorded in path's
// size sidecar. ok is false if the sidecar does not exist yet — either the
// file was written before this mechanism existed, or it has never been
// flushed.
func readSidecarCount(path string) (uint64, bool, error) {
	raw, err := readFileOrEmpty(sidecarPath(path))
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("%w: %s: size sidecar is %d bytes, want 8",
			txhashseterr.ErrIO, sidecarPath(path), len(raw))
	}
	return binary.LittleEndian.Uint64(raw), true, nil
}

// reconcileSidecarCount compares actualCount — the element count derived
// from the data/hash file's own on-disk length — against path's size
// sidecar, and returns the element count the caller should actually trust.
// A sidecar smaller than actualCount means the data file's rename completed
// but the sidecar's didn't: the tail beyond the sidecar's count was never
// durably committed and is discarded. A missing sidecar trusts actualCount
// outright (the file predates this mechanism). A sidecar larger than
// actualCount can never happen given the write order above, and is reported
// as corruption rather than silently clamped.
func reconcileSidecarCount(path string, actualCount uint64) (uint64, error) {
	sidecarCount, ok, err := readSidecarCount(path)
	if err != nil {
		return 0, err
	}
	if !ok {
		return actualCount, nil
	}
	if sidecarCount > actualCount {
		return 0, fmt.Errorf("%w: %s: size sidecar records %d elements but the file only has %d",
			txhashseterr.ErrIO, path, sidecarCount, actualCount)
	}
	return sidecarCount, nil
}
