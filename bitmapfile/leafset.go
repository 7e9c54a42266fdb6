package bitmapfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mw-node/txhashset/txhashseterr"
)

// LeafSet is the persistent roaring-bitmap of unspent leaf indices
// described in spec §4.C: a set bit means the leaf is unspent and its data
// record is still present; a clear bit means it has been spent (its record
// remains until compaction removes it).
type LeafSet struct {
	*Bitmap
}

const (
	leafSetFileName    = "pmmr_leafset.bin"
	legacyLeafFileName = "pmmr_leaf.bin"
)

// legacyPromoteMu serializes the legacy pmmr_leaf.bin -> pmmr_leafset.bin
// promotion across every LeafSet opened in this process. Two nodes racing
// to open the same directory at startup must not both attempt the rename
// at once — see spec §9's open question about this exact race, and
// DESIGN.md for the resolution.
var legacyPromoteMu sync.Mutex

// OpenLeafSet opens the leaf set file in dir, promoting a legacy
// pmmr_leaf.bin in place if pmmr_leafset.bin does not yet exist.
func OpenLeafSet(dir string) (*LeafSet, error) {
	path := filepath.Join(dir, leafSetFileName)

	legacyPromoteMu.Lock()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		legacyPath := filepath.Join(dir, legacyLeafFileName)
		if _, err := os.Stat(legacyPath); err == nil {
			if err := promoteLegacyLeafFile(legacyPath, path); err != nil {
				legacyPromoteMu.Unlock()
				return nil, err
			}
		}
	}
	legacyPromoteMu.Unlock()

	bm, err := openBitmap(path)
	if err != nil {
		return nil, err
	}
	return &LeafSet{Bitmap: bm}, nil
}

// promoteLegacyLeafFile copies the legacy bitmap file to its new name. The
// legacy and current formats are byte-compatible serialized roaring
// bitmaps, so promotion only needs to read the old bytes and write them
// under the new name — through writeFileAtomic, not os.Rename, so the
// legacy file survives untouched if a concurrent reader is still using it,
// and a crash mid-promotion never leaves neither file in a readable state.
func promoteLegacyLeafFile(legacyPath, newPath string) error {
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return fmt.Errorf("%w: read legacy leaf file %s: %v", txhashseterr.ErrIO, legacyPath, err)
	}
	return writeFileAtomic(newPath, data)
}
