// Package snapshot implements the state-sync packaging described in spec
// §4.I: save_snapshot copies a TxHashSet's on-disk files to a destination
// directory; zip_for_peer packages the same files into a zip archive
// alongside a COSE-signed manifest (github.com/veraison/go-cose, the
// teacher's own signed-root mechanism in massifs/rootsigner.go, adapted here
// to authenticate a whole snapshot rather than a single MMR root) so a
// syncing peer can verify the archive came from a node it trusts before
// ever touching the files inside it.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mw-node/txhashset/txhashseterr"
)

// files lists every on-disk file a TxHashSet owns, in the flat layout this
// module actually writes: one hash/data file pair per MMR, plus the leaf
// set and prune list shared between OutputPMMR and RangeProofPMMR (see
// DESIGN.md for why they're shared rather than duplicated per MMR the way
// spec §6's literal per-directory layout implies).
var files = []string{
	"kernel_hash.bin",
	"kernel_data.bin",
	"output_hash.bin",
	"output_data.bin",
	"rangeproof_hash.bin",
	"rangeproof_data.bin",
	"pmmr_leafset.bin",
	"pmmr_prun.bin",
}

// Save copies every file a TxHashSet owns from srcDir into destDir,
// creating destDir if needed — spec §4.I's save_snapshot.
func Save(srcDir, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: create snapshot dir %s: %v", txhashseterr.ErrIO, destDir, err)
	}
	for _, name := range files {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", txhashseterr.ErrIO, src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", txhashseterr.ErrIO, dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: copy %s to %s: %v", txhashseterr.ErrIO, src, dest, err)
	}
	return out.Sync()
}
