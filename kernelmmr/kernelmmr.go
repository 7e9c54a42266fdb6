// Package kernelmmr implements the non-prunable kernel Merkle Mountain
// Range described in spec §4.F: a HashFile of node hashes plus a variable,
// length-prefixed DataFile of kernel records. Unlike OutputPMMR and
// RangeProofPMMR, nothing is ever removed from it — there is no LeafSet or
// PruneList — because kernels are never spent, only appended.
package kernelmmr

import (
	"fmt"

	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/filestore"
	"github.com/mw-node/txhashset/mmr"
	"github.com/mw-node/txhashset/txhashseterr"
)

// KernelMMR is the append-only kernel log: every committed kernel, in block
// order, plus the MMR of their hashes.
type KernelMMR struct {
	hashes *filestore.HashFile
	data   *filestore.DataFile
	hasher *mmr.Hasher
}

// Open opens (or creates) the kernel MMR's hash and data files under dir.
func Open(dir string) (*KernelMMR, error) {
	hashes, err := filestore.OpenHashFile(dir + "/kernel_hash.bin")
	if err != nil {
		return nil, err
	}
	data, err := filestore.OpenDataFile(dir+"/kernel_data.bin", 0)
	if err != nil {
		return nil, err
	}
	return &KernelMMR{hashes: hashes, data: data, hasher: mmr.NewHasher()}, nil
}

// Size returns the current MMR node count (not the kernel/leaf count — see
// NLeaves).
func (k *KernelMMR) Size() uint64 {
	return k.hashes.Size()
}

// NLeaves returns the number of kernels committed so far.
func (k *KernelMMR) NLeaves() uint64 {
	return k.data.Size()
}

// Append adds a kernel to the log: the kernel record lands in the data file
// at the next leaf index, its hash is appended to the MMR, and every parent
// it completes along the right spine is backfilled. It returns the kernel's
// leaf position.
func (k *KernelMMR) Append(kernel chain.Kernel) (uint64, error) {
	leafIndex, err := k.data.Append(encodeKernel(kernel))
	if err != nil {
		return 0, err
	}
	wantPos := mmr.LeafToPos(leafIndex)
	if wantPos != k.hashes.Size() {
		return 0, fmt.Errorf("%w: kernel leaf %d expects MMR position %d, hash file is at %d",
			txhashseterr.ErrIO, leafIndex, wantPos, k.hashes.Size())
	}

	leafHash := k.hasher.HashLeaf(wantPos, encodeKernel(kernel))
	if _, err := mmr.AppendLeaf(k.hashes, k.hasher, leafHash); err != nil {
		return 0, err
	}
	return wantPos, nil
}

// Get returns the kernel stored at leafIndex.
func (k *KernelMMR) Get(leafIndex uint64) (*chain.Kernel, error) {
	raw, err := k.data.Get(leafIndex)
	if err != nil {
		return nil, err
	}
	return decodeKernel(raw)
}

// Root computes the bagged MMR root at the given size, which may be any
// size this MMR has ever held — kernel-history validation (spec §4.K step
// 4) calls this for every ancestor header's declared kernel MMR size, not
// only the current one.
func (k *KernelMMR) Root(size uint64) ([]byte, error) {
	return mmr.Root(k.hashes, k.hasher, size)
}

// HashAt returns the hash stored at MMR position pos, or ok=false if pos is
// beyond the MMR's current size. The kernel MMR is never pruned, so every
// in-range position always has a hash.
func (k *KernelMMR) HashAt(pos uint64) ([]byte, bool, error) {
	if pos >= k.hashes.Size() {
		return nil, false, nil
	}
	h, err := k.hashes.Get(pos)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// Rewind trims the MMR and kernel log back to size (an MMR node count) and
// nLeaves (a kernel count) — the pair a header declares together, since
// neither determines the other without also knowing the exact append
// history between them.
func (k *KernelMMR) Rewind(size, nLeaves uint64) error {
	if err := k.hashes.Rewind(size); err != nil {
		return err
	}
	return k.data.Rewind(nLeaves)
}

// OnInitWrite, Commit, Rollback, and OnEndWrite let a KernelMMR enlist with
// a batch.Coordinator directly, flushing its data file before its hash
// file per spec §4.J's "data before hash" ordering.
func (k *KernelMMR) OnInitWrite() error {
	if err := k.data.OnInitWrite(); err != nil {
		return err
	}
	return k.hashes.OnInitWrite()
}

func (k *KernelMMR) Commit() error {
	if err := k.data.Commit(); err != nil {
		return err
	}
	return k.hashes.Commit()
}

func (k *KernelMMR) Rollback() error {
	_ = k.data.Rollback()
	_ = k.hashes.Rollback()
	return nil
}

func (k *KernelMMR) OnEndWrite() error {
	_ = k.data.OnEndWrite()
	_ = k.hashes.OnEndWrite()
	return nil
}
