// Package txhashset implements the coordinator described in spec §4.I: it
// owns the kernel, output, and range-proof MMRs and the write lease that
// guards every mutation of them, and exposes the operations the rest of
// the node drives block application, reorg, and state sync through.
package txhashset

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mw-node/txhashset/batch"
	"github.com/mw-node/txhashset/bitmapfile"
	"github.com/mw-node/txhashset/blockdb"
	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/kernelmmr"
	"github.com/mw-node/txhashset/mmr"
	"github.com/mw-node/txhashset/pmmr"
	"github.com/mw-node/txhashset/snapshot"
	"github.com/mw-node/txhashset/txhashseterr"
)

// TxHashSet owns the kernel, output, and range-proof MMRs (spec components
// F, G, H) and the write mutex guarding all three.
type TxHashSet struct {
	dir string

	kernels     *kernelmmr.KernelMMR
	outputs     *pmmr.PMMR[chain.Output]
	rangeProofs *pmmr.PMMR[chain.RangeProof]

	leafSet   *bitmapfile.LeafSet
	pruneList *bitmapfile.PruneList

	lease lease
	log   logger.Logger
}

// Open opens (or creates) every file this TxHashSet owns under dir.
func Open(dir string) (*TxHashSet, error) {
	kernels, err := kernelmmr.Open(dir)
	if err != nil {
		return nil, err
	}
	leafSet, err := bitmapfile.OpenLeafSet(dir)
	if err != nil {
		return nil, err
	}
	pruneList, err := bitmapfile.OpenPruneList(dir)
	if err != nil {
		return nil, err
	}
	outputs, err := pmmr.NewOutputPMMR(dir, leafSet, pruneList)
	if err != nil {
		return nil, err
	}
	rangeProofs, err := pmmr.NewRangeProofPMMR(dir, leafSet, pruneList)
	if err != nil {
		return nil, err
	}
	return &TxHashSet{
		dir:         dir,
		kernels:     kernels,
		outputs:     outputs,
		rangeProofs: rangeProofs,
		leafSet:     leafSet,
		pruneList:   pruneList,
		log:         logger.Sugar.WithServiceName("txhashset"),
	}, nil
}

// Roots is the bagged root of each of the three MMRs at their current
// size, the value TxHashSet::root_hashes surfaces to callers (spec §6).
type Roots struct {
	KernelRoot     []byte
	OutputRoot     []byte
	RangeProofRoot []byte
}

// RootHashes recomputes and returns the current root of all three MMRs
// under the read lease.
func (t *TxHashSet) RootHashes() (Roots, error) {
	release := t.lease.lockRead()
	defer release()
	return t.rootsLocked(t.kernels.Size(), t.outputs.Size(), t.rangeProofs.Size())
}

func (t *TxHashSet) rootsLocked(kernelSize, outputSize, rangeProofSize uint64) (Roots, error) {
	kernelRoot, err := t.kernels.Root(kernelSize)
	if err != nil {
		return Roots{}, err
	}
	outputRoot, err := t.outputs.Root(outputSize)
	if err != nil {
		return Roots{}, err
	}
	rangeProofRoot, err := t.rangeProofs.Root(rangeProofSize)
	if err != nil {
		return Roots{}, err
	}
	return Roots{KernelRoot: kernelRoot, OutputRoot: outputRoot, RangeProofRoot: rangeProofRoot}, nil
}

// ApplyBlock appends block's kernels, outputs, and range proofs, removes
// the outputs block's inputs spend, and records the resulting output
// positions and the block's spent-input bitmap in kv — the bitmap Rewind
// later reads back to undo this block — all as one batch: on any error,
// every file and kv are rolled back and the set is left byte-identical to
// its pre-apply state (spec §4.I, §4.J, §7).
func (t *TxHashSet) ApplyBlock(ctx context.Context, block chain.Block, kv *blockdb.Tx) error {
	release := t.lease.lockWrite()
	defer release()

	t.log.Debugf("apply_block: height=%d kernels=%d outputs=%d inputs=%d",
		block.Header.Height, len(block.Kernels), len(block.Outputs), len(block.Inputs))

	coord := batch.NewCoordinator(t.kernels, t.outputs, t.rangeProofs, t.leafSet, t.pruneList, kv)
	err := coord.Run(ctx, func(ctx context.Context) error {
		for _, k := range block.Kernels {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := t.kernels.Append(k); err != nil {
				return err
			}
		}

		if len(block.Outputs) != len(block.RangeProofs) {
			return fmt.Errorf("%w: block has %d outputs but %d range proofs",
				txhashseterr.ErrIO, len(block.Outputs), len(block.RangeProofs))
		}
		for i, o := range block.Outputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			pos, err := t.outputs.Append(o)
			if err != nil {
				return err
			}
			if _, err := t.rangeProofs.Append(block.RangeProofs[i]); err != nil {
				return err
			}
			if err := kv.PutOutputPosition(o.Commitment, pos); err != nil {
				return err
			}
		}

		spentBitmap := roaring.New()
		for _, in := range block.Inputs {
			if err := ctx.Err(); err != nil {
				return err
			}
			pos, ok, err := kv.GetOutputPosition(in.Commitment)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: input commitment not found in the output position index", txhashseterr.ErrNotFound)
			}
			if err := t.outputs.Remove(pos); err != nil {
				return err
			}
			if err := t.rangeProofs.Remove(pos); err != nil {
				return err
			}
			if err := kv.DeleteOutputPosition(in.Commitment); err != nil {
				return err
			}
			spentBitmap.Add(uint32(mmr.PosToLeaf(pos)))
		}

		raw, err := spentBitmap.MarshalBinary()
		if err != nil {
			return fmt.Errorf("%w: encode input bitmap: %v", txhashseterr.ErrIO, err)
		}
		return kv.PutInputBitmap(block.Header.Hash, raw)
	})
	if err != nil {
		t.log.Infof("apply_block: height=%d rolled back: %v", block.Header.Height, err)
		return err
	}
	return nil
}

// ValidateRoots recomputes each MMR's root at header's declared sizes and
// compares them against the header's committed roots (spec §4.I's
// validate_roots, and the root-check step of spec §4.K's pipeline).
func (t *TxHashSet) ValidateRoots(header chain.Header) error {
	release := t.lease.lockRead()
	defer release()

	roots, err := t.rootsLocked(header.KernelMMRSize, header.OutputMMRSize, header.RangeProofMMRSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(roots.KernelRoot, header.KernelRoot[:]) {
		return fmt.Errorf("%w: kernel root", txhashseterr.ErrInvalidMMRRoot)
	}
	if !bytes.Equal(roots.OutputRoot, header.OutputRoot[:]) {
		return fmt.Errorf("%w: output root", txhashseterr.ErrInvalidMMRRoot)
	}
	if !bytes.Equal(roots.RangeProofRoot, header.RangeProofRoot[:]) {
		return fmt.Errorf("%w: range proof root", txhashseterr.ErrInvalidMMRRoot)
	}
	return nil
}

// Rewind restores each MMR to the sizes header declares and the leaf set to
// its state before reversedBlockHash was applied, per spec §4.I's
// "rewind(header): restore each MMR to sizes from header and leaf-sets to
// the input bitmap for the block being reversed." The pre-block leaf set is
// reconstructed rather than supplied by the caller: reversedBlockHash's
// spent-input bitmap, persisted by ApplyBlock via kv.PutInputBitmap, is
// OR'd back onto the current leaf set, restoring exactly the bits that
// block's application cleared, and every bit at or beyond the leaf count of
// header's output MMR size is cleared, dropping the leaves the reversed
// block appended.
func (t *TxHashSet) Rewind(header chain.Header, reversedBlockHash [32]byte, kv *blockdb.Tx) error {
	release := t.lease.lockWrite()
	defer release()

	t.log.Infof("rewind: target kernel_size=%d output_size=%d range_proof_size=%d",
		header.KernelMMRSize, header.OutputMMRSize, header.RangeProofMMRSize)

	raw, ok, err := kv.GetInputBitmap(reversedBlockHash)
	if err != nil {
		return err
	}
	restoredLeafSet := t.leafSet.Snapshot()
	if ok {
		spent := roaring.New()
		if err := spent.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("%w: decode input bitmap for %x: %v", txhashseterr.ErrIO, reversedBlockHash, err)
		}
		restoredLeafSet.Or(spent)
	}
	restoredLeafSet.RemoveRange(mmr.NLeaves(header.OutputMMRSize), uint64(1)<<32)

	if err := t.kernels.Rewind(header.KernelMMRSize, mmr.NLeaves(header.KernelMMRSize)); err != nil {
		return err
	}
	if err := t.outputs.Rewind(header.OutputMMRSize, restoredLeafSet); err != nil {
		return err
	}
	if err := t.rangeProofs.Rewind(header.RangeProofMMRSize, restoredLeafSet); err != nil {
		return err
	}
	return nil
}

// Compact runs PMMR compaction on the output and range-proof MMRs,
// physically removing every fully-pruned subtree from their hash and data
// files. KernelMMR is never compacted: kernels are never spent.
func (t *TxHashSet) Compact() error {
	release := t.lease.lockWrite()
	defer release()
	t.log.Infof("compact: output_leaves=%d range_proof_leaves=%d", t.outputs.NLeaves(), t.rangeProofs.NLeaves())
	if err := t.outputs.Compact(); err != nil {
		return err
	}
	return t.rangeProofs.Compact()
}

// Kernels, Outputs, and RangeProofs expose the underlying MMRs directly
// for read-only queries (eg get_output_by_commitment handlers) that only
// need the read lease, not a full TxHashSet operation.
func (t *TxHashSet) Kernels() *kernelmmr.KernelMMR             { return t.kernels }
func (t *TxHashSet) Outputs() *pmmr.PMMR[chain.Output]         { return t.outputs }
func (t *TxHashSet) RangeProofs() *pmmr.PMMR[chain.RangeProof] { return t.rangeProofs }

// WithReadLease runs fn while holding the read lease, for callers (eg REST
// handlers) that need a consistent snapshot across more than one read.
func (t *TxHashSet) WithReadLease(fn func() error) error {
	release := t.lease.lockRead()
	defer release()
	return fn()
}

// SaveSnapshot copies every file this TxHashSet owns into destDir, under
// the read lease so the copy is internally consistent — spec §4.I's
// save_snapshot.
func (t *TxHashSet) SaveSnapshot(destDir string) error {
	release := t.lease.lockRead()
	defer release()
	t.log.Infof("save_snapshot: dest=%s", destDir)
	return snapshot.Save(t.dir, destDir)
}

// ZipForPeer packages this TxHashSet's files into a zip archive written to
// w, signed under signer and authenticated at header — spec §4.I's
// zip_for_peer. header should be the set's current tip; the caller is
// responsible for picking a header consistent with the sizes this TxHashSet
// holds when the archive is produced, since the read lease is released as
// soon as the file bytes are captured.
func (t *TxHashSet) ZipForPeer(w io.Writer, header chain.Header, signer *ecdsa.PrivateKey, external []byte) error {
	release := t.lease.lockRead()
	defer release()
	t.log.Infof("zip_for_peer: height=%d", header.Height)
	return snapshot.ZipForPeer(t.dir, w, header, signer, external)
}
