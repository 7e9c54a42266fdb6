// Package validate implements the whole-set validation pipeline described
// in spec §4.K: size, hash, root, kernel-history, kernel-sum, range-proof,
// and kernel-signature checks run in that order against a txhashset.TxHashSet
// and the header it is being validated against.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/kernelmmr"
	"github.com/mw-node/txhashset/mmr"
	"github.com/mw-node/txhashset/pmmr"
	"github.com/mw-node/txhashset/txhashset"
	"github.com/mw-node/txhashset/txhashseterr"
)

// rangeProofBatchSize is the number of (commitment, proof) pairs submitted
// to Crypto.VerifyRangeProofs per call — spec §4.K step 6's "every 2,000
// pairs."
const rangeProofBatchSize = 2000

// Validator runs the seven-step validation pipeline against a TxHashSet.
// It holds no state of its own beyond its two out-of-scope collaborators.
type Validator struct {
	blockChain chain.BlockChain
	crypto     chain.Crypto
	log        logger.Logger
}

// NewValidator constructs a Validator against the given BlockChain and
// Crypto collaborators.
func NewValidator(blockChain chain.BlockChain, crypto chain.Crypto) *Validator {
	return &Validator{blockChain: blockChain, crypto: crypto, log: logger.Sugar.WithServiceName("validate")}
}

// hashGetter is satisfied by both kernelmmr.KernelMMR and pmmr.PMMR[T] for
// any T — the hash-check step (spec §4.K step 2) runs identically over all
// three MMRs without needing to know which kind of leaf each carries.
type hashGetter interface {
	HashAt(pos uint64) ([]byte, bool, error)
}

// Validate runs every step of spec §4.K's pipeline against set for header,
// returning the BlockSums to be persisted alongside header on success. Any
// step's failure is fatal: no partial state is retained, and the caller
// should not persist anything derived from a failed Validate.
func (v *Validator) Validate(ctx context.Context, set *txhashset.TxHashSet, header chain.Header) (chain.BlockSums, error) {
	v.log.Infof("validate: height=%d kernel_mmr_size=%d output_mmr_size=%d range_proof_mmr_size=%d",
		header.Height, header.KernelMMRSize, header.OutputMMRSize, header.RangeProofMMRSize)

	var sums chain.BlockSums
	err := set.WithReadLease(func() error {
		kernels, outputs, rangeProofs := set.Kernels(), set.Outputs(), set.RangeProofs()

		if err := checkSizes(kernels, outputs, rangeProofs, header); err != nil {
			return err
		}
		if err := checkHashesParallel(kernels, outputs, rangeProofs, header); err != nil {
			return err
		}
		if err := checkRoots(kernels, outputs, rangeProofs, header); err != nil {
			return err
		}
		if err := v.checkKernelHistory(ctx, kernels, header); err != nil {
			return err
		}

		s, err := v.checkKernelSums(outputs, kernels, header)
		if err != nil {
			return err
		}
		sums = s

		if err := v.checkRangeProofs(ctx, outputs, rangeProofs); err != nil {
			return err
		}
		return v.checkKernelSignatures(ctx, kernels)
	})
	if err != nil {
		v.log.Infof("validate: height=%d rejected: %v", header.Height, err)
		return chain.BlockSums{}, err
	}
	return sums, nil
}

// checkSizes is spec §4.K step 1.
func checkSizes(kernels *kernelmmr.KernelMMR, outputs, rangeProofs interface{ Size() uint64 }, header chain.Header) error {
	if kernels.Size() != header.KernelMMRSize {
		return fmt.Errorf("%w: kernel mmr size %d, header declares %d",
			txhashseterr.ErrInvalidMMRSize, kernels.Size(), header.KernelMMRSize)
	}
	if outputs.Size() != header.OutputMMRSize {
		return fmt.Errorf("%w: output mmr size %d, header declares %d",
			txhashseterr.ErrInvalidMMRSize, outputs.Size(), header.OutputMMRSize)
	}
	if rangeProofs.Size() != header.RangeProofMMRSize {
		return fmt.Errorf("%w: range proof mmr size %d, header declares %d",
			txhashseterr.ErrInvalidMMRSize, rangeProofs.Size(), header.RangeProofMMRSize)
	}
	return nil
}

// checkHashesParallel is spec §4.K step 2: the three MMRs are independent,
// so their hash checks run concurrently over a bounded errgroup rather than
// sequentially.
func checkHashesParallel(kernels *kernelmmr.KernelMMR, outputs, rangeProofs hashGetter, header chain.Header) error {
	hasher := mmr.NewHasher()
	g := new(errgroup.Group)
	g.Go(func() error { return checkHashes(header.KernelMMRSize, kernels, hasher) })
	g.Go(func() error { return checkHashes(header.OutputMMRSize, outputs, hasher) })
	g.Go(func() error { return checkHashes(header.RangeProofMMRSize, rangeProofs, hasher) })
	return g.Wait()
}

// checkHashes verifies H(p) = Blake2b(p ‖ H(left) ‖ H(right)) for every
// non-leaf position in [0, size) whose own hash and both children's hashes
// are present — a pruned subtree is silently skipped, matching "whose hash
// is present along with both children."
func checkHashes(size uint64, hg hashGetter, hasher *mmr.Hasher) error {
	for p := uint64(0); p < size; p++ {
		if mmr.Height(p) == 0 {
			continue
		}
		nodeHash, ok, err := hg.HashAt(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		left, _ := mmr.LeftChild(p)
		right, _ := mmr.RightChild(p)
		leftHash, leftOK, err := hg.HashAt(left)
		if err != nil {
			return err
		}
		rightHash, rightOK, err := hg.HashAt(right)
		if err != nil {
			return err
		}
		if !leftOK || !rightOK {
			continue
		}
		want := hasher.HashParent(p, leftHash, rightHash)
		if !bytes.Equal(nodeHash, want) {
			return fmt.Errorf("%w: position %d", txhashseterr.ErrInvalidMMRHash, p)
		}
	}
	return nil
}

// checkRoots is spec §4.K step 3.
func checkRoots(kernels *kernelmmr.KernelMMR, outputs *pmmr.PMMR[chain.Output], rangeProofs *pmmr.PMMR[chain.RangeProof], header chain.Header) error {
	kernelRoot, err := kernels.Root(header.KernelMMRSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(kernelRoot, header.KernelRoot[:]) {
		return fmt.Errorf("%w: kernel root mismatch", txhashseterr.ErrInvalidMMRRoot)
	}
	outputRoot, err := outputs.Root(header.OutputMMRSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(outputRoot, header.OutputRoot[:]) {
		return fmt.Errorf("%w: output root mismatch", txhashseterr.ErrInvalidMMRRoot)
	}
	rangeProofRoot, err := rangeProofs.Root(header.RangeProofMMRSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(rangeProofRoot, header.RangeProofRoot[:]) {
		return fmt.Errorf("%w: range proof root mismatch", txhashseterr.ErrInvalidMMRRoot)
	}
	return nil
}

// checkKernelHistory is spec §4.K step 4: walk every ancestor header on the
// candidate chain and verify the kernel MMR's root at that ancestor's
// declared size reproduces the hash the ancestor itself committed to —
// proof that today's kernel log is a superset-preserving extension of every
// past one, never a rewrite.
func (v *Validator) checkKernelHistory(ctx context.Context, kernels *kernelmmr.KernelMMR, header chain.Header) error {
	for h := uint64(0); h <= header.Height; h++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", txhashseterr.ErrCancelled, err)
		}
		ancestor, err := v.blockChain.GetHeaderByHeight(ctx, h, chain.CandidateChain)
		if err != nil {
			return err
		}
		root, err := kernels.Root(ancestor.KernelMMRSize)
		if err != nil {
			return err
		}
		if !bytes.Equal(root, ancestor.KernelRoot[:]) {
			return fmt.Errorf("%w: kernel mmr at height %d does not reproduce its own committed root",
				txhashseterr.ErrInvalidKernelHistory, h)
		}
	}
	return nil
}

// zeroCommitment is this module's convention for the additive identity
// under chain.Crypto.SumCommitments — the value a correctly-balanced
// transaction graph sums to. Real Pedersen commitments sum to the curve's
// point at infinity, not the all-zero byte string; since chain.Crypto is an
// opaque boundary this module never implements, the value a caller's
// implementation maps to this identity is its concern, not this package's.
var zeroCommitment chain.Commitment

// checkKernelSums is spec §4.K step 5: every unspent output commitment
// minus every kernel excess, the per-block supply commitment, and the
// genesis offset, must sum to zero.
func (v *Validator) checkKernelSums(outputs *pmmr.PMMR[chain.Output], kernels *kernelmmr.KernelMMR, header chain.Header) (chain.BlockSums, error) {
	var outputCommitments []chain.Commitment
	for leafIndex := uint64(0); leafIndex < outputs.NLeaves(); leafIndex++ {
		pos := mmr.LeafToPos(leafIndex)
		out, ok, err := outputs.GetAt(pos)
		if err != nil {
			return chain.BlockSums{}, err
		}
		if !ok {
			continue
		}
		outputCommitments = append(outputCommitments, out.Commitment)
	}
	outputSum, err := v.crypto.SumCommitments(outputCommitments)
	if err != nil {
		return chain.BlockSums{}, err
	}

	var kernelExcesses []chain.Commitment
	for leafIndex := uint64(0); leafIndex < kernels.NLeaves(); leafIndex++ {
		k, err := kernels.Get(leafIndex)
		if err != nil {
			return chain.BlockSums{}, err
		}
		kernelExcesses = append(kernelExcesses, k.Excess)
	}
	kernelSum, err := v.crypto.SumCommitments(kernelExcesses)
	if err != nil {
		return chain.BlockSums{}, err
	}

	balance, err := v.crypto.SumCommitmentsNegative([]chain.Commitment{
		kernelSum, header.KernelOffset, header.TotalSupplyCommitment,
	})
	if err != nil {
		return chain.BlockSums{}, err
	}
	balance, err = v.crypto.SumCommitments([]chain.Commitment{outputSum, balance})
	if err != nil {
		return chain.BlockSums{}, err
	}
	if balance != zeroCommitment {
		return chain.BlockSums{}, fmt.Errorf("%w: output/kernel/offset balance does not sum to zero",
			txhashseterr.ErrInvalidKernelSum)
	}

	return chain.BlockSums{OutputSum: outputSum, KernelSum: kernelSum}, nil
}

// checkRangeProofs is spec §4.K step 6: every unspent output's range proof
// is verified, batched in groups of rangeProofBatchSize and fanned out
// across a bounded worker pool.
func (v *Validator) checkRangeProofs(ctx context.Context, outputs *pmmr.PMMR[chain.Output], rangeProofs *pmmr.PMMR[chain.RangeProof]) error {
	var pending []chain.RangeProofPair
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	flush := func(batch []chain.RangeProofPair) {
		g.Go(func() error {
			ok, err := v.crypto.VerifyRangeProofs(gctx, batch)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: batch of %d range proofs failed verification",
					txhashseterr.ErrInvalidRangeProof, len(batch))
			}
			return nil
		})
	}

	for leafIndex := uint64(0); leafIndex < outputs.NLeaves(); leafIndex++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", txhashseterr.ErrCancelled, err)
		}
		pos := mmr.LeafToPos(leafIndex)
		out, ok, err := outputs.GetAt(pos)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		proof, ok, err := rangeProofs.GetAt(pos)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: output at position %d has no matching range proof", txhashseterr.ErrInvalidRangeProof, pos)
		}
		pending = append(pending, chain.RangeProofPair{Commitment: out.Commitment, Proof: proof})
		if len(pending) == rangeProofBatchSize {
			flush(pending)
			pending = nil
		}
	}
	if len(pending) > 0 {
		flush(pending)
	}
	return g.Wait()
}

// checkKernelSignatures is spec §4.K step 7: batch-verify every kernel's
// aggregate Schnorr signature in one call.
func (v *Validator) checkKernelSignatures(ctx context.Context, kernels *kernelmmr.KernelMMR) error {
	all := make([]chain.Kernel, 0, kernels.NLeaves())
	for leafIndex := uint64(0); leafIndex < kernels.NLeaves(); leafIndex++ {
		k, err := kernels.Get(leafIndex)
		if err != nil {
			return err
		}
		all = append(all, *k)
	}
	ok, err := v.crypto.VerifyKernelSignatures(ctx, all)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: kernel signature batch failed verification", txhashseterr.ErrInvalidKernelSignature)
	}
	return nil
}
