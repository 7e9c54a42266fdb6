// Package chain declares the wire types and out-of-scope collaborator
// interfaces this module consumes: the block header fields that pin MMR
// sizes and roots, and the narrow BlockChain/Crypto/NodeClient boundaries
// named in the specification. None of the header/transaction wire format
// beyond these fields, nor the cryptographic primitives themselves, is this
// module's concern — they are opaque types and interfaces supplied by the
// rest of the node.
package chain

import "context"

// CommitmentSize is the length in bytes of a Pedersen commitment.
const CommitmentSize = 33

// RangeProofSize is the fixed length in bytes of a Bulletproof range proof.
const RangeProofSize = 683

// Commitment is a Pedersen commitment to an output's value.
type Commitment [CommitmentSize]byte

// RangeProof is a Bulletproof showing a commitment covers a non-negative
// value in the valid range.
type RangeProof [RangeProofSize]byte

// OutputFeatures records the flags carried alongside an output commitment
// (eg coinbase vs plain). It is a single byte in the wire encoding.
type OutputFeatures uint8

const (
	FeaturesPlain    OutputFeatures = 0
	FeaturesCoinbase OutputFeatures = 1
)

// Output is a transaction output as stored in the output PMMR's data file:
// features and commitment, 34 bytes encoded.
type Output struct {
	Features   OutputFeatures
	Commitment Commitment
}

// Kernel is an immutable per-transaction record: fee, lock height, excess
// commitment, and aggregate Schnorr signature. Kernels are variable length
// only insofar as future feature flags may add fields; today's encoding is
// fixed width, but the kernel data file still stores them length-prefixed
// per the spec, so a future width change never requires a format bump of
// the data file itself.
type Kernel struct {
	Features   OutputFeatures
	Fee        uint64
	LockHeight uint64
	Excess     Commitment
	Signature  [64]byte
}

// RangeProofPair is a (commitment, range proof) pair submitted to Crypto
// for batched verification.
type RangeProofPair struct {
	Commitment Commitment
	Proof      RangeProof
}

// Header is the subset of a block header this module reads: the three MMR
// sizes and roots it must reconcile a TxHashSet against, plus enough chain
// context (height, previous hash) to walk kernel history.
type Header struct {
	Height     uint64
	Hash       [32]byte
	PrevHash   [32]byte

	KernelMMRSize     uint64
	KernelRoot        [32]byte
	OutputMMRSize     uint64
	OutputRoot        [32]byte
	RangeProofMMRSize uint64
	RangeProofRoot    [32]byte

	// KernelOffset is the genesis-relative blinding offset used to
	// reconstruct the input commitment sum during kernel-sum validation.
	KernelOffset Commitment
	// TotalSupplyCommitment commits to the per-block supply added by the
	// coinbase reward, summed across the chain to this header.
	TotalSupplyCommitment Commitment
}

// BlockSums is the cached validation result a header's descendants can
// reuse instead of re-summing every ancestor.
type BlockSums struct {
	OutputSum Commitment
	KernelSum Commitment
}

// Input references a previously created output being spent.
type Input struct {
	Commitment Commitment
}

// Transaction is the minimal shape TxHashSet.ApplyBlock needs: the inputs
// it removes and the outputs/kernels it appends. It is a placeholder for
// the real transaction wire type, which carries proofs, a fee, and a
// signature beyond what this module touches directly.
type Transaction struct {
	Inputs      []Input
	Outputs     []Output
	RangeProofs []RangeProof
	Kernels     []Kernel
}

// Block groups the transaction data a single block commits, in application
// order: kernels, then outputs and their range proofs, then input removals.
type Block struct {
	Header  Header
	Kernels []Kernel
	Outputs []Output
	// RangeProofs is parallel to Outputs; RangeProofs[i] proves Outputs[i].
	RangeProofs []RangeProof
	Inputs      []Input
}

// ChainFork identifies which chain a header lookup is relative to. Only
// CandidateChain is used by this module's validator (spec §4.K step 4).
type ChainFork int

const (
	CandidateChain ChainFork = iota
	ActiveChain
)

// BlockChain is the out-of-scope collaborator that resolves historical
// headers by height on a given fork. It is implemented by the rest of the
// node; this module only ever reads through it.
type BlockChain interface {
	GetHeaderByHeight(ctx context.Context, height uint64, fork ChainFork) (*Header, error)
}

// Crypto is the opaque cryptographic boundary: Pedersen commitments,
// Bulletproof range proofs, and aggregate Schnorr signatures are consumed
// through it and never implemented by this module.
type Crypto interface {
	VerifyRangeProofs(ctx context.Context, pairs []RangeProofPair) (bool, error)
	VerifyKernelSignatures(ctx context.Context, kernels []Kernel) (bool, error)
	// SumCommitments returns the Pedersen sum of a list of commitments,
	// needed by kernel-sum validation to reconstruct the output/input/
	// kernel-excess balance equation.
	SumCommitments(commitments []Commitment) (Commitment, error)
	// SumCommitmentsNegative returns the Pedersen sum of a list of
	// commitments negated, used when subtracting the input side of the
	// balance equation.
	SumCommitmentsNegative(commitments []Commitment) (Commitment, error)
}

// NodeClient is the wallet-layer collaborator that submits a constructed
// transaction to a node for relay. Declared here for interface
// completeness only — this module never calls it; it is called by the
// wallet, not by TxHashSet or the validator.
type NodeClient interface {
	PostTransaction(ctx context.Context, tx Transaction) (bool, error)
}
