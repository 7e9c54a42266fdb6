package validate

import (
	"context"
	"os"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/mw-node/txhashset/blockdb"
	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/txhashset"
	"github.com/mw-node/txhashset/txhashseterr"
)

func TestMain(m *testing.M) {
	logger.New("TEST")
	os.Exit(m.Run())
}

type fakeBlockChain struct {
	byHeight map[uint64]*chain.Header
}

func (f *fakeBlockChain) GetHeaderByHeight(ctx context.Context, height uint64, fork chain.ChainFork) (*chain.Header, error) {
	h, ok := f.byHeight[height]
	if !ok {
		return nil, txhashseterr.ErrNotFound
	}
	return h, nil
}

type fakeCrypto struct {
	sumResult         chain.Commitment
	rangeProofsOK     bool
	kernelSignaturesOK bool
}

func (f *fakeCrypto) VerifyRangeProofs(ctx context.Context, pairs []chain.RangeProofPair) (bool, error) {
	return f.rangeProofsOK, nil
}

func (f *fakeCrypto) VerifyKernelSignatures(ctx context.Context, kernels []chain.Kernel) (bool, error) {
	return f.kernelSignaturesOK, nil
}

func (f *fakeCrypto) SumCommitments(commitments []chain.Commitment) (chain.Commitment, error) {
	return f.sumResult, nil
}

func (f *fakeCrypto) SumCommitmentsNegative(commitments []chain.Commitment) (chain.Commitment, error) {
	return f.sumResult, nil
}

func newPassingCrypto() *fakeCrypto {
	return &fakeCrypto{rangeProofsOK: true, kernelSignaturesOK: true}
}

func buildSingleBlockSet(t *testing.T) (*txhashset.TxHashSet, chain.Header) {
	t.Helper()
	dir := t.TempDir()
	ts, err := txhashset.Open(dir)
	require.NoError(t, err)
	db, err := blockdb.Open(dir + "/block.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tx, err := db.Begin()
	require.NoError(t, err)
	var block chain.Block
	block.Header.Height = 0
	block.Header.Hash[0] = 1
	var k chain.Kernel
	k.Fee = 1
	block.Kernels = []chain.Kernel{k}
	var o chain.Output
	o.Commitment[0] = 1
	block.Outputs = []chain.Output{o}
	var rp chain.RangeProof
	rp[0] = 1
	block.RangeProofs = []chain.RangeProof{rp}
	require.NoError(t, ts.ApplyBlock(context.Background(), block, tx))

	roots, err := ts.RootHashes()
	require.NoError(t, err)
	header := chain.Header{
		Height:            0,
		KernelMMRSize:     ts.Kernels().Size(),
		OutputMMRSize:     ts.Outputs().Size(),
		RangeProofMMRSize: ts.RangeProofs().Size(),
	}
	copy(header.KernelRoot[:], roots.KernelRoot)
	copy(header.OutputRoot[:], roots.OutputRoot)
	copy(header.RangeProofRoot[:], roots.RangeProofRoot)
	return ts, header
}

func TestValidateSucceedsOnConsistentHeader(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	v := NewValidator(bc, newPassingCrypto())

	_, err := v.Validate(context.Background(), ts, header)
	require.NoError(t, err)
}

func TestValidateFailsOnSizeMismatch(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	header.KernelMMRSize++
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	v := NewValidator(bc, newPassingCrypto())

	_, err := v.Validate(context.Background(), ts, header)
	require.Equal(t, txhashseterr.KindConsensus, txhashseterr.KindOf(err))
}

func TestValidateFailsOnRootMismatch(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	header.OutputRoot[0] ^= 0xff
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	v := NewValidator(bc, newPassingCrypto())

	_, err := v.Validate(context.Background(), ts, header)
	require.True(t, txhashseterr.IsConsensus(err))
}

func TestValidateFailsOnKernelHistoryMismatch(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	badAncestor := header
	badAncestor.KernelRoot[0] ^= 0xff
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &badAncestor}}
	v := NewValidator(bc, newPassingCrypto())

	_, err := v.Validate(context.Background(), ts, header)
	require.True(t, txhashseterr.IsConsensus(err))
}

func TestValidateFailsOnUnbalancedKernelSum(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	crypto := newPassingCrypto()
	crypto.sumResult = chain.Commitment{9}
	v := NewValidator(bc, crypto)

	_, err := v.Validate(context.Background(), ts, header)
	require.True(t, txhashseterr.IsConsensus(err))
}

func TestValidateFailsOnRangeProofBatchFailure(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	crypto := newPassingCrypto()
	crypto.rangeProofsOK = false
	v := NewValidator(bc, crypto)

	_, err := v.Validate(context.Background(), ts, header)
	require.True(t, txhashseterr.IsConsensus(err))
}

func TestValidateFailsOnKernelSignatureFailure(t *testing.T) {
	ts, header := buildSingleBlockSet(t)
	bc := &fakeBlockChain{byHeight: map[uint64]*chain.Header{0: &header}}
	crypto := newPassingCrypto()
	crypto.kernelSignaturesOK = false
	v := NewValidator(bc, crypto)

	_, err := v.Validate(context.Background(), ts, header)
	require.True(t, txhashseterr.IsConsensus(err))
}
