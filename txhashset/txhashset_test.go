package txhashset

import (
	"context"
	"os"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/mw-node/txhashset/blockdb"
	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/txhashseterr"
)

func TestMain(m *testing.M) {
	logger.New("TEST")
	os.Exit(m.Run())
}

func openTestSet(t *testing.T) (*TxHashSet, *blockdb.BlockDB) {
	t.Helper()
	dir := t.TempDir()
	ts, err := Open(dir)
	require.NoError(t, err)
	db, err := blockdb.Open(dir + "/block.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ts, db
}

func testKernel(fee uint64) chain.Kernel {
	var k chain.Kernel
	k.Fee = fee
	return k
}

func testOutput(b byte) (chain.Output, chain.RangeProof) {
	var o chain.Output
	o.Commitment[0] = b
	var rp chain.RangeProof
	rp[0] = b
	return o, rp
}

func simpleBlock(height uint64, commitments []byte) chain.Block {
	var b chain.Block
	b.Header.Height = height
	b.Header.Hash[0] = byte(height)
	b.Kernels = []chain.Kernel{testKernel(height)}
	for _, c := range commitments {
		o, rp := testOutput(c)
		b.Outputs = append(b.Outputs, o)
		b.RangeProofs = append(b.RangeProofs, rp)
	}
	return b
}

func TestApplyBlockAppendsKernelsOutputsAndProofs(t *testing.T) {
	ts, db := openTestSet(t)
	tx, err := db.Begin()
	require.NoError(t, err)

	block := simpleBlock(1, []byte{1, 2})
	require.NoError(t, ts.ApplyBlock(context.Background(), block, tx))

	require.Equal(t, uint64(1), ts.kernels.NLeaves())
	require.Equal(t, uint64(2), ts.outputs.NLeaves())
	require.Equal(t, uint64(2), ts.rangeProofs.NLeaves())

	pos, ok, err := db.GetOutputPosition(chain.Commitment{1})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), pos)
}

func TestApplyBlockRemovesSpentInputs(t *testing.T) {
	ts, db := openTestSet(t)

	tx1, err := db.Begin()
	require.NoError(t, err)
	block1 := simpleBlock(1, []byte{1, 2})
	require.NoError(t, ts.ApplyBlock(context.Background(), block1, tx1))

	tx2, err := db.Begin()
	require.NoError(t, err)
	var block2 chain.Block
	block2.Header.Height = 2
	block2.Header.Hash[0] = 2
	block2.Kernels = []chain.Kernel{testKernel(2)}
	block2.Inputs = []chain.Input{{Commitment: chain.Commitment{1}}}
	require.NoError(t, ts.ApplyBlock(context.Background(), block2, tx2))

	_, ok, err := ts.outputs.GetAt(0)
	require.NoError(t, err)
	require.False(t, ok, "the spent output must no longer be retrievable")

	_, ok, err = db.GetOutputPosition(chain.Commitment{1})
	require.NoError(t, err)
	require.False(t, ok, "the spent commitment's position index entry must be gone")
}

func TestApplyBlockFailsOnUnknownInput(t *testing.T) {
	ts, db := openTestSet(t)
	tx, err := db.Begin()
	require.NoError(t, err)
	var block chain.Block
	block.Header.Height = 1
	block.Inputs = []chain.Input{{Commitment: chain.Commitment{9}}}

	err = ts.ApplyBlock(context.Background(), block, tx)
	require.Error(t, err, "expected an error for an input with no indexed position")
	require.True(t, txhashseterr.IsConsensus(err) || txhashseterr.KindOf(err) == txhashseterr.KindNotFound,
		"unexpected error kind for unknown input: %v", err)
}

func TestApplyBlockRollsBackOnOutputRangeProofMismatch(t *testing.T) {
	ts, db := openTestSet(t)
	tx, err := db.Begin()
	require.NoError(t, err)

	var block chain.Block
	block.Header.Height = 1
	block.Kernels = []chain.Kernel{testKernel(1)}
	o, _ := testOutput(1)
	block.Outputs = []chain.Output{o}
	// Deliberately omit the matching range proof.

	err = ts.ApplyBlock(context.Background(), block, tx)
	require.Error(t, err, "expected an error for mismatched outputs/range proofs")
	require.Equal(t, uint64(0), ts.kernels.NLeaves(), "kernel append must have been rolled back")
	require.Equal(t, uint64(0), ts.outputs.NLeaves(), "output append must have been rolled back")
}

func TestValidateRootsAcceptsMatchingHeader(t *testing.T) {
	ts, db := openTestSet(t)
	tx, err := db.Begin()
	require.NoError(t, err)
	block := simpleBlock(1, []byte{1})
	require.NoError(t, ts.ApplyBlock(context.Background(), block, tx))

	roots, err := ts.RootHashes()
	require.NoError(t, err)
	header := block.Header
	header.KernelMMRSize = ts.kernels.Size()
	header.OutputMMRSize = ts.outputs.Size()
	header.RangeProofMMRSize = ts.rangeProofs.Size()
	copy(header.KernelRoot[:], roots.KernelRoot)
	copy(header.OutputRoot[:], roots.OutputRoot)
	copy(header.RangeProofRoot[:], roots.RangeProofRoot)

	require.NoError(t, ts.ValidateRoots(header))
}

func TestValidateRootsRejectsTamperedRoot(t *testing.T) {
	ts, db := openTestSet(t)
	tx, err := db.Begin()
	require.NoError(t, err)
	block := simpleBlock(1, []byte{1})
	require.NoError(t, ts.ApplyBlock(context.Background(), block, tx))

	header := block.Header
	header.KernelMMRSize = ts.kernels.Size()
	header.OutputMMRSize = ts.outputs.Size()
	header.RangeProofMMRSize = ts.rangeProofs.Size()
	header.KernelRoot[0] = 0xff

	err = ts.ValidateRoots(header)
	require.Error(t, err, "expected ValidateRoots to reject a tampered root")
	require.True(t, txhashseterr.IsConsensus(err))
}

func TestRewindRestoresPreBlockSizesAndLeafSet(t *testing.T) {
	ts, db := openTestSet(t)

	tx1, err := db.Begin()
	require.NoError(t, err)
	block1 := simpleBlock(1, []byte{1, 2})
	require.NoError(t, ts.ApplyBlock(context.Background(), block1, tx1))
	preBlock2Header := chain.Header{
		KernelMMRSize:     ts.kernels.Size(),
		OutputMMRSize:     ts.outputs.Size(),
		RangeProofMMRSize: ts.rangeProofs.Size(),
	}

	tx2, err := db.Begin()
	require.NoError(t, err)
	var block2 chain.Block
	block2.Header.Height = 2
	block2.Header.Hash[0] = 2
	block2.Kernels = []chain.Kernel{testKernel(2)}
	block2.Inputs = []chain.Input{{Commitment: chain.Commitment{1}}}
	require.NoError(t, ts.ApplyBlock(context.Background(), block2, tx2))

	tx3, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, ts.Rewind(preBlock2Header, block2.Header.Hash, tx3))
	require.NoError(t, tx3.Commit())
	require.Equal(t, preBlock2Header.KernelMMRSize, ts.kernels.Size())

	got, ok, err := ts.outputs.GetAt(0)
	require.NoError(t, err)
	require.True(t, ok, "rewind must restore the previously-spent output to visible")
	require.Equal(t, byte(1), got.Commitment[0])
}
