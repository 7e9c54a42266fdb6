package blockdb

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/mw-node/txhashset/txhashseterr"
)

// Tx is a single logical transaction spanning every column family. It
// implements batch.Participant so a BlockDB can be enlisted directly with
// a batch.Coordinator, committed last per spec §4.J's "KV last" ordering.
type Tx struct {
	db     *BlockDB
	boltTx *bbolt.Tx
}

// Begin starts a writable bbolt transaction. Reads issued through the
// returned Tx observe its own uncommitted writes; reads issued directly
// against BlockDB (outside any Tx) see only the last committed state —
// spec §4.L's "reads prefer the open transaction when one exists, else the
// base DB."
func (b *BlockDB) Begin() (*Tx, error) {
	boltTx, err := b.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", txhashseterr.ErrDatabase, err)
	}
	return &Tx{db: b, boltTx: boltTx}, nil
}

// OnInitWrite is a no-op: the bbolt transaction is already open by the
// time a Tx is enlisted with a batch.Coordinator.
func (t *Tx) OnInitWrite() error { return nil }

// Commit commits the underlying bbolt transaction. A failure here is the
// "commit failure after partial flush" spec §7 treats as fatal.
func (t *Tx) Commit() error {
	if err := t.boltTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", txhashseterr.ErrDatabase, err)
	}
	return nil
}

// Rollback aborts the underlying bbolt transaction. It is safe to call
// more than once: bbolt's own Rollback is idempotent once the transaction
// is no longer open, and a second call here is swallowed.
func (t *Tx) Rollback() error {
	_ = t.boltTx.Rollback()
	return nil
}

// OnEndWrite is a no-op.
func (t *Tx) OnEndWrite() error { return nil }

func (t *Tx) bucket(name []byte) *bbolt.Bucket {
	return t.boltTx.Bucket(name)
}

// PutHeader stores a header's raw encoding keyed by its hash, and
// invalidates the cached entry — the next read re-populates the cache from
// this transaction's committed value.
func (t *Tx) PutHeader(hash [32]byte, raw []byte) error {
	if err := t.bucket(bucketHeader).Put(hash[:], raw); err != nil {
		return fmt.Errorf("%w: put header: %v", txhashseterr.ErrDatabase, err)
	}
	t.db.headerCache.invalidate(hash)
	return nil
}

// GetHeader returns the raw header encoding for hash, preferring this
// transaction's own writes over the committed base.
func (t *Tx) GetHeader(hash [32]byte) ([]byte, bool, error) {
	raw := t.bucket(bucketHeader).Get(hash[:])
	if raw == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, true, nil
}

// PutBlockSums stores a header's BlockSums, raw-encoded by the caller.
func (t *Tx) PutBlockSums(hash [32]byte, raw []byte) error {
	if err := t.bucket(bucketBlockSums).Put(hash[:], raw); err != nil {
		return fmt.Errorf("%w: put block sums: %v", txhashseterr.ErrDatabase, err)
	}
	return nil
}

// GetBlockSums returns the raw BlockSums encoding for hash.
func (t *Tx) GetBlockSums(hash [32]byte) ([]byte, bool, error) {
	raw := t.bucket(bucketBlockSums).Get(hash[:])
	if raw == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, true, nil
}

// PutOutputPosition records the MMR position an output commitment was
// appended at, the index TxHashSet.ApplyBlock consults to resolve an
// input's spent commitment back to a position to remove.
func (t *Tx) PutOutputPosition(commitment [33]byte, position uint64) error {
	if err := t.bucket(bucketOutputPos).Put(commitment[:], encodeUint64(position)); err != nil {
		return fmt.Errorf("%w: put output position: %v", txhashseterr.ErrDatabase, err)
	}
	return nil
}

// GetOutputPosition looks up the MMR position of commitment, or ok=false
// if it is not indexed (already spent and the index entry reclaimed, or
// never existed).
func (t *Tx) GetOutputPosition(commitment [33]byte) (uint64, bool, error) {
	raw := t.bucket(bucketOutputPos).Get(commitment[:])
	if raw == nil {
		return 0, false, nil
	}
	return decodeUint64(raw), true, nil
}

// DeleteOutputPosition removes a commitment from the position index, once
// its output has been spent and the index entry is no longer needed.
func (t *Tx) DeleteOutputPosition(commitment [33]byte) error {
	if err := t.bucket(bucketOutputPos).Delete(commitment[:]); err != nil {
		return fmt.Errorf("%w: delete output position: %v", txhashseterr.ErrDatabase, err)
	}
	return nil
}

// PutInputBitmap stores the serialized per-block spent-input bitmap for
// hash, used by rewind to restore the leaf sets to their pre-block state.
func (t *Tx) PutInputBitmap(hash [32]byte, raw []byte) error {
	if err := t.bucket(bucketInputBitmap).Put(hash[:], raw); err != nil {
		return fmt.Errorf("%w: put input bitmap: %v", txhashseterr.ErrDatabase, err)
	}
	return nil
}

// GetInputBitmap returns the serialized spent-input bitmap for hash.
func (t *Tx) GetInputBitmap(hash [32]byte) ([]byte, bool, error) {
	raw := t.bucket(bucketInputBitmap).Get(hash[:])
	if raw == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, true, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
