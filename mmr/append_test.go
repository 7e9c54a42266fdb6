package mmr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"golang.org/x/crypto/blake2b"
)

// memStore is a trivial in-memory HashStore used to exercise AppendLeaf and
// Root without any filestore dependency.
type memStore struct {
	nodes [][]byte
}

var errMemStoreOOB = errors.New("memstore: position out of range")

func (s *memStore) Size() uint64 { return uint64(len(s.nodes)) }

func (s *memStore) Append(hash []byte) (uint64, error) {
	s.nodes = append(s.nodes, hash)
	return uint64(len(s.nodes) - 1), nil
}

func (s *memStore) Get(pos uint64) ([]byte, error) {
	if pos >= uint64(len(s.nodes)) {
		return nil, errMemStoreOOB
	}
	return s.nodes[pos], nil
}

func TestAppendLeafEmptyMMR(t *testing.T) {
	hasher := NewHasher()
	store := &memStore{}

	root, err := Root(store, hasher, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := hasher.BagPeaks(0, nil)
	if !bytes.Equal(root, want) {
		t.Fatalf("root of empty MMR = %x, want %x", root, want)
	}
}

func TestAppendLeafThreeLeaves(t *testing.T) {
	hasher := NewHasher()
	store := &memStore{}

	leafA := hasher.HashLeaf(0, []byte("A"))
	leafB := hasher.HashLeaf(1, []byte("B"))

	if _, err := AppendLeaf(store, hasher, leafA); err != nil {
		t.Fatal(err)
	}
	if _, err := AppendLeaf(store, hasher, leafB); err != nil {
		t.Fatal(err)
	}

	// Appending A,B must backfill the parent at position 2.
	if store.Size() != 3 {
		t.Fatalf("size after two leaves = %d, want 3", store.Size())
	}
	wantParent := hasher.HashParent(2, leafA, leafB)
	got, err := store.Get(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, wantParent) {
		t.Fatalf("parent hash = %x, want %x", got, wantParent)
	}

	leafC := hasher.HashLeaf(3, []byte("C"))
	if _, err := AppendLeaf(store, hasher, leafC); err != nil {
		t.Fatal(err)
	}
	if store.Size() != 4 {
		t.Fatalf("size after three leaves = %d, want 4", store.Size())
	}

	peaks := Peaks(4)
	if len(peaks) != 2 || peaks[0] != 2 || peaks[1] != 3 {
		t.Fatalf("Peaks(4) = %v, want [2 3]", peaks)
	}

	root, err := Root(store, hasher, 4)
	if err != nil {
		t.Fatal(err)
	}
	wantRoot := hasher.BagPeaks(4, [][]byte{wantParent, leafC})
	if !bytes.Equal(root, wantRoot) {
		t.Fatalf("root = %x, want %x", root, wantRoot)
	}
}

func TestAppendLeafHashRuleMatchesSpecExample(t *testing.T) {
	hasher := NewHasher()
	store := &memStore{}

	payload := []byte{0x00}
	leafHash := hasher.HashLeaf(0, payload)

	var wantBuf bytes.Buffer
	var posBytes [8]byte
	binary.BigEndian.PutUint64(posBytes[:], 0)
	wantBuf.Write(posBytes[:])
	wantBuf.Write(payload)
	wantHash := blake2b.Sum256(wantBuf.Bytes())
	if !bytes.Equal(leafHash, wantHash[:]) {
		t.Fatalf("HashLeaf(0, 0x00) = %x, want Blake2b(BE64(0) ‖ 0x00) = %x", leafHash, wantHash)
	}

	if _, err := AppendLeaf(store, hasher, leafHash); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, leafHash) {
		t.Fatalf("stored leaf hash does not match computed leaf hash")
	}
}
