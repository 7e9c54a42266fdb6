package blockdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
)

func TestMain(m *testing.M) {
	logger.New("TEST")
	os.Exit(m.Run())
}

func openTestDB(t *testing.T) *BlockDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "block.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutAndGetHeaderThroughTx(t *testing.T) {
	db := openTestDB(t)

	var hash [32]byte
	hash[0] = 1
	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutHeader(hash, []byte("header-bytes")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.GetHeader(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(got) != "header-bytes" {
		t.Fatalf("GetHeader = %q, %v, want header-bytes, true", got, ok)
	}
}

func TestGetHeaderServesFromCacheAfterFirstRead(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 2

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutHeader(hash, []byte("cached")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := db.GetHeader(hash); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.headerCache.get(hash); !ok {
		t.Fatal("expected the header to be populated into the FIFO cache after the first read")
	}
}

func TestRollbackDiscardsUncommittedWrites(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 3

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutHeader(hash, []byte("uncommitted")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	_, ok, err := db.GetHeader(hash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("a rolled-back write must not be visible")
	}
}

func TestOutputPositionIndexRoundTrip(t *testing.T) {
	db := openTestDB(t)
	var commitment [33]byte
	commitment[0] = 7

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.PutOutputPosition(commitment, 42); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	pos, ok, err := db.GetOutputPosition(commitment)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || pos != 42 {
		t.Fatalf("GetOutputPosition = %d, %v, want 42, true", pos, ok)
	}

	tx2, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx2.DeleteOutputPosition(commitment); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	_, ok, err = db.GetOutputPosition(commitment)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected the output position entry to be gone after delete")
	}
}

func TestFIFOCacheEvictsOldestFirst(t *testing.T) {
	c := newFIFOCache(2)
	var k1, k2, k3 [32]byte
	k1[0], k2[0], k3[0] = 1, 2, 3

	c.put(k1, []byte("a"))
	c.put(k2, []byte("b"))
	c.put(k3, []byte("c"))

	if _, ok := c.get(k1); ok {
		t.Fatal("k1 should have been evicted as the oldest entry")
	}
	if _, ok := c.get(k2); !ok {
		t.Fatal("k2 should still be cached")
	}
	if _, ok := c.get(k3); !ok {
		t.Fatal("k3 should still be cached")
	}
}
