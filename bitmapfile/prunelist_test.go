package bitmapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestPruneList(t *testing.T) *PruneList {
	t.Helper()
	pl, err := OpenPruneList(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return pl
}

func TestPruneListCollapsesSiblings(t *testing.T) {
	pl := newTestPruneList(t)

	// Positions 0 and 1 are siblings (leaves), parent at position 2.
	pl.Add(0)
	if pl.IsPruned(0) != true {
		t.Fatal("position 0 should be pruned immediately after Add")
	}
	if pl.IsPruned(1) {
		t.Fatal("position 1 should not be pruned: only its sibling was added")
	}
	if pl.IsPruned(2) {
		t.Fatal("parent should not be pruned until both children are")
	}

	pl.Add(1)
	if !pl.IsPruned(0) || !pl.IsPruned(1) || !pl.IsPruned(2) {
		t.Fatal("adding the sibling should collapse 0 and 1 into a pruned parent at 2")
	}

	roots := pl.roots()
	if len(roots) != 1 || roots[0] != 2 {
		t.Fatalf("roots = %v, want [2]", roots)
	}
}

func TestPruneListShift(t *testing.T) {
	pl := newTestPruneList(t)
	pl.Add(0)
	pl.Add(1) // collapses to root 2, subtree size 3

	if got := pl.Shift(3); got != 3 {
		t.Errorf("Shift(3) = %d, want 3", got)
	}
	if got := pl.Shift(2); got != 0 {
		t.Errorf("Shift(2) = %d, want 0 (position 2 is the root itself, not strictly after it)", got)
	}
}

func TestPruneListFlushRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rangeproof")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	pl, err := OpenPruneList(dir)
	if err != nil {
		t.Fatal(err)
	}
	pl.Add(0)
	pl.Add(1)
	if err := pl.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenPruneList(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.IsPruned(2) {
		t.Fatal("flushed prune list did not survive reopen")
	}
}
