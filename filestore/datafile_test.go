package filestore

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDataFileFixedWidthAppendAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.bin")
	f, err := OpenDataFile(path, 4)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Append([]byte("aaaa")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append([]byte("bbbb")); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", f.Size())
	}
	got, err := f.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("bbbb")) {
		t.Fatal("Get(1) returned the wrong record")
	}
}

func TestDataFileFixedWidthRejectsWrongSize(t *testing.T) {
	f, err := OpenDataFile(filepath.Join(t.TempDir(), "output.bin"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append([]byte("too long")); err == nil {
		t.Fatal("expected an error appending a mis-sized record")
	}
}

func TestDataFileVariableWidthRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.bin")
	f, err := OpenDataFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	records := [][]byte{
		[]byte("short"),
		[]byte(""),
		[]byte("a somewhat longer kernel record"),
	}
	for _, r := range records {
		if _, err := f.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenDataFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Size() != uint64(len(records)) {
		t.Fatalf("Size() after reopen = %d, want %d", reopened.Size(), len(records))
	}
	for i, want := range records {
		got, err := reopened.Get(uint64(i))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d = %q, want %q", i, got, want)
		}
	}
}

func TestDataFileRewriteRecordsReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.bin")
	f, err := OpenDataFile(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")} {
		if _, err := f.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Flush(); err != nil {
		t.Fatal(err)
	}

	if err := f.RewriteRecords([][]byte{[]byte("bbbb")}); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 1 {
		t.Fatalf("Size() after RewriteRecords = %d, want 1", f.Size())
	}

	reopened, err := OpenDataFile(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("bbbb")) {
		t.Fatal("RewriteRecords did not persist across reopen")
	}
}

func TestDataFileRollbackDiscardsStagedAppends(t *testing.T) {
	f, err := OpenDataFile(filepath.Join(t.TempDir(), "kernel.bin"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.OnInitWrite(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append([]byte("staged")); err != nil {
		t.Fatal(err)
	}
	if err := f.Rollback(); err != nil {
		t.Fatal(err)
	}
	if f.Size() != 0 {
		t.Fatalf("Size() after Rollback = %d, want 0", f.Size())
	}
}
