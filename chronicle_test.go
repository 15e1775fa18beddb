package chronicle

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// openTestStore creates a fresh store in a temporary directory with the
// given tables and registers cleanup to close both the writer and a
// reader when the test finishes. Used by nearly every test in this
// package.
func openTestStore(t *testing.T, tables ...string) (*Writer, *ReaderFactory) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Path:              filepath.Join(dir, "store"),
		CreateIfNotExists: true,
		Tables:            tables,
		SegmentLength:     64,
	}

	wf, rf, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w, err := wf.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	return w, rf
}

func mustAppend(t *testing.T, w *Writer, key uint64, values ...string) {
	t.Helper()
	vals := make([][]byte, len(values))
	for i, v := range values {
		vals[i] = []byte(v)
	}
	if err := w.Append(key, vals); err != nil {
		t.Fatalf("Append(%d): %v", key, err)
	}
}

// corruptBE64 overwrites the idx-th big-endian uint64 in path with v.
// Used to simulate on-disk corruption for recovery-path tests.
func corruptBE64(t *testing.T, path string, idx int, v uint64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("corruptBE64: open: %v", err)
	}
	defer f.Close()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := f.WriteAt(buf[:], int64(idx*8)); err != nil {
		t.Fatalf("corruptBE64: write: %v", err)
	}
}
