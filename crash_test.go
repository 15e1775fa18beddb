package chronicle

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeOrphanRecord simulates a writer that crashed after completing
// commit steps 1-3 (payload, offset, key all written and durable) but
// before step 4 (the atomic length swap that is the protocol's actual
// linearization point). It writes the payload, offset, and key bytes a
// real Append for the (idx+1)-th record would have produced, without
// touching path/length at all — exactly the disk state a power loss
// between fsync-ing the key and renaming new_length over length would
// leave behind.
func writeOrphanRecord(t *testing.T, storePath, table string, idx int, key uint64, payload []byte, priorOffset uint64) {
	t.Helper()

	dataPath := filepath.Join(storePath, table, "data")
	f, err := os.OpenFile(dataPath, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("writeOrphanRecord: open data: %v", err)
	}
	if _, err := f.WriteAt(payload, int64(priorOffset)); err != nil {
		t.Fatalf("writeOrphanRecord: write payload: %v", err)
	}
	f.Close()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], priorOffset+uint64(len(payload)))
	offsetsPath := filepath.Join(storePath, table, "offsets")
	f, err = os.OpenFile(offsetsPath, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("writeOrphanRecord: open offsets: %v", err)
	}
	if _, err := f.WriteAt(buf[:], int64(idx*8)); err != nil {
		t.Fatalf("writeOrphanRecord: write offset: %v", err)
	}
	f.Close()

	binary.BigEndian.PutUint64(buf[:], key)
	keysPath := filepath.Join(storePath, "keys")
	f, err = os.OpenFile(keysPath, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("writeOrphanRecord: open keys: %v", err)
	}
	if _, err := f.WriteAt(buf[:], int64(idx*8)); err != nil {
		t.Fatalf("writeOrphanRecord: write key: %v", err)
	}
	f.Close()
}

// TestCrashBeforeLengthSwapLeavesRecordInvisible exercises P2: a record
// whose payload, offset, and key all hit disk but whose commit crashed
// before the length swap must never become visible, and the space it
// occupied must be safely reused by the next real commit.
func TestCrashBeforeLengthSwapLeavesRecordInvisible(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store")
	cfg := Config{
		Path:              storePath,
		CreateIfNotExists: true,
		Tables:            []string{"t"},
		SegmentLength:     64,
	}

	wf, _, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w, err := wf.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mustAppend(t, w, 10, "aaa")
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-commit of a second record: steps 1-3 hit disk,
	// path/length (still be64(1)) never gets swapped to be64(2).
	writeOrphanRecord(t, storePath, "t", 1, 20, []byte("bbb"), 3)

	wf2, rf2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen after simulated crash: %v", err)
	}
	r := rf2.NewReader()

	if got := r.Keys().Len(); got != 1 {
		t.Fatalf("Keys().Len() after simulated crash = %d, want 1 (orphan record must not be counted)", got)
	}
	if _, ok, err := r.Read("t", 20); err != nil || ok {
		t.Fatalf("Read(t, 20) = ok=%v, err=%v, want ok=false (orphan key must be invisible)", ok, err)
	}
	got, ok, err := r.Read("t", 10)
	if err != nil || !ok || string(got) != "aaa" {
		t.Fatalf("Read(t, 10) = %q, %v, %v, want %q, true, nil", got, ok, err, "aaa")
	}
	r.Close()

	// The next real append must reuse exactly the space the orphan left
	// behind, and the record it commits must be the only thing visible
	// at key 20 from here on.
	w2, err := wf2.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter (reopen): %v", err)
	}
	mustAppend(t, w2, 20, "xxx")
	if err := w2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wf3, rf3, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen after real commit: %v", err)
	}
	r3 := rf3.NewReader()
	t.Cleanup(func() { r3.Close() })
	w3, err := wf3.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w3.Close() })

	if got := r3.Keys().Len(); got != 2 {
		t.Fatalf("Keys().Len() after real commit = %d, want 2", got)
	}
	got, ok, err = r3.Read("t", 20)
	if err != nil || !ok || string(got) != "xxx" {
		t.Fatalf("Read(t, 20) after real commit = %q, %v, %v, want %q, true, nil", got, ok, err, "xxx")
	}
}
