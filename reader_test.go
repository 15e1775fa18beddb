package chronicle

import "testing"

// TestEmptyStoreReadsAndIters covers S1's empty-database assertions.
func TestEmptyStoreReadsAndIters(t *testing.T) {
	w, rf := openTestStore(t, "table0", "table1")
	_ = w

	r := rf.NewReader()
	t.Cleanup(func() { r.Close() })

	if _, ok, err := r.Read("table0", 12); err != nil || ok {
		t.Fatalf("Read on empty store = ok=%v, err=%v, want ok=false", ok, err)
	}

	if _, ok, err := r.Iter(IterParams{From: 8, To: 11}); err != nil || ok {
		t.Fatalf("Iter on empty store = ok=%v, err=%v, want ok=false", ok, err)
	}
}

// TestAppendThenRead covers the remainder of S1: after appending,
// read(table0, 12) returns the just-written payload.
func TestAppendThenRead(t *testing.T) {
	w, rf := openTestStore(t, "table0", "table1")
	mustAppend(t, w, 12, "123", "345")

	r := rf.NewReader()
	t.Cleanup(func() { r.Close() })

	got, ok, err := r.Read("table0", 12)
	if err != nil || !ok || string(got) != "123" {
		t.Fatalf("Read(table0, 12) = %q, %v, %v", got, ok, err)
	}
}

func TestReadUnknownTable(t *testing.T) {
	w, rf := openTestStore(t, "table0")
	mustAppend(t, w, 1, "x")

	r := rf.NewReader()
	t.Cleanup(func() { r.Close() })

	if _, _, err := r.Read("nope", 1); err == nil {
		t.Fatalf("expected unknown-table error")
	}
}

func TestReadMissingKey(t *testing.T) {
	w, rf := openTestStore(t, "table0")
	mustAppend(t, w, 10, "x")

	r := rf.NewReader()
	t.Cleanup(func() { r.Close() })

	if _, ok, err := r.Read("table0", 11); err != nil || ok {
		t.Fatalf("Read(table0, 11) = ok=%v, err=%v, want ok=false", ok, err)
	}
}

func TestFingerprintStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Path:              dir,
		CreateIfNotExists: true,
		Tables:            []string{"table0"},
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
	mustAppend(t, w, 1, "aaa")
	mustAppend(t, w, 2, "bbb")

	r := rf.NewReader()
	before, err := r.Fingerprint("table0")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	r.Close()
	w.Close()

	wf2, rf2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w2, err := wf2.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter (reopen): %v", err)
	}
	t.Cleanup(func() { w2.Close() })

	r2 := rf2.NewReader()
	t.Cleanup(func() { r2.Close() })

	after, err := r2.Fingerprint("table0")
	if err != nil {
		t.Fatalf("Fingerprint (reopen): %v", err)
	}

	if before != after {
		t.Fatalf("fingerprint changed across reopen: %s != %s", before, after)
	}
}

func TestReadManySubRanges(t *testing.T) {
	w, rf := openTestStore(t, "table0")
	mustAppend(t, w, 1, "abcdef")

	r := rf.NewReader()
	t.Cleanup(func() { r.Close() })

	got, err := r.ReadMany("table0", 1, []IoVec{{Pos: 0, Size: 3}, {Pos: 3, Size: 3}})
	if err != nil {
		t.Fatalf("ReadMany: %v", err)
	}
	if string(got[0]) != "abc" || string(got[1]) != "def" {
		t.Fatalf("ReadMany = %q, %q", got[0], got[1])
	}
}
