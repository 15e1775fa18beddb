package caos

import (
	"sync"
	"testing"
)

func TestEmptySequence(t *testing.T) {
	_, r := New(4)

	if _, ok := r.Last(); ok {
		t.Fatalf("Last on empty sequence should report ok=false")
	}
	if _, ok := r.Position(0); ok {
		t.Fatalf("Position on empty sequence should report ok=false")
	}
	if _, ok := r.NextPosition(0); ok {
		t.Fatalf("NextPosition on empty sequence should report ok=false")
	}
	if n := r.Len(); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestAppendAcrossSegments(t *testing.T) {
	w, r := New(2)

	for i := uint64(0); i < 9; i++ {
		w.Append(i * 10)
	}

	if n := r.Len(); n != 9 {
		t.Fatalf("Len = %d, want 9", n)
	}
	for i := int64(0); i < 9; i++ {
		if got, want := r.At(i), uint64(i)*10; got != want {
			t.Fatalf("At(%d) = %d, want %d", i, got, want)
		}
	}
	last, ok := r.Last()
	if !ok || last != 80 {
		t.Fatalf("Last() = (%d, %v), want (80, true)", last, ok)
	}
}

func TestAppendBatch(t *testing.T) {
	w, r := New(4)

	w.Append(1, 2, 3, 5, 8)
	if n := r.Len(); n != 5 {
		t.Fatalf("Len = %d, want 5", n)
	}
	if got := r.At(3); got != 5 {
		t.Fatalf("At(3) = %d, want 5", got)
	}
}

func TestPosition(t *testing.T) {
	w, r := New(3)
	vals := []uint64{2, 2, 4, 4, 4, 9, 12}
	for _, v := range vals {
		w.Append(v)
	}

	for i, v := range vals {
		pos, ok := r.Position(v)
		if !ok {
			t.Fatalf("Position(%d) not found", v)
		}
		if vals[pos] != v {
			t.Fatalf("Position(%d) = %d, vals[%d] = %d, want match at some index with value %d, got index with value %d", v, pos, i, vals[i], v, vals[pos])
		}
	}

	if _, ok := r.Position(3); ok {
		t.Fatalf("Position(3) should not be found")
	}
	if _, ok := r.Position(100); ok {
		t.Fatalf("Position(100) should not be found")
	}
}

func TestNextPosition(t *testing.T) {
	w, r := New(3)
	for _, v := range []uint64{2, 4, 4, 9, 12} {
		w.Append(v)
	}

	cases := []struct {
		from uint64
		want int64
		ok   bool
	}{
		{0, 0, true},
		{2, 0, true},
		{3, 1, true},
		{4, 1, true},
		{5, 3, true},
		{12, 4, true},
		{13, 0, false},
	}

	for _, c := range cases {
		got, ok := r.NextPosition(c.from)
		if ok != c.ok {
			t.Fatalf("NextPosition(%d) ok = %v, want %v", c.from, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("NextPosition(%d) = %d, want %d", c.from, got, c.want)
		}
	}
}

func TestIterFromSnapshotsLength(t *testing.T) {
	w, r := New(4)
	for i := uint64(0); i < 5; i++ {
		w.Append(i)
	}

	it := r.IterFrom(1)

	// Appends after the iterator was constructed must not be visible to it.
	w.Append(100, 101, 102)

	var got []uint64
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}

	want := []uint64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPrefixStabilityUnderConcurrentReadersAndOneWriter(t *testing.T) {
	w, r := New(8)

	const n = 2000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); i < n; i++ {
			w.Append(i)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader := r.Clone()
			for {
				select {
				case <-done:
					k := reader.Len()
					for j := int64(0); j < k; j++ {
						if got, want := reader.At(j), uint64(j); got != want {
							t.Errorf("At(%d) = %d, want %d (prefix mutated)", j, got, want)
						}
					}
					return
				default:
					k := reader.Len()
					for j := int64(0); j < k; j++ {
						if got, want := reader.At(j), uint64(j); got != want {
							t.Errorf("At(%d) = %d, want %d (prefix mutated)", j, got, want)
						}
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestCloneSharesSequence(t *testing.T) {
	w, r := New(4)
	w.Append(1, 2, 3)

	clone := r.Clone()
	w.Append(4, 5)

	if got := clone.Len(); got != 5 {
		t.Fatalf("clone observes shared state, Len() = %d, want 5", got)
	}
}
