// Package caos implements the concurrent append-only ordered sequence of
// uint64 values used to mirror the on-disk keys and per-table offsets in
// memory. There is exactly one Writer and any number of cloned Readers.
// Appends are the only mutation; once a Reader has observed a length N,
// positions [0, N) never change again for the lifetime of the sequence.
//
// Storage is segmented: fixed-size []uint64 segments are chained in a
// slice that only ever grows. The writer publishes a freshly written
// segment slot by storing the new length after the value is in place;
// readers load the length first, then index through the segment slice.
// Go's atomic types give these loads and stores acquire/release
// semantics, so a reader that observes length N is guaranteed to see the
// values below N exactly as the writer left them — no mutex needed on the
// read path.
package caos

import "sync/atomic"

type segment struct {
	values []uint64
}

// shared is the state a Writer and all of its cloned Readers point at.
type shared struct {
	segmentLen int64
	segments   atomic.Pointer[[]*segment]
	length     atomic.Int64
}

func (s *shared) at(i int64) uint64 {
	segs := *s.segments.Load()
	seg := segs[i/s.segmentLen]
	return seg.values[i%s.segmentLen]
}

// New returns a Writer/Reader pair sharing a fresh, empty sequence.
// segmentLen must be > 0.
func New(segmentLen int) (*Writer, *Reader) {
	if segmentLen <= 0 {
		panic("caos: segmentLen must be > 0")
	}
	sh := &shared{segmentLen: int64(segmentLen)}
	segs := make([]*segment, 0)
	sh.segments.Store(&segs)
	return &Writer{shared: sh}, &Reader{shared: sh}
}

// Writer is the single append-only mutator of a sequence.
type Writer struct {
	shared *shared
}

// Append adds one or more values to the end of the sequence, in order.
// Callers guarantee the values maintain the sequence's non-decreasing
// invariant; Append itself does not check this.
func (w *Writer) Append(values ...uint64) {
	if len(values) == 0 {
		return
	}

	n := w.shared.length.Load()
	segLen := w.shared.segmentLen

	for _, v := range values {
		segIdx := n / segLen
		off := n % segLen

		if off == 0 {
			w.growSegments(segIdx + 1)
		}

		segs := *w.shared.segments.Load()
		segs[segIdx].values[off] = v
		n++
	}

	// Single publish at the end of the batch: everything above is a plain
	// slice write, invisible to readers until this store.
	w.shared.length.Store(n)
}

// growSegments extends the segment slice so that index upTo-1 is valid.
// Only the writer calls this, so no CAS retry loop is needed — but the
// published pointer swap still has to happen via the atomic so that
// concurrently reading Readers never observe a torn slice header.
func (w *Writer) growSegments(upTo int64) {
	cur := *w.shared.segments.Load()
	if int64(len(cur)) >= upTo {
		return
	}
	next := make([]*segment, len(cur), upTo)
	copy(next, cur)
	for int64(len(next)) < upTo {
		next = append(next, &segment{values: make([]uint64, w.shared.segmentLen)})
	}
	w.shared.segments.Store(&next)
}

// Last returns the final element, or ok=false if the sequence is empty.
func (w *Writer) Last() (uint64, bool) {
	n := w.shared.length.Load()
	if n == 0 {
		return 0, false
	}
	return w.shared.at(n - 1), true
}

// Reader returns a Reader sharing this writer's sequence.
func (w *Writer) Reader() *Reader {
	return &Reader{shared: w.shared}
}

// Len returns the currently published length.
func (w *Writer) Len() int64 {
	return w.shared.length.Load()
}

// Reader is a cheap-to-clone, wait-free view over a sequence.
type Reader struct {
	shared *shared
}

// Clone returns an independent handle over the same sequence. Cloning
// never blocks and never allocates beyond the returned struct.
func (r *Reader) Clone() *Reader {
	return &Reader{shared: r.shared}
}

// Len returns the currently published length.
func (r *Reader) Len() int64 {
	return r.shared.length.Load()
}

// Last returns the final element, or ok=false if the sequence is empty.
func (r *Reader) Last() (uint64, bool) {
	n := r.shared.length.Load()
	if n == 0 {
		return 0, false
	}
	return r.shared.at(n - 1), true
}

// At returns the element at index i. The caller must know i < Len() (or
// < a previously observed length); it is a programmer error otherwise.
func (r *Reader) At(i int64) uint64 {
	return r.shared.at(i)
}

// Position returns the index of an element equal to v via binary search
// over the currently published prefix, or ok=false if absent.
func (r *Reader) Position(v uint64) (int64, bool) {
	n := r.shared.length.Load()
	lo, hi := int64(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		val := r.shared.at(mid)
		switch {
		case val == v:
			return mid, true
		case val < v:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// NextPosition returns the smallest index i with element[i] >= v, or
// ok=false if every published element is < v (including the empty case).
func (r *Reader) NextPosition(v uint64) (int64, bool) {
	n := r.shared.length.Load()
	lo, hi := int64(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if r.shared.at(mid) < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= n {
		return 0, false
	}
	return lo, true
}

// Iter is a finite, single-shot forward iterator snapshotting the
// published length at construction time.
type Iter struct {
	shared *shared
	pos    int64
	end    int64
}

// IterFrom returns a forward iterator starting at index i, yielding
// values up to the length published at the moment IterFrom is called.
// Later appends are invisible to an iterator already in flight.
func (r *Reader) IterFrom(i int64) *Iter {
	return &Iter{shared: r.shared, pos: i, end: r.shared.length.Load()}
}

// Next returns the next value and ok=true, or ok=false once the
// iterator's snapshot end is reached.
func (it *Iter) Next() (uint64, bool) {
	if it.pos >= it.end {
		return 0, false
	}
	v := it.shared.at(it.pos)
	it.pos++
	return v, true
}
