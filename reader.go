package chronicle

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/jpl-au/chronicle/internal/caos"
)

// Reader provides point lookups and range iteration over a store's
// committed prefix. Any number of Readers coexist with the one Writer;
// obtain one from ReaderFactory.NewReader.
type Reader struct {
	path       string
	tables     []string
	keysR      *caos.Reader
	offsetsR   map[string]*caos.Reader
	keysFile   *sharedHandle
	tableFiles map[string]tableFiles
	root       *sharedRoot
}

// Keys returns the key sequence's reader handle, for callers that want
// direct access to length/position/iteration primitives.
func (r *Reader) Keys() *caos.Reader {
	return r.keysR
}

// TableNames returns the configured table names in declared order.
func (r *Reader) TableNames() []string {
	return r.tables
}

func (r *Reader) checkTable(table string) error {
	for _, t := range r.tables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// recordExtent returns the [start, end) byte range of record p's payload
// in table's data file.
func (r *Reader) recordExtent(table string, p int64) (start, end uint64) {
	or := r.offsetsR[table]
	if p > 0 {
		start = or.At(p - 1)
	}
	end = or.At(p)
	return start, end
}

// Read resolves key to its exact position via binary search and returns
// table's payload for that record, or ok=false if key was never
// committed.
func (r *Reader) Read(table string, key uint64) ([]byte, bool, error) {
	if err := r.checkTable(table); err != nil {
		return nil, false, err
	}

	p, ok := r.keysR.Position(key)
	if !ok {
		return nil, false, nil
	}

	start, end := r.recordExtent(table, p)
	buf := make([]byte, end-start)
	n, err := r.tableFiles[table].data.file.ReadAt(buf, int64(start))
	if err != nil {
		return nil, false, fmt.Errorf("%w: table %q: %v", ErrReadIO, table, err)
	}
	if uint64(n) < end-start {
		return nil, false, fmt.Errorf("%w: table %q: short read", ErrReadIO, table)
	}
	return buf, true, nil
}

// IoVec describes a caller-supplied sub-range relative to a record's
// payload start.
type IoVec struct {
	Pos  uint64
	Size uint64
}

// ReadMany resolves key's position, then reads each sub-range in iovs
// (interpreted relative to the record's payload start) from table's data
// file, returning one buffer per iovec in order.
func (r *Reader) ReadMany(table string, key uint64, iovs []IoVec) ([][]byte, error) {
	if err := r.checkTable(table); err != nil {
		return nil, err
	}

	p, ok := r.keysR.Position(key)
	if !ok {
		return nil, nil
	}

	start, end := r.recordExtent(table, p)
	out := make([][]byte, len(iovs))
	data := r.tableFiles[table].data.file

	for i, iov := range iovs {
		absStart := start + iov.Pos
		absEnd := absStart + iov.Size
		if absEnd > end {
			return nil, fmt.Errorf("%w: table %q: sub-range [%d,%d) exceeds record bounds [%d,%d)", ErrReadIO, table, absStart, absEnd, start, end)
		}
		buf := make([]byte, iov.Size)
		if _, err := data.ReadAt(buf, int64(absStart)); err != nil {
			return nil, fmt.Errorf("%w: table %q: %v", ErrReadIO, table, err)
		}
		out[i] = buf
	}
	return out, nil
}

// Fingerprint returns a blake2b-256 digest over every committed payload
// of table, in key order. It exists for integrity verification tooling
// (chronicle-inspect --verify): two stores that have committed the same
// records for a table always fingerprint equal, independent of physical
// file layout or segment length.
func (r *Reader) Fingerprint(table string) (string, error) {
	if err := r.checkTable(table); err != nil {
		return "", err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("%w: fingerprint: %v", ErrReadIO, err)
	}

	n := r.keysR.Len()
	data := r.tableFiles[table].data.file
	var prevEnd uint64
	or := r.offsetsR[table]
	for i := int64(0); i < n; i++ {
		end := or.At(i)
		buf := make([]byte, end-prevEnd)
		if _, err := data.ReadAt(buf, int64(prevEnd)); err != nil {
			return "", fmt.Errorf("%w: table %q: record %d: %v", ErrReadIO, table, i, err)
		}
		h.Write(buf)
		prevEnd = end
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Iter opens a range iterator that starts at the first committed key >=
// params.From. Next yields records in key order and stops once the key
// it last yielded (before the first record: the committed key preceding
// it, or 0) is >= params.To, with params.To clamped to the last
// committed key; when params.To falls between two committed keys, the
// record at the larger one is still yielded. Returns ok=false if no
// committed key is >= params.From.
func (r *Reader) Iter(params IterParams) (*Iter, bool, error) {
	return newIter(r, params)
}

// Close releases all table data-file handles. Panics if any is still
// shared with an outstanding Iter, another Reader clone, or the Writer.
func (r *Reader) Close() error {
	if err := r.keysFile.close(); err != nil {
		return err
	}
	for _, t := range r.tables {
		tf := r.tableFiles[t]
		if err := tf.offsets.close(); err != nil {
			return err
		}
		if err := tf.data.close(); err != nil {
			return err
		}
	}
	return r.root.close()
}
