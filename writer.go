package chronicle

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jpl-au/chronicle/internal/caos"
	"github.com/jpl-au/chronicle/internal/directio"
)

// Writer is the single append-only mutator of a store. Exactly one
// exists per open database; obtain it from WriterFactory.NewWriter.
type Writer struct {
	path         string
	tables       []string
	keysW        *caos.Writer
	offsetsW     map[string]*caos.Writer
	writeOffsets map[string]uint64
	length       uint64
	keysFile     *sharedHandle
	tableFiles   map[string]tableFiles
	root         *sharedRoot
}

// TableNames returns the configured table names in declared order.
func (w *Writer) TableNames() []string {
	return w.tables
}

// Append commits one record: a shared key and one payload per table, in
// table declaration order. It implements the eight-step ordered commit
// protocol: payloads, then offsets, then the key are written durably to
// their respective files; only then is the on-disk length advanced via
// an atomic rename, the single linearization point of the commit; only
// after that does the in-memory state (write offsets, length, the keys
// and offsets CAOS sequences) get updated, so a crash at any point
// leaves disk and memory consistent with each other on the next Open.
func (w *Writer) Append(key uint64, values [][]byte) error {
	if len(values) != len(w.tables) {
		return fmt.Errorf("%w: got %d values, want %d", ErrWriteArity, len(values), len(w.tables))
	}

	offPos := int64(w.length) * 8
	newOffsets := make(map[string]uint64, len(w.tables))
	for i, t := range w.tables {
		newOffsets[t] = w.writeOffsets[t] + uint64(len(values[i]))
	}

	// Step 1: write every table's payload in parallel.
	{
		g := &errgroup.Group{}
		for i, t := range w.tables {
			t, val, pos := t, values[i], int64(w.writeOffsets[t])
			g.Go(func() error {
				if err := directio.ReadWriteAt(w.tableFiles[t].data.file, val, pos); err != nil {
					return fmt.Errorf("%w: table %q: write payload: %v", ErrWriteIO, t, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// Step 2: write every table's new end offset in parallel.
	{
		g := &errgroup.Group{}
		for _, t := range w.tables {
			t := t
			g.Go(func() error {
				var buf [8]byte
				binary.BigEndian.PutUint64(buf[:], newOffsets[t])
				if err := directio.ReadWriteAt(w.tableFiles[t].offsets.file, buf[:], offPos); err != nil {
					return fmt.Errorf("%w: table %q: write offset: %v", ErrWriteIO, t, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// Step 3: write the key.
	{
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], key)
		if err := directio.ReadWriteAt(w.keysFile.file, buf[:], offPos); err != nil {
			return fmt.Errorf("%w: write key: %v", ErrWriteIO, err)
		}
	}

	// Step 4: swap length via build-sync-close-rename over an immutable
	// staging file.
	if err := w.swapLength(w.length + 1); err != nil {
		return err
	}

	// Steps 5-6: update in-memory write offsets and length.
	for _, t := range w.tables {
		w.writeOffsets[t] = newOffsets[t]
	}
	w.length++

	// Steps 7-8: publish to the CAOS sequences. These must not fail; a
	// failure here would mean disk and memory have already diverged from
	// a durably committed state, which this package treats as a bug.
	for _, t := range w.tables {
		w.offsetsW[t].Append(newOffsets[t])
	}
	w.keysW.Append(key)

	return nil
}

// swapLength builds path/new_length containing be64(newLength), fsyncs
// and closes it, removes any stale new_length first, then atomically
// renames it over path/length — the single commit linearization point.
// Every path here is resolved relative to the store's sandboxed root,
// never a raw absolute path.
func (w *Writer) swapLength(newLength uint64) error {
	root := w.root.root

	root.Remove(newLengthFileName)

	sink, err := directio.BuildSink(root, newLengthFileName)
	if err != nil {
		return fmt.Errorf("%w: build new_length: %v", ErrWriteIO, err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], newLength)
	if err := sink.WriteAll(buf[:]); err != nil {
		return fmt.Errorf("%w: write new_length: %v", ErrWriteIO, err)
	}
	if err := sink.Sync(); err != nil {
		return fmt.Errorf("%w: sync new_length: %v", ErrWriteIO, err)
	}
	if err := sink.Close(); err != nil {
		return fmt.Errorf("%w: close new_length: %v", ErrWriteIO, err)
	}

	if err := root.Rename(newLengthFileName, lengthFileName); err != nil {
		return fmt.Errorf("%w: rename new_length over length: %v", ErrWriteIO, err)
	}
	return nil
}

// Close releases the Writer's file handles. The handles of every Reader
// from ReaderFactory are clones sharing the Writer's refcount, so Close
// panics if any Reader or Iter over the same store is still open.
func (w *Writer) Close() error {
	if err := w.keysFile.close(); err != nil {
		return err
	}
	for _, t := range w.tables {
		tf := w.tableFiles[t]
		if err := tf.offsets.close(); err != nil {
			return err
		}
		if err := tf.data.close(); err != nil {
			return err
		}
	}
	return w.root.close()
}
