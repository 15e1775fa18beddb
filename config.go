// Package chronicle implements an append-only, monotonically keyed,
// multi-table record store. Records are appended in strictly
// non-decreasing key order and read back either by exact key or as a
// half-open range scan. Every append writes one opaque byte payload per
// configured table under a single shared uint64 key.
//
// The store is built around two ideas: a durable, strictly-ordered
// commit protocol across several files (Writer.Append), and an
// in-memory, lock-free-for-readers, append-only sequence of the
// committed keys and per-table offsets (internal/caos) that lets any
// number of Readers iterate a consistent prefix while the one Writer is
// extending it.
package chronicle

import (
	"errors"
	"fmt"
)

// Config describes an on-disk store to Open.
type Config struct {
	// Path is the root directory of the store.
	Path string
	// CreateIfNotExists, when true, creates the root directory and any
	// missing per-table directories/files at Open.
	CreateIfNotExists bool
	// Tables is the ordered, distinct, non-empty set of table names.
	// Append and iteration order follow this list.
	Tables []string
	// SegmentLength sizes the in-memory CAOS segments backing the keys
	// and per-table offsets sequences. It is purely a memory/performance
	// knob: it has no effect on anything written to disk, and a store
	// opened once with SegmentLength=64 can later be opened again with
	// SegmentLength=4096 without any migration.
	SegmentLength uint32
}

func (c Config) validate() error {
	if c.Path == "" {
		return errors.New("chronicle: config: path must not be empty")
	}
	if len(c.Tables) == 0 {
		return errors.New("chronicle: config: at least one table is required")
	}
	if c.SegmentLength == 0 {
		return errors.New("chronicle: config: segment length must be > 0")
	}

	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if t == "" {
			return errors.New("chronicle: config: table names must not be empty")
		}
		if seen[t] {
			return fmt.Errorf("chronicle: config: duplicate table name %q", t)
		}
		seen[t] = true
	}
	return nil
}
