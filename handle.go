package chronicle

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jpl-au/chronicle/internal/directio"
)

// sharedHandle wraps a directio.BlockFile that may be referenced by a
// Reader and any number of its clones plus in-flight Iters. Close
// requires exclusive ownership: it is a programmer error to close a
// handle while any clone or outstanding borrow is alive, and that error
// is a panic, not a returned error.
//
// refs starts at 1 for the handle returned by open/Writer construction.
// Clone (another Reader sharing the same file) and borrow (an Iter
// holding the handle open) both increment it; their
// matching Close/release decrement it. Close on the last owner actually
// closes the underlying file.
type sharedHandle struct {
	file directio.BlockFile
	refs *atomic.Int32
}

// newSharedHandle wraps file as the sole owner of a fresh refcount.
func newSharedHandle(file directio.BlockFile) *sharedHandle {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &sharedHandle{file: file, refs: refs}
}

// clone returns a new handle referencing the same underlying file,
// incrementing the shared refcount. Used when a ReaderFactory hands out
// another Reader over the same table data file.
func (h *sharedHandle) clone() *sharedHandle {
	h.refs.Add(1)
	return &sharedHandle{file: h.file, refs: h.refs}
}

// borrow increments the refcount without producing a new handle value;
// used by Iter to keep the underlying file alive for the Iter's
// lifetime. release undoes it.
func (h *sharedHandle) borrow() {
	h.refs.Add(1)
}

func (h *sharedHandle) release() {
	h.refs.Add(-1)
}

// close releases this owner's reference. It panics if other owners or
// borrows are still outstanding; only the final release actually closes
// the OS file handle.
func (h *sharedHandle) close() error {
	n := h.refs.Add(-1)
	switch {
	case n > 0:
		panic(fmt.Sprintf("chronicle: close: handle for %s is still shared (%d outstanding)", h.file.Path(), n))
	case n < 0:
		panic(fmt.Sprintf("chronicle: close: handle for %s closed more times than opened", h.file.Path()))
	}
	return h.file.Close()
}

// sharedRoot refcounts a store's sandboxed os.Root the same way
// sharedHandle refcounts a file: one Open call produces it with refs=1,
// each NewReader clone increments it, and Close on the last owner
// actually closes the root. This keeps the root alive for the full
// lifetime of every long-lived handle opened beneath it (table data
// files, the keys file, an Iter's streaming reader), rather than only
// across Open's layout-creation phase.
type sharedRoot struct {
	root *os.Root
	refs *atomic.Int32
}

// newSharedRoot wraps root as the sole owner of a fresh refcount.
func newSharedRoot(root *os.Root) *sharedRoot {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &sharedRoot{root: root, refs: refs}
}

// clone returns a new reference to the same root, incrementing the
// shared refcount. Used when a ReaderFactory hands out another Reader.
func (s *sharedRoot) clone() *sharedRoot {
	s.refs.Add(1)
	return &sharedRoot{root: s.root, refs: s.refs}
}

// close releases this owner's reference. It panics if other owners are
// still outstanding; only the final release actually closes the root.
func (s *sharedRoot) close() error {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		panic(fmt.Sprintf("chronicle: close: root is still shared (%d outstanding)", n))
	case n < 0:
		panic("chronicle: close: root closed more times than opened")
	}
	return s.root.Close()
}
