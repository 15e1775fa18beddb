package chronicle

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpl-au/chronicle/internal/caos"
	"github.com/jpl-au/chronicle/internal/directio"
)

const (
	lengthFileName    = "length"
	keysFileName      = "keys"
	offsetsFileName   = "offsets"
	dataFileName      = "data"
	newLengthFileName = "new_length"
)

// tableFiles bundles the two shared handles that back one configured
// table: its offsets sequence file and its payload data file.
type tableFiles struct {
	offsets *sharedHandle
	data    *sharedHandle
}

// Open validates cfg, loads (or initializes) the on-disk state into
// memory, and hands back a unique WriterFactory and a cloneable
// ReaderFactory sharing the same in-memory sequences and file handles.
// Open takes no cross-process lock; the store assumes a single process
// has it open at a time.
func Open(cfg Config) (*WriterFactory, *ReaderFactory, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	root, err := ensureRoot(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrOpenIO, err)
	}

	if err := ensureLayout(root, cfg); err != nil {
		root.Close()
		return nil, nil, err
	}

	length, err := readLength(root)
	if err != nil {
		root.Close()
		return nil, nil, err
	}

	keysW, keysR, err := loadSequence(root, keysFileName, length, cfg.SegmentLength)
	if err != nil {
		root.Close()
		return nil, nil, err
	}

	keysFile, err := openHandle(root, keysFileName)
	if err != nil {
		root.Close()
		return nil, nil, err
	}

	writeOffsets := make(map[string]uint64, len(cfg.Tables))
	offsetsW := make(map[string]*caos.Writer, len(cfg.Tables))
	offsetsR := make(map[string]*caos.Reader, len(cfg.Tables))
	files := make(map[string]tableFiles, len(cfg.Tables))

	for _, t := range cfg.Tables {
		offsetsPath := filepath.Join(t, offsetsFileName)
		dataPath := filepath.Join(t, dataFileName)

		ow, or, err := loadSequence(root, offsetsPath, length, cfg.SegmentLength)
		if err != nil {
			root.Close()
			return nil, nil, err
		}

		maxOffset := uint64(0)
		if last, ok := or.Last(); ok {
			maxOffset = last
		}

		offsetsHandle, err := openHandle(root, offsetsPath)
		if err != nil {
			root.Close()
			return nil, nil, err
		}
		dataHandle, err := openHandle(root, dataPath)
		if err != nil {
			root.Close()
			return nil, nil, err
		}

		size, err := dataHandle.file.FileSize()
		if err != nil {
			root.Close()
			return nil, nil, fmt.Errorf("%w: table %q: stat data file: %v", ErrOpenIO, t, err)
		}
		if uint64(size) < maxOffset {
			root.Close()
			return nil, nil, fmt.Errorf("%w: table %q: data file has %d bytes, need >= %d", ErrOpenDataTooSmall, t, size, maxOffset)
		}

		writeOffsets[t] = maxOffset
		offsetsW[t] = ow
		offsetsR[t] = or
		files[t] = tableFiles{offsets: offsetsHandle, data: dataHandle}
	}

	// root stays open for the life of the store: every long-lived handle
	// above, and every StreamReader an Iter opens later, is reached
	// through it rather than through a raw path. sharedRoot gives it the
	// same clone/close refcount discipline as the table file handles, so
	// a Close while a clone (or, transitively, any handle beneath it) is
	// still outstanding panics instead of pulling the sandbox out from
	// under a live Reader.
	sr := newSharedRoot(root)

	wf := &WriterFactory{
		path:         cfg.Path,
		tables:       cfg.Tables,
		keysW:        keysW,
		offsetsW:     offsetsW,
		writeOffsets: writeOffsets,
		length:       length,
		keysFile:     keysFile,
		tableFiles:   files,
		root:         sr,
	}
	rf := &ReaderFactory{
		path:       cfg.Path,
		tables:     cfg.Tables,
		keysR:      keysR,
		offsetsR:   offsetsR,
		keysFile:   keysFile,
		tableFiles: files,
		root:       sr,
	}
	return wf, rf, nil
}

// ensureRoot opens cfg.Path as a sandboxed os.Root, creating the
// directory first if cfg.CreateIfNotExists is set.
func ensureRoot(cfg Config) (*os.Root, error) {
	if cfg.CreateIfNotExists {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenRoot(cfg.Path)
}

// ensureLayout makes sure every file and directory the store's on-disk
// layout requires exists, creating the missing ones when
// cfg.CreateIfNotExists is set; otherwise a missing one is an ErrOpenIO.
// A fresh length file is initialized to 8 zero bytes.
func ensureLayout(root *os.Root, cfg Config) error {
	if !cfg.CreateIfNotExists {
		names := []string{lengthFileName, keysFileName}
		for _, t := range cfg.Tables {
			names = append(names, filepath.Join(t, offsetsFileName), filepath.Join(t, dataFileName))
		}
		for _, name := range names {
			if _, err := root.Stat(name); err != nil {
				return fmt.Errorf("%w: %v", ErrOpenIO, err)
			}
		}
	}
	if err := ensureFile(root, lengthFileName, 8); err != nil {
		return fmt.Errorf("%w: %v", ErrOpenIO, err)
	}
	if err := ensureFile(root, keysFileName, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrOpenIO, err)
	}
	for _, t := range cfg.Tables {
		if err := ensureDir(root, t); err != nil {
			return fmt.Errorf("%w: table %q: %v", ErrOpenIO, t, err)
		}
		if err := ensureFile(root, filepath.Join(t, offsetsFileName), 0); err != nil {
			return fmt.Errorf("%w: table %q: %v", ErrOpenIO, t, err)
		}
		if err := ensureFile(root, filepath.Join(t, dataFileName), 0); err != nil {
			return fmt.Errorf("%w: table %q: %v", ErrOpenIO, t, err)
		}
	}

	// A leftover new_length from a crash between commit steps 4a (write+sync)
	// and 4b (rename) never contains anything readers or writers have
	// observed yet, because the in-memory length is rebuilt from path/length
	// below, not from new_length. It is safe to simply discard it; the
	// next append will recreate and rename it.
	root.Remove(newLengthFileName)
	return nil
}

func ensureDir(root *os.Root, name string) error {
	if _, err := root.Stat(name); err == nil {
		return nil
	}
	return root.Mkdir(name, 0o755)
}

// ensureFile makes sure name exists under root, creating it (and writing
// zeroPad zero bytes, if nonzero) when absent.
func ensureFile(root *os.Root, name string, zeroPad int) error {
	if _, err := root.Stat(name); err == nil {
		return nil
	}
	f, err := root.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if zeroPad > 0 {
		if _, err := f.Write(make([]byte, zeroPad)); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// readLength reads path/length and returns its big-endian uint64.
func readLength(root *os.Root) (uint64, error) {
	f, err := root.Open(lengthFileName)
	if err != nil {
		return 0, fmt.Errorf("%w: open length: %v", ErrOpenIO, err)
	}
	defer f.Close()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, fmt.Errorf("%w: read length: %v", ErrOpenIO, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// loadSequence streams exactly 8*n bytes from path (relative to root),
// parses them as a big-endian uint64 sequence, verifies it is
// non-decreasing, and materializes it into a fresh CAOS of the given
// segment length.
func loadSequence(root *os.Root, path string, n uint64, segmentLen uint32) (*caos.Writer, *caos.Reader, error) {
	w, r := caos.New(int(segmentLen))
	if n == 0 {
		return w, r, nil
	}

	sr, err := directio.NewStreamReader(root, path, 512*1024, 4)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrOpenIO, path, err)
	}
	defer sr.Close()

	values := make([]uint64, n)
	buf := make([]byte, 8*n)
	if err := sr.ReadExact(buf); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrOpenLengthMismatch, path, err)
	}

	var prev uint64
	for i := range values {
		v := binary.BigEndian.Uint64(buf[i*8 : i*8+8])
		if i > 0 && v < prev {
			return nil, nil, fmt.Errorf("%w: %s: index %d (%d) < index %d (%d)", ErrOpenOrdering, path, i, v, i-1, prev)
		}
		values[i] = v
		prev = v
	}

	w.Append(values...)
	return w, r, nil
}

// openHandle opens path, relative to root, as a block-aligned file under
// a fresh shared handle with refcount 1.
func openHandle(root *os.Root, path string) (*sharedHandle, error) {
	bf, err := directio.Open(root, path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrOpenIO, path, err)
	}
	return newSharedHandle(bf), nil
}

// WriterFactory owns the single Writer this store can produce. It is
// consumed once: calling NewWriter twice is a programmer error.
type WriterFactory struct {
	mu   sync.Mutex
	used bool

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

// NewWriter returns the store's single Writer. It must be called at
// most once per WriterFactory.
func (f *WriterFactory) NewWriter() (*Writer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used {
		return nil, fmt.Errorf("chronicle: writer factory already produced its writer")
	}
	f.used = true

	return &Writer{
		path:         f.path,
		tables:       f.tables,
		keysW:        f.keysW,
		offsetsW:     f.offsetsW,
		writeOffsets: f.writeOffsets,
		length:       f.length,
		keysFile:     f.keysFile,
		tableFiles:   f.tableFiles,
		root:         f.root,
	}, nil
}

// ReaderFactory produces any number of independent Readers sharing the
// same in-memory sequences and (refcounted) file handles.
type ReaderFactory struct {
	path       string
	tables     []string
	keysR      *caos.Reader
	offsetsR   map[string]*caos.Reader
	keysFile   *sharedHandle
	tableFiles map[string]tableFiles
	root       *sharedRoot
}

// NewReader returns a fresh Reader. Each call clones the shared file
// handles and the sandboxed root (bumping their refcounts) plus the CAOS
// reader handles (which are already cheap/lock-free to clone).
func (f *ReaderFactory) NewReader() *Reader {
	offsetsR := make(map[string]*caos.Reader, len(f.tables))
	files := make(map[string]tableFiles, len(f.tables))
	for _, t := range f.tables {
		offsetsR[t] = f.offsetsR[t].Clone()
		tf := f.tableFiles[t]
		files[t] = tableFiles{offsets: tf.offsets.clone(), data: tf.data.clone()}
	}

	return &Reader{
		path:       f.path,
		tables:     f.tables,
		keysR:      f.keysR.Clone(),
		offsetsR:   offsetsR,
		keysFile:   f.keysFile.clone(),
		tableFiles: files,
		root:       f.root.clone(),
	}
}
