//go:build !unix

// Portable fallback for platforms without O_DIRECT (notably Windows).
// Reads and writes go through ordinary buffered *os.File I/O; durability
// is still established by an explicit Sync() at the points the protocol
// requires it, but the page cache is not bypassed.
package directio

import (
	"fmt"
	"os"
)

type portableBlockFile struct {
	f    *os.File
	path string
}

// Open opens path (relative to root) for block-aligned access without
// O_DIRECT.
func Open(root *os.Root, path string, flag int, perm os.FileMode) (BlockFile, error) {
	f, err := root.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("directio: open %s: %w", path, err)
	}
	return &portableBlockFile{f: f, path: path}, nil
}

func (p *portableBlockFile) ReadAt(buf []byte, pos int64) (int, error) {
	n, err := p.f.ReadAt(buf, pos)
	if err != nil {
		return n, fmt.Errorf("directio: read %s at %d: %w", p.path, pos, err)
	}
	return n, nil
}

func (p *portableBlockFile) WriteAt(buf []byte, pos int64) (int, error) {
	n, err := p.f.WriteAt(buf, pos)
	if err != nil {
		return n, fmt.Errorf("directio: write %s at %d: %w", p.path, pos, err)
	}
	return n, nil
}

func (p *portableBlockFile) Fdatasync() error {
	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("directio: sync %s: %w", p.path, err)
	}
	return nil
}

func (p *portableBlockFile) AlignUp(n int64) int64 {
	return (n + BlockSize - 1) &^ (BlockSize - 1)
}

func (p *portableBlockFile) AlignDown(n int64) int64 {
	return n &^ (BlockSize - 1)
}

func (p *portableBlockFile) AllocAligned(size int) []byte {
	return make([]byte, p.AlignUp(int64(size)))
}

func (p *portableBlockFile) FileSize() (int64, error) {
	info, err := p.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("directio: stat %s: %w", p.path, err)
	}
	return info.Size(), nil
}

func (p *portableBlockFile) Path() string {
	return p.path
}

func (p *portableBlockFile) Close() error {
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("directio: close %s: %w", p.path, err)
	}
	return nil
}
