// Command chronicle-export writes a zstd-compressed backup snapshot of a
// store's on-disk files. It operates purely on the files under the
// store's directory (length, keys, and each table's offsets/data) and
// never touches the core's in-memory sequences, so it can run safely
// against a store no writer currently has open. It takes no lock and
// reads each file once in directory-walk order, so a snapshot taken while
// a writer is appending can capture the files at different commits.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	flag "github.com/spf13/pflag"
)

func main() {
	path := flag.String("path", "", "store directory to export (required)")
	out := flag.String("out", "", "output .tar.zst path (required)")
	level := flag.Int("level", 2, "zstd compression level: 1=fastest, 2=default, 3=better, 4=best")
	flag.Parse()

	if *path == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "chronicle-export: --path and --out are required")
		os.Exit(2)
	}

	if err := run(*path, *out, encoderLevel(*level)); err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-export: %v\n", err)
		os.Exit(1)
	}
}

func encoderLevel(n int) zstd.EncoderLevel {
	switch n {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	case 4:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func run(storePath, outPath string, level zstd.EncoderLevel) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("new zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	return filepath.Walk(storePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if info.Name() == "new_length" {
			// transient staging file, never part of a consistent snapshot
			return nil
		}

		rel, err := filepath.Rel(storePath, p)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(tw, src)
		return err
	})
}
