// Command chronicle-bench measures append and range-scan throughput
// against a freshly created store.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/jpl-au/chronicle"
)

func main() {
	dir := flag.String("dir", "", "directory to create the benchmark store in (defaults to a temp dir)")
	tables := flag.StringSlice("table", []string{"primary"}, "table name, repeatable")
	count := flag.Int("count", 100000, "number of records to append")
	recordSize := flag.Int("record-size", 256, "payload size per table, in bytes")
	segmentLen := flag.Uint32("segment-length", 4096, "CAOS segment length")
	flag.Parse()

	path := *dir
	if path == "" {
		tmp, err := os.MkdirTemp("", "chronicle-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "chronicle-bench: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		path = tmp
	}

	if err := run(path, *tables, *count, *recordSize, *segmentLen); err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-bench: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, tables []string, count, recordSize int, segmentLen uint32) error {
	wf, rf, err := chronicle.Open(chronicle.Config{
		Path:              path,
		CreateIfNotExists: true,
		Tables:            tables,
		SegmentLength:     segmentLen,
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	w, err := wf.NewWriter()
	if err != nil {
		return fmt.Errorf("new writer: %w", err)
	}

	payload := make([]byte, recordSize)
	values := make([][]byte, len(tables))
	for i := range values {
		values[i] = payload
	}

	start := time.Now()
	for key := uint64(1); key <= uint64(count); key++ {
		if err := w.Append(key, values); err != nil {
			return fmt.Errorf("append %d: %w", key, err)
		}
	}
	appendElapsed := time.Since(start)
	fmt.Printf("append: %d records in %s (%.0f records/s)\n", count, appendElapsed, float64(count)/appendElapsed.Seconds())

	r := rf.NewReader()

	start = time.Now()
	it, ok, err := r.Iter(chronicle.IterParams{From: 0, To: uint64(count), Table: tables[0]})
	if err != nil {
		return fmt.Errorf("iter: %w", err)
	}
	scanned := 0
	if ok {
		for {
			_, _, more := it.Next()
			if !more {
				break
			}
			scanned++
		}
		it.Close()
	}
	scanElapsed := time.Since(start)
	fmt.Printf("scan: %d records in %s (%.0f records/s)\n", scanned, scanElapsed, float64(scanned)/scanElapsed.Seconds())

	r.Close()
	return w.Close()
}
