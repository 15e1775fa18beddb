// Command chronicle-seed populates a store with synthetic records for
// manual testing and benchmarking of chronicle-bench / chronicle-inspect.
package main

import (
	"bytes"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/jpl-au/chronicle"
)

func main() {
	path := flag.String("path", "", "store directory (required)")
	tables := flag.StringSlice("table", []string{"primary"}, "table name, repeatable")
	count := flag.Int("count", 1000, "number of records to append")
	recordSize := flag.Int("record-size", 256, "payload size per table, in bytes")
	segmentLen := flag.Uint32("segment-length", 4096, "CAOS segment length")
	manifest := flag.String("manifest", "", "optional path to write a JSON manifest of what was seeded")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "chronicle-seed: --path is required")
		os.Exit(2)
	}

	if err := run(*path, *tables, *count, *recordSize, *segmentLen, *manifest); err != nil {
		fmt.Fprintf(os.Stderr, "chronicle-seed: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, tables []string, count, recordSize int, segmentLen uint32, manifestPath string) error {
	wf, _, err := chronicle.Open(chronicle.Config{
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
	defer w.Close()

	payload := make([]byte, recordSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	values := make([][]byte, len(tables))
	for i := range values {
		values[i] = payload
	}

	for key := uint64(1); key <= uint64(count); key++ {
		if err := w.Append(key, values); err != nil {
			return fmt.Errorf("append %d: %w", key, err)
		}
	}

	if manifestPath != "" {
		body, err := json.Marshal(struct {
			Path       string   `json:"path"`
			Tables     []string `json:"tables"`
			Count      int      `json:"count"`
			RecordSize int      `json:"record_size"`
		}{path, tables, count, recordSize})
		if err != nil {
			return fmt.Errorf("marshal manifest: %w", err)
		}
		if err := atomic.WriteFile(manifestPath, bytes.NewReader(body)); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	fmt.Printf("seeded %d records across %d table(s) into %s\n", count, len(tables), path)
	return nil
}
