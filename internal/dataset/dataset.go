// Package dataset reads and writes recorded telemetry files: a single JSON
// array of flat records, optionally gzip compressed.
package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned by ReadRequired when a dataset holds no records.
var ErrEmpty = errors.New("dataset is empty")

var gzipMagic = []byte{0x1f, 0x8b}

// IsCompressed reports whether path names a gzip dataset.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Write stores v (normally a slice of records) as an indented JSON array.
// The file is gzip compressed when compress is set or the path ends in .gz.
func Write(path string, v any, compress bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if compress || IsCompressed(path) {
		gz := gzip.NewWriter(f)
		if err := encode(gz, v); err != nil {
			gz.Close()
			return err
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return f.Close()
	}

	if err := encode(f, v); err != nil {
		return err
	}
	return f.Close()
}

func encode(w io.Writer, v any) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	return bw.Flush()
}

// Read loads a dataset file. Gzip input is detected from its header, so the
// file name does not matter. Numbers are kept as json.Number.
func Read(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// ReadRequired is Read, but fails with ErrEmpty when there are no records.
func ReadRequired(path string) ([]map[string]any, error) {
	records, err := Read(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return records, nil
}

// Decode reads a dataset from r, which may be gzip compressed. An empty
// stream is an empty dataset.
func Decode(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var src io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	dec := json.NewDecoder(src)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, nil
}
