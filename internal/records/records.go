// Package records implements the external collaborator described in
// SPEC_FULL.md §6.1: reading JSONL or CSV input records, reading a
// JSON-or-TOML config document, and writing an output stream back out as
// JSONL or CSV. Format is inferred from the file extension, falling back
// to peeking the first byte ('{' or '[' ⇒ JSON-like).
// There is no direct teacher precedent (the teacher read whole files via
// os.ReadFile for Zotero/PDF bytes); this package is grounded on the
// teacher's preference for small, explicit os/encoding-based helpers
// over a framework, generalized to the record-stream shape the spec
// requires.
package records

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ReadJSONLOrCSV opens pathOrStdin ("-" for stdin) and returns an
// iterator function yielding one decoded JSON object per call, along
// with a size hint. The hint is always 0 ("no hint") for both CSV and
// JSONL; no upfront count is made.
func ReadJSONLOrCSV(pathOrStdin string) (next func() (map[string]any, bool, error), hint int, err error) {
	r, closer, err := openInput(pathOrStdin)
	if err != nil {
		return nil, 0, err
	}
	br := bufio.NewReader(r)

	if isCSV(pathOrStdin, br) {
		return readCSV(br, closer)
	}
	return readJSONL(br, closer)
}

func openInput(pathOrStdin string) (io.Reader, io.Closer, error) {
	if pathOrStdin == "-" {
		return os.Stdin, io.NopCloser(nil), nil
	}
	f, err := os.Open(pathOrStdin)
	if err != nil {
		return nil, nil, fmt.Errorf("records: opening %s: %w", pathOrStdin, err)
	}
	return f, f, nil
}

func isCSV(pathOrStdin string, br *bufio.Reader) bool {
	ext := strings.ToLower(filepath.Ext(pathOrStdin))
	switch ext {
	case ".json", ".jsonl":
		return false
	case ".csv":
		return true
	}
	b, err := br.Peek(1)
	if err != nil {
		return false
	}
	return b[0] != '{' && b[0] != '['
}

func readJSONL(r *bufio.Reader, closer io.Closer) (func() (map[string]any, bool, error), int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return func() (map[string]any, bool, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(line), &m); err != nil {
				return nil, false, fmt.Errorf("records: parsing JSONL line: %w", err)
			}
			return m, true, nil
		}
		if err := scanner.Err(); err != nil {
			return nil, false, fmt.Errorf("records: reading JSONL: %w", err)
		}
		closer.Close()
		return nil, false, nil
	}, 0, nil
}

func readCSV(r *bufio.Reader, closer io.Closer) (func() (map[string]any, bool, error), int, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			closer.Close()
			return func() (map[string]any, bool, error) { return nil, false, nil }, 0, nil
		}
		return nil, 0, fmt.Errorf("records: reading CSV header: %w", err)
	}
	return func() (map[string]any, bool, error) {
		row, err := cr.Read()
		if err == io.EOF {
			closer.Close()
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("records: reading CSV row: %w", err)
		}
		m := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		return m, true, nil
	}, 0, nil
}

// ReadJSONOrTOML parses path as JSON or TOML based on its extension,
// decoding into v.
func ReadJSONOrTOML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("records: reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("records: parsing TOML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("records: parsing JSON %s: %w", path, err)
		}
	}
	return nil
}

// WriteOutput writes each object yielded by next to pathOrStdout ("-" for
// stdout) as JSONL (default) or, when asCSV is true, as CSV. Callers
// flatten each record into the map they yield; WriteOutput does not.
func WriteOutput(pathOrStdout string, asCSV bool, next func() (map[string]any, bool)) error {
	w, closer, err := openOutput(pathOrStdout)
	if err != nil {
		return err
	}
	defer closer.Close()

	if asCSV {
		return writeCSV(w, next)
	}
	return writeJSONL(w, next)
}

func openOutput(pathOrStdout string) (io.Writer, io.Closer, error) {
	if pathOrStdout == "-" {
		return os.Stdout, io.NopCloser(nil), nil
	}
	f, err := os.Create(pathOrStdout)
	if err != nil {
		return nil, nil, fmt.Errorf("records: creating %s: %w", pathOrStdout, err)
	}
	return f, f, nil
}

func writeJSONL(w io.Writer, next func() (map[string]any, bool)) error {
	enc := json.NewEncoder(w)
	for {
		obj, ok := next()
		if !ok {
			return nil
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("records: encoding JSONL record: %w", err)
		}
	}
}

// writeCSV derives the header from the first record's keys, sorted for
// determinism — map iteration order is not — rather than trusting
// whatever order the caller's map happens to range over. Later records
// are written against that header: keys the first record lacked are
// dropped, and header keys a record lacks are written as "<nil>". OCR
// rows always carry the same keys; chat rows leave out absent optional
// fields (estimated_cost, token_usage, response, passthrough_data), so
// their key sets can differ from row to row.
func writeCSV(w io.Writer, next func() (map[string]any, bool)) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	var header []string
	wroteHeader := false
	for {
		obj, ok := next()
		if !ok {
			return nil
		}
		if !wroteHeader {
			for k := range obj {
				header = append(header, k)
			}
			sort.Strings(header)
			if err := cw.Write(header); err != nil {
				return fmt.Errorf("records: writing CSV header: %w", err)
			}
			wroteHeader = true
		}
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = fmt.Sprintf("%v", obj[k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("records: writing CSV row: %w", err)
		}
	}
}
