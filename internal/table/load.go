package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadOptions controls how a dataset file is read.
type LoadOptions struct {
	// Delimiter for delimited text. If 0, chosen from the file extension.
	Delimiter rune
	// Sheet selects an XLSX sheet by name; SheetIndex by 1-based position.
	Sheet      string
	SheetIndex int
	// NullTokens are cell values treated as missing (case-insensitive).
	NullTokens []string
}

// DefaultLoadOptions returns the defaults used by the CLI.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{NullTokens: []string{"NA", "N/A", "null", "NaN", "None"}}
}

// Load reads a dataset, choosing the reader from the extension.
func Load(path string, opt LoadOptions) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("stat dataset: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}
	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		defer f.Close()
		delim := opt.Delimiter
		if delim == 0 {
			delim = sniffDelimiter(path)
		}
		t, err = ReadCSV(f, delim)
		if err != nil {
			return nil, err
		}
	case ".xlsx":
		t, err = LoadXLSX(path, opt.Sheet, opt.SheetIndex)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	t.Name = filepath.Base(path)
	normalizeNulls(t, opt.NullTokens)
	return t, nil
}

// ReadCSV reads a delimited stream whose first record is the header.
// A stream with only a header yields a table with zero rows.
func ReadCSV(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comma = delim
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return New("", nil), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t := New("", header)
	for {
		rec, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", t.Rows()+1, err)
		}
		t.AppendRow(rec)
	}
	return t, nil
}

// WriteCSV writes the header and all rows as comma-separated values.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := 0; i < t.Rows(); i++ {
		if err := cw.Write(t.Row(i)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func sniffDelimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}

func normalizeNulls(t *Table, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[strings.ToLower(tok)] = struct{}{}
	}
	for _, c := range t.Columns {
		for i, v := range c.Values {
			if _, ok := set[strings.ToLower(strings.TrimSpace(v))]; ok {
				c.Values[i] = ""
			}
		}
	}
}
