package table

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a dataset path does not exist.
	ErrNotFound = errors.New("dataset not found")
	// ErrUnsupportedFormat is returned for file extensions without a loader.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	// ErrColumnNotFound is returned when a named column is absent.
	ErrColumnNotFound = errors.New("column not found")
)

// Column holds the raw cell values of one column. An empty string marks a missing value.
type Column struct {
	Name   string
	Values []string
}

// Table is a columnar, string-typed dataset. All columns have the same length.
type Table struct {
	Name    string
	Columns []*Column
}

// New creates an empty table with the given header.
func New(name string, header []string) *Table {
	t := &Table{Name: name, Columns: make([]*Column, len(header))}
	for i, h := range header {
		t.Columns[i] = &Column{Name: strings.TrimSpace(h)}
	}
	return t
}

// Rows returns the number of data rows.
func (t *Table) Rows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Header returns the column names in order.
func (t *Table) Header() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	if i := t.Index(name); i >= 0 {
		return t.Columns[i], true
	}
	return nil, false
}

// MustColumn is Column with an error for absent names.
func (t *Table) MustColumn(name string) (*Column, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return c, nil
}

// AppendRow adds one record, padding short records and dropping extra fields.
func (t *Table) AppendRow(rec []string) {
	for i, c := range t.Columns {
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		c.Values = append(c.Values, v)
	}
}

// Row returns a copy of row i.
func (t *Table) Row(i int) []string {
	out := make([]string, len(t.Columns))
	for j, c := range t.Columns {
		out[j] = c.Values[i]
	}
	return out
}

// Subset returns a new table with the given rows in the given order.
func (t *Table) Subset(indices []int) *Table {
	out := &Table{Name: t.Name, Columns: make([]*Column, len(t.Columns))}
	for j, c := range t.Columns {
		vals := make([]string, len(indices))
		for k, idx := range indices {
			vals[k] = c.Values[idx]
		}
		out.Columns[j] = &Column{Name: c.Name, Values: vals}
	}
	return out
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Columns: make([]*Column, len(t.Columns))}
	for j, c := range t.Columns {
		out.Columns[j] = &Column{Name: c.Name, Values: append([]string(nil), c.Values...)}
	}
	return out
}

// DeleteRows removes the marked rows in place and returns how many were removed.
func (t *Table) DeleteRows(drop map[int]bool) int {
	if len(drop) == 0 {
		return 0
	}
	n := t.Rows()
	removed := 0
	for _, c := range t.Columns {
		kept := c.Values[:0]
		for i := 0; i < n; i++ {
			if !drop[i] {
				kept = append(kept, c.Values[i])
			}
		}
		removed = n - len(kept)
		c.Values = kept
	}
	return removed
}

// IsMissing reports whether a cell counts as missing.
func IsMissing(s string) bool { return strings.TrimSpace(s) == "" }

// NonMissing returns the non-missing values of a column.
func (c *Column) NonMissing() []string {
	out := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if !IsMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// MissingCount counts missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for _, v := range c.Values {
		if IsMissing(v) {
			n++
		}
	}
	return n
}

// Counts returns value frequencies of non-missing cells.
func (c *Column) Counts() map[string]int {
	out := make(map[string]int)
	for _, v := range c.Values {
		if !IsMissing(v) {
			out[v]++
		}
	}
	return out
}

// GroupBy maps each value of the named column to its row indices. Missing
// cells are skipped unless keepMissing is set, in which case they are grouped
// under "". Keys are returned in ascending order.
func (t *Table) GroupBy(name string, keepMissing bool) (map[string][]int, []string, error) {
	c, err := t.MustColumn(name)
	if err != nil {
		return nil, nil, err
	}
	groups := make(map[string][]int)
	for i, v := range c.Values {
		if IsMissing(v) {
			if !keepMissing {
				continue
			}
			v = ""
		}
		groups[v] = append(groups[v], i)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return groups, keys, nil
}
