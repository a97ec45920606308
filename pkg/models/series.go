// Package models defines the core data structures used throughout bcrpdata.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/guregu/null/v6"
)

// Period is one row label of a series table.
type Period struct {
	Label string    `json:"label"`          // provider label, e.g. "Ene.2010"
	Date  time.Time `json:"date,omitempty"` // zero unless calendar normalisation was requested
}

// HasDate reports whether the period was normalised to a calendar date.
func (p Period) HasDate() bool { return !p.Date.IsZero() }

// Column is one series of a table.
type Column struct {
	Name   string       `json:"name"`           // display label returned by the provider
	Code   string       `json:"code,omitempty"` // originating series code, when known
	Values []null.Float `json:"values"`
}

// Table is a dates × series grid. Values are stored column-major; every
// column holds exactly len(Index) cells.
type Table struct {
	Index   []Period `json:"index"`
	Columns []Column `json:"columns"`
}

// NewTable creates an empty table with the given column names and no rows.
func NewTable(names ...string) *Table {
	t := &Table{Index: []Period{}, Columns: make([]Column, 0, len(names))}
	for _, n := range names {
		t.Columns = append(t.Columns, Column{Name: n, Values: []null.Float{}})
	}
	return t
}

// Empty returns a table with neither rows nor columns.
func Empty() *Table { return NewTable() }

// NumRows returns the number of periods.
func (t *Table) NumRows() int { return len(t.Index) }

// NumCols returns the number of series.
func (t *Table) NumCols() int { return len(t.Columns) }

// IsEmpty reports whether the table has no columns and no rows.
func (t *Table) IsEmpty() bool { return t == nil || (len(t.Index) == 0 && len(t.Columns) == 0) }

// ColumnNames returns the column labels in table order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Codes returns the originating code of every column in table order.
func (t *Table) Codes() []string {
	codes := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		codes[i] = c.Code
	}
	return codes
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// AppendRow adds a period with one value per column.
func (t *Table) AppendRow(p Period, values []null.Float) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row %q has %d values, table has %d columns", p.Label, len(values), len(t.Columns))
	}
	t.Index = append(t.Index, p)
	for i := range t.Columns {
		t.Columns[i].Values = append(t.Columns[i].Values, values[i])
	}
	return nil
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []null.Float {
	row := make([]null.Float, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Values[i]
	}
	return row
}

// Clone returns a deep copy; mutating the copy never affects t.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Index:   append([]Period{}, t.Index...),
		Columns: make([]Column, len(t.Columns)),
	}
	for i, c := range t.Columns {
		out.Columns[i] = Column{
			Name:   c.Name,
			Code:   c.Code,
			Values: append([]null.Float{}, c.Values...),
		}
	}
	return out
}

// UniqueName returns name if it is not taken, else "<name> [<code>]" when a
// code is known, else "<name> #<n>" with the first free n from 2.
func UniqueName(name, code string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	if code != "" {
		if tagged := fmt.Sprintf("%s [%s]", name, code); !taken[tagged] {
			return tagged
		}
	}
	for n := 2; ; n++ {
		if numbered := fmt.Sprintf("%s #%d", name, n); !taken[numbered] {
			return numbered
		}
	}
}

// Validate checks the table invariants: rectangular shape, unique column
// names, unique period labels and a chronological index when dated.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Values) != len(t.Index) {
			return fmt.Errorf("column %q has %d values, index has %d", c.Name, len(c.Values), len(t.Index))
		}
	}
	labels := make(map[string]bool, len(t.Index))
	for i, p := range t.Index {
		if labels[p.Label] {
			return fmt.Errorf("duplicate period %q", p.Label)
		}
		labels[p.Label] = true
		if i > 0 && p.HasDate() && t.Index[i-1].HasDate() && !t.Index[i-1].Date.Before(p.Date) {
			return fmt.Errorf("period %q is not after %q", p.Label, t.Index[i-1].Label)
		}
	}
	return nil
}

// Dated reports whether every period carries a calendar date.
func (t *Table) Dated() bool {
	if len(t.Index) == 0 {
		return false
	}
	for _, p := range t.Index {
		if !p.HasDate() {
			return false
		}
	}
	return true
}

// SortByName returns a copy whose columns are sorted by name.
func (t *Table) SortByName() *Table {
	out := t.Clone()
	sort.SliceStable(out.Columns, func(i, j int) bool { return out.Columns[i].Name < out.Columns[j].Name })
	return out
}

// Equal reports structural equality, including null cells and row order.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Index) != len(o.Index) || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.Index {
		if t.Index[i].Label != o.Index[i].Label || !t.Index[i].Date.Equal(o.Index[i].Date) {
			return false
		}
	}
	for i := range t.Columns {
		a, b := t.Columns[i], o.Columns[i]
		if a.Name != b.Name || a.Code != b.Code || len(a.Values) != len(b.Values) {
			return false
		}
		for j := range a.Values {
			if a.Values[j].Valid != b.Values[j].Valid {
				return false
			}
			if a.Values[j].Valid && a.Values[j].Float64 != b.Values[j].Float64 {
				return false
			}
		}
	}
	return true
}
