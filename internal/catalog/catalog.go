// Package catalog holds the BCRPData series metadata: one record per series
// code with its category, group, name, frequency and publication details.
//
// The first column is the primary key (the series code). Lookups by code are
// exact; Search is fuzzy and word based.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seenimoa/bcrpdata/internal/fuzzy"
	"github.com/seenimoa/bcrpdata/internal/infra"
)

// Well-known column names of the published metadata.
const (
	ColCode     = "Código de serie"
	ColCategory = "Categoría de serie"
	ColGroup    = "Grupo de serie"
	ColName     = "Nombre de serie"
)

// Positions used when a file carries different header names.
const (
	groupPos = 2
	namePos  = 3
)

// ErrCodeNotFound matches every *CodeNotFoundError with errors.Is.
var ErrCodeNotFound = errors.New("series code not found in catalog")

// CodeNotFoundError reports a code absent from the catalog.
type CodeNotFoundError struct {
	Code string
}

func (e *CodeNotFoundError) Error() string {
	return fmt.Sprintf("series code %q not found in catalog", e.Code)
}

// Is makes errors.Is(err, ErrCodeNotFound) true.
func (e *CodeNotFoundError) Is(target error) bool { return target == ErrCodeNotFound }

// Field is one name/value pair of a record.
type Field struct {
	Name  string
	Value string
}

// Record is one catalog row. Values align with the catalog's columns.
type Record struct {
	columns []string
	values  []string
}

// Code returns the primary key.
func (r Record) Code() string {
	if len(r.values) == 0 {
		return ""
	}
	return r.values[0]
}

// Get returns the value of the named column.
func (r Record) Get(column string) (string, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return "", false
}

// Values returns a copy of the row in column order.
func (r Record) Values() []string { return append([]string(nil), r.values...) }

// Fields returns the record as ordered name/value pairs.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.columns))
	for i, c := range r.columns {
		out[i] = Field{Name: c, Value: r.values[i]}
	}
	return out
}

// Map returns the record keyed by column name.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.columns))
	for i, c := range r.columns {
		out[c] = r.values[i]
	}
	return out
}

// JSON renders the record as an indented object with keys in column order.
func (r Record) JSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteString(",")
		}
		k, err := marshalString(c)
		if err != nil {
			return nil, err
		}
		v, err := marshalString(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteString(":")
		buf.Write(v)
	}
	buf.WriteString("}")

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Catalog is an immutable, ordered set of metadata records.
type Catalog struct {
	columns []string
	records []Record
	index   map[string]int
	logger  *slog.Logger
}

// New builds a catalog from a header and rows. Short rows are padded and
// long rows truncated to the header width.
func New(columns []string, rows [][]string) *Catalog {
	c := &Catalog{
		columns: append([]string(nil), columns...),
		records: make([]Record, 0, len(rows)),
		index:   make(map[string]int, len(rows)),
		logger:  infra.Discard(),
	}
	for _, row := range rows {
		values := make([]string, len(c.columns))
		copy(values, row)
		c.add(Record{columns: c.columns, values: values})
	}
	return c
}

// Empty returns a catalog with no columns and no records.
func Empty() *Catalog { return New(nil, nil) }

func (c *Catalog) add(r Record) {
	if _, ok := c.index[r.Code()]; !ok {
		c.index[r.Code()] = len(c.records)
	}
	c.records = append(c.records, r)
}

// WithLogger returns c with search warnings sent to l.
func (c *Catalog) WithLogger(l *slog.Logger) *Catalog {
	c.logger = infra.OrDiscard(l)
	return c
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// IsEmpty reports whether the catalog has no records.
func (c *Catalog) IsEmpty() bool { return len(c.records) == 0 }

// Columns returns the column names.
func (c *Catalog) Columns() []string { return append([]string(nil), c.columns...) }

// Records returns the records in catalog order.
func (c *Catalog) Records() []Record { return append([]Record(nil), c.records...) }

// Has reports whether code is in the catalog.
func (c *Catalog) Has(code string) bool {
	_, ok := c.index[code]
	return ok
}

// Query returns the record with exactly this code. When several rows share
// a code the first one wins.
func (c *Catalog) Query(code string) (*Record, error) {
	i, ok := c.index[code]
	if !ok {
		return nil, &CodeNotFoundError{Code: code}
	}
	r := c.records[i]
	return &r, nil
}

// Label returns the display label of code, "<group> - <name>", which is
// how the API names the series column.
func (c *Catalog) Label(code string) (string, error) {
	r, err := c.Query(code)
	if err != nil {
		return "", err
	}
	group, ok := r.Get(ColGroup)
	if !ok && len(r.values) > groupPos {
		group = r.values[groupPos]
	}
	name, ok := r.Get(ColName)
	if !ok && len(r.values) > namePos {
		name = r.values[namePos]
	}
	return group + " - " + name, nil
}

// Filter splits codes into the ones present in the catalog and the ones
// that are not, preserving order in both.
func (c *Catalog) Filter(codes []string) (known, unknown []string) {
	known = []string{}
	for _, code := range codes {
		if c.Has(code) {
			known = append(known, code)
		} else {
			unknown = append(unknown, code)
		}
	}
	return known, unknown
}

// Refine returns a catalog holding the rows of codes in that order. Any
// unknown code is an error.
func (c *Catalog) Refine(codes []string) (*Catalog, error) {
	out := New(c.columns, nil)
	out.logger = c.logger
	for _, code := range codes {
		i, ok := c.index[code]
		if !ok {
			return nil, &CodeNotFoundError{Code: code}
		}
		out.add(Record{columns: out.columns, values: append([]string(nil), c.records[i].values...)})
	}
	return out, nil
}

// Search returns the records where any word of any selected column is
// similar to keyword. With no columns every column is searched. Unknown
// column names are skipped.
func (c *Catalog) Search(keyword string, cutoff float64, columns ...string) []Record {
	if len(columns) == 0 {
		return c.search(keyword, cutoff, c.allPositions())
	}
	var positions []int
	for _, name := range columns {
		found := false
		for i, col := range c.columns {
			if col == name {
				positions = append(positions, i)
				found = true
				break
			}
		}
		if !found {
			c.logger.Warn("search column not in catalog", slog.String("column", name))
		}
	}
	return c.search(keyword, cutoff, positions)
}

// SearchColumns is Search with columns selected by position.
func (c *Catalog) SearchColumns(keyword string, cutoff float64, positions ...int) []Record {
	if len(positions) == 0 {
		return c.search(keyword, cutoff, c.allPositions())
	}
	var valid []int
	for _, p := range positions {
		if p < 0 || p >= len(c.columns) {
			c.logger.Warn("search column index out of range", slog.Int("index", p), slog.Int("columns", len(c.columns)))
			continue
		}
		valid = append(valid, p)
	}
	return c.search(keyword, cutoff, valid)
}

func (c *Catalog) search(keyword string, cutoff float64, positions []int) []Record {
	out := []Record{}
	for _, r := range c.records {
		for _, p := range positions {
			if fuzzy.ContainsSimilar(r.values[p], keyword, cutoff) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func (c *Catalog) allPositions() []int {
	out := make([]int, len(c.columns))
	for i := range out {
		out[i] = i
	}
	return out
}

// isArtifact reports columns that carry no data: the empty column produced
// by the trailing delimiter of the published file, or its pandas-style
// placeholder name.
func isArtifact(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.HasPrefix(name, "Unnamed:")
}
