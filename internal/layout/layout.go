// Package layout arranges the columns of a series table in the order the
// caller asked for their codes. The API names columns by display label and
// returns them in its own order.
package layout

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

// Labeler resolves a series code to the display label the API uses as the
// column name.
type Labeler interface {
	Label(code string) (string, error)
}

// OrderError reports why a table could not be reordered.
type OrderError struct {
	Code   string // offending code, empty for leftover columns
	Column string // offending column, when known
	Reason string
	Err    error
}

func (e *OrderError) Error() string {
	msg := "reorder columns: " + e.Reason
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" (column %q)", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OrderError) Unwrap() error { return e.Err }

// Reorder returns a copy of t with one column per code, in codes order.
// Columns are claimed in three passes over the unclaimed ones: label and
// recorded code both agree, then label alone, then recorded code alone. A
// label also matches its disambiguated form "<label> [<code>]". Every column
// must be claimed exactly once. Claimed columns carry the code that claimed
// them.
func Reorder(t *models.Table, codes []string, lab Labeler) (*models.Table, error) {
	used := make([]bool, len(t.Columns))
	picks := make([]int, len(codes))
	labels := make([]string, len(codes))
	labelErrs := make([]error, len(codes))
	for i, code := range codes {
		picks[i] = -1
		labels[i], labelErrs[i] = lab.Label(code)
	}

	byLabel := func(i int) func(models.Column) bool {
		if labelErrs[i] != nil {
			return func(models.Column) bool { return false }
		}
		label, tagged := labels[i], labels[i]+" ["+codes[i]+"]"
		return func(c models.Column) bool { return c.Name == label || c.Name == tagged }
	}
	passes := []func(i int) func(models.Column) bool{
		func(i int) func(models.Column) bool {
			named := byLabel(i)
			return func(c models.Column) bool { return named(c) && c.Code == codes[i] }
		},
		byLabel,
		func(i int) func(models.Column) bool {
			return func(c models.Column) bool { return c.Code == codes[i] }
		},
	}
	for _, pass := range passes {
		for i := range codes {
			if picks[i] >= 0 {
				continue
			}
			if j := find(t, used, pass(i)); j >= 0 {
				picks[i] = j
				used[j] = true
			}
		}
	}

	out := &models.Table{
		Index:   append([]models.Period{}, t.Index...),
		Columns: make([]models.Column, 0, len(codes)),
	}
	for i, code := range codes {
		if picks[i] < 0 {
			return nil, &OrderError{Code: code, Column: labels[i], Reason: "no column for code", Err: labelErrs[i]}
		}
		col := t.Columns[picks[i]]
		col.Values = append(col.Values[:0:0], col.Values...)
		col.Code = code
		out.Columns = append(out.Columns, col)
	}

	for i, u := range used {
		if !u {
			return nil, &OrderError{Column: t.Columns[i].Name, Reason: "column not matched by any code"}
		}
	}
	return out, nil
}

// find returns the first unclaimed column accepted by match.
func find(t *models.Table, used []bool, match func(models.Column) bool) int {
	for i, c := range t.Columns {
		if !used[i] && match(c) {
			return i
		}
	}
	return -1
}

// Entry is one column as reported by Native.
type Entry struct {
	Position int // 1-based
	Code     string
	Name     string
}

// Native lists the columns of t in their current order without touching it.
func Native(t *models.Table) []Entry {
	out := make([]Entry, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = Entry{Position: i + 1, Code: c.Code, Name: c.Name}
	}
	return out
}

// Describe writes one line per entry: position, code and name.
func Describe(entries []Entry, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		code := e.Code
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Position, code, e.Name)
	}
	return tw.Flush()
}
