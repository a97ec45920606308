package batch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	api "github.com/seenimoa/bcrpdata/internal/providers/bcrp"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// Policy decides what Merge does with failed chunks.
type Policy int

const (
	// SkipFailed merges the successful chunks and reports the failed ones.
	SkipFailed Policy = iota
	// FailFast refuses to merge when any chunk failed.
	FailFast
)

// ChunkFailure describes one failed chunk.
type ChunkFailure struct {
	Index int
	Codes []string
	Err   error
}

func (f ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d (%s): %v", f.Index+1, strings.Join(f.Codes, "-"), f.Err)
}

func (f ChunkFailure) Unwrap() error { return f.Err }

// PartialError is returned alongside a merged table when some chunks failed.
type PartialError struct {
	Failures []ChunkFailure
}

func (e *PartialError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d chunk(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual chunk errors to errors.Is / errors.As.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ErrAllChunksFailed is returned when no chunk produced a table.
var ErrAllChunksFailed = errors.New("all chunks failed")

// Merge re-associates results with their chunks by Index, tags every column
// with its originating code and joins the tables column-wise. The returned
// table is never nil. Under SkipFailed a *PartialError lists the chunks that
// were left out; under FailFast any failure aborts the merge.
func Merge(results []Result, policy Policy) (*models.Table, error) {
	ordered := append([]Result(nil), results...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var failures []ChunkFailure
	tables := make([]*models.Table, 0, len(ordered))
	for _, r := range ordered {
		if r.Err != nil || r.Table == nil {
			err := r.Err
			if err == nil {
				err = errors.New("no table")
			}
			failures = append(failures, ChunkFailure{Index: r.Index, Codes: r.Codes, Err: err})
			continue
		}
		tables = append(tables, tag(r.Table, r.Codes))
	}

	if len(failures) > 0 && policy == FailFast {
		return models.Empty(), &PartialError{Failures: failures}
	}
	if len(tables) == 0 && len(failures) > 0 {
		return models.Empty(), errors.Join(ErrAllChunksFailed, &PartialError{Failures: failures})
	}

	merged := MergeTables(tables...)
	if len(failures) > 0 {
		return merged, &PartialError{Failures: failures}
	}
	return merged, nil
}

// tag copies t and fills in missing column codes from the chunk's code list.
// Codes are assigned positionally only when the counts agree.
func tag(t *models.Table, codes []string) *models.Table {
	out := t.Clone()
	if len(out.Columns) != len(codes) {
		return out
	}
	for i := range out.Columns {
		if out.Columns[i].Code == "" {
			out.Columns[i].Code = codes[i]
		}
	}
	return out
}

// MergeTables concatenates tables column-wise. Rows are aligned on the union
// of period labels; cells a table does not cover are null. The union is sorted
// by date when every period is dated, by the date its label parses to when
// every label parses, and kept in first-appearance order otherwise. Colliding column names are disambiguated with the column code.
func MergeTables(tables ...*models.Table) *models.Table {
	index, pos := unionIndex(tables)

	out := &models.Table{Index: index, Columns: []models.Column{}}
	names := make(map[string]bool)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			values := make([]null.Float, len(index))
			for row, v := range c.Values {
				values[pos[t.Index[row].Label]] = v
			}
			name := models.UniqueName(c.Name, c.Code, names)
			names[name] = true
			out.Columns = append(out.Columns, models.Column{Name: name, Code: c.Code, Values: values})
		}
	}
	return out
}

func unionIndex(tables []*models.Table) ([]models.Period, map[string]int) {
	index := []models.Period{}
	seen := make(map[string]bool)
	dated := true
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, p := range t.Index {
			if !p.HasDate() {
				dated = false
			}
			if seen[p.Label] {
				continue
			}
			seen[p.Label] = true
			index = append(index, p)
		}
	}
	if dated {
		sort.SliceStable(index, func(i, j int) bool { return index[i].Date.Before(index[j].Date) })
	} else if keys, ok := labelDates(index); ok {
		sort.Stable(byKey{index, keys})
	}
	pos := make(map[string]int, len(index))
	for i, p := range index {
		pos[p.Label] = i
	}
	return index, pos
}

// labelDates parses every label of index; ok is false when one does not parse.
func labelDates(index []models.Period) ([]time.Time, bool) {
	keys := make([]time.Time, len(index))
	for i, p := range index {
		d, err := api.ParsePeriod(p.Label)
		if err != nil {
			return nil, false
		}
		keys[i] = d
	}
	return keys, true
}

type byKey struct {
	index []models.Period
	keys  []time.Time
}

func (b byKey) Len() int           { return len(b.index) }
func (b byKey) Less(i, j int) bool { return b.keys[i].Before(b.keys[j]) }
func (b byKey) Swap(i, j int) {
	b.index[i], b.index[j] = b.index[j], b.index[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}
