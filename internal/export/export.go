// Package export writes series tables to files and reads them back. The
// format follows the file suffix.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// Header cells of the index columns. CodeHeader starts the optional row of
// series codes under the header.
const (
	PeriodHeader = "period"
	DateHeader   = "date"
	CodeHeader   = "code"
)

// SheetName is the worksheet written to .xlsx files.
const SheetName = "data"

const dateLayout = "2006-01-02"

// Format is a file format chosen by suffix.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatXLSX     Format = "xlsx"
	FormatNative   Format = "native"
)

// FormatOf maps a path to its format. Unknown suffixes use the native codec.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".md", ".markdown":
		return FormatMarkdown
	case ".xlsx":
		return FormatXLSX
	}
	return FormatNative
}

// Save writes t to path in the format its suffix names.
func Save(t *models.Table, path string) error {
	switch FormatOf(path) {
	case FormatXLSX:
		return saveXLSX(t, path)
	case FormatNative:
		codec, err := cache.NewCodec()
		if err != nil {
			return err
		}
		defer codec.Close()
		data, err := codec.EncodeTable(t)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if FormatOf(path) == FormatCSV {
		err = WriteCSV(t, f)
	} else {
		err = WriteMarkdown(t, f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Load reads a table written by Save. Markdown is write-only.
func Load(path string) (*models.Table, error) {
	switch FormatOf(path) {
	case FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return ReadCSV(f)
	case FormatXLSX:
		return loadXLSX(path)
	case FormatMarkdown:
		return nil, errors.New("markdown tables cannot be loaded")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	codec, err := cache.NewCodec()
	if err != nil {
		return nil, err
	}
	defer codec.Close()
	return codec.DecodeTable(data)
}

// header returns the header row: index columns then series names.
func header(t *models.Table) []string {
	h := []string{PeriodHeader}
	if t.Dated() {
		h = append(h, DateHeader)
	}
	return append(h, t.ColumnNames()...)
}

// codeRow returns the row of series codes, or nil when no column has one.
func codeRow(t *models.Table) []string {
	var coded bool
	for _, c := range t.Columns {
		if c.Code != "" {
			coded = true
			break
		}
	}
	if !coded {
		return nil
	}
	row := []string{CodeHeader}
	if t.Dated() {
		row = append(row, "")
	}
	for _, c := range t.Columns {
		row = append(row, c.Code)
	}
	return row
}

func formatValue(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

// WriteCSV writes t with a period column, a date column when every period
// is dated, and one column per series. Null cells are empty.
func WriteCSV(t *models.Table, w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header(t)); err != nil {
		return err
	}
	if codes := codeRow(t); codes != nil {
		if err := writer.Write(codes); err != nil {
			return err
		}
	}
	dated := t.Dated()
	for i, p := range t.Index {
		rec := []string{p.Label}
		if dated {
			rec = append(rec, p.Date.Format(dateLayout))
		}
		for _, c := range t.Columns {
			rec = append(rec, formatValue(c.Values[i]))
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCSV parses the output of WriteCSV.
func ReadCSV(r io.Reader) (*models.Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return fromRows(records)
}

func fromRows(rows [][]string) (*models.Table, error) {
	if len(rows) == 0 {
		return nil, errors.New("no header row")
	}
	head := rows[0]
	if len(head) == 0 || head[0] != PeriodHeader {
		return nil, fmt.Errorf("first header cell must be %q", PeriodHeader)
	}
	first := 1
	dated := len(head) > 1 && head[1] == DateHeader
	if dated {
		first = 2
	}

	t := models.NewTable(head[first:]...)
	body := 1
	if len(rows) > 1 && len(rows[1]) > 0 && rows[1][0] == CodeHeader {
		for j := range t.Columns {
			if k := first + j; k < len(rows[1]) {
				t.Columns[j].Code = strings.TrimSpace(rows[1][k])
			}
		}
		body = 2
	}
	for n, rec := range rows[body:] {
		if len(rec) == 0 {
			continue
		}
		for len(rec) < len(head) {
			rec = append(rec, "")
		}
		p := models.Period{Label: rec[0]}
		if dated {
			d, err := time.Parse(dateLayout, rec[1])
			if err != nil {
				return nil, fmt.Errorf("row %d: date: %w", n+body+1, err)
			}
			p.Date = d
		}
		values := make([]null.Float, len(head)-first)
		for j, cell := range rec[first:len(head)] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: column %q: %w", n+body+1, head[first+j], err)
			}
			values[j] = null.FloatFrom(f)
		}
		if err := t.AppendRow(p, values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteMarkdown renders t as a pipe table.
func WriteMarkdown(t *models.Table, w io.Writer) error {
	h := header(t)
	escaped := make([]string, len(h))
	align := make([]string, len(h))
	for i, s := range h {
		escaped[i] = strings.ReplaceAll(s, "|", `\|`)
		align[i] = "---:"
	}
	align[0] = ":---"
	if t.Dated() {
		align[1] = ":---"
	}
	if _, err := fmt.Fprintf(w, "| %s |\n|%s|\n", strings.Join(escaped, " | "), strings.Join(align, "|")); err != nil {
		return err
	}

	dated := t.Dated()
	for i, p := range t.Index {
		cells := []string{strings.ReplaceAll(p.Label, "|", `\|`)}
		if dated {
			cells = append(cells, p.Date.Format(dateLayout))
		}
		for _, c := range t.Columns {
			cells = append(cells, formatValue(c.Values[i]))
		}
		if _, err := fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | ")); err != nil {
			return err
		}
	}
	return nil
}

func saveXLSX(t *models.Table, path string) error {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName(f.GetSheetName(0), SheetName)

	head := make([]interface{}, 0, t.NumCols()+2)
	for _, s := range header(t) {
		head = append(head, s)
	}
	if err := f.SetSheetRow(SheetName, "A1", &head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	first := 2
	if codes := codeRow(t); codes != nil {
		row := make([]interface{}, len(codes))
		for i, s := range codes {
			row[i] = s
		}
		if err := f.SetSheetRow(SheetName, "A2", &row); err != nil {
			return fmt.Errorf("write codes: %w", err)
		}
		first = 3
	}

	dated := t.Dated()
	for i, p := range t.Index {
		row := []interface{}{p.Label}
		if dated {
			row = append(row, p.Date.Format(dateLayout))
		}
		for _, c := range t.Columns {
			if c.Values[i].Valid {
				row = append(row, c.Values[i].Float64)
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+first)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+first, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func loadXLSX(path string) (*models.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", SheetName, err)
	}
	return fromRows(rows)
}
