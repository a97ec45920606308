package bcrp

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/guregu/null/v6"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

// MissingValue is the literal the API uses for "no data".
const MissingValue = "n.d."

var errShape = errors.New("unexpected response shape")

// decode dispatches on the response format.
func decode(format models.Format, body []byte) (*rawTable, error) {
	switch format {
	case models.FormatCSV:
		return decodeCSV(body)
	case models.FormatHTML:
		return decodeHTML(body)
	default:
		return decodeJSON(body)
	}
}

func decodeJSON(body []byte) (*rawTable, error) {
	var resp seriesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if resp.Config == nil {
		return nil, fmt.Errorf("%w: missing config", errShape)
	}
	if resp.Periods == nil {
		return nil, fmt.Errorf("%w: missing periods", errShape)
	}

	raw := &rawTable{header: make([]string, len(resp.Config.Series))}
	for i, s := range resp.Config.Series {
		raw.header[i] = strings.TrimSpace(s.Name)
	}
	for _, p := range *resp.Periods {
		row := rawRow{period: p.Name, values: make([]string, len(p.Values)), nulls: make([]bool, len(p.Values))}
		for i, v := range p.Values {
			trimmed := bytes.TrimSpace(v)
			switch {
			case bytes.Equal(trimmed, []byte("null")):
				row.nulls[i] = true
			case len(trimmed) > 0 && trimmed[0] == '"':
				if err := json.Unmarshal(trimmed, &row.values[i]); err != nil {
					return nil, fmt.Errorf("parse value in %q: %w", p.Name, err)
				}
			default:
				row.values[i] = string(trimmed)
			}
		}
		raw.rows = append(raw.rows, row)
	}
	return raw, nil
}

func decodeCSV(body []byte) (*rawTable, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(body))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty CSV", errShape)
	}
	if err != nil {
		return nil, fmt.Errorf("parse CSV header: %w", err)
	}
	if len(header) < 1 {
		return nil, fmt.Errorf("%w: CSV header has no period column", errShape)
	}

	raw := &rawTable{header: trimAll(header[1:])}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		raw.rows = append(raw.rows, rawRow{period: rec[0], values: rec[1:], nulls: make([]bool, len(rec)-1)})
	}
	return raw, nil
}

func decodeHTML(body []byte) (*rawTable, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no table in HTML", errShape)
	}

	var header []string
	table.Find("thead th").Each(func(_ int, sel *goquery.Selection) {
		header = append(header, strings.TrimSpace(sel.Text()))
	})

	rows := table.Find("tbody tr")
	if rows.Length() == 0 {
		rows = table.Find("tr").Not("thead tr")
	}
	raw := &rawTable{}
	rows.Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, sel *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(sel.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if header == nil {
			header = cells
			return
		}
		raw.rows = append(raw.rows, rawRow{period: cells[0], values: cells[1:], nulls: make([]bool, len(cells)-1)})
	})
	if len(header) < 1 {
		return nil, fmt.Errorf("%w: HTML table has no header", errShape)
	}
	raw.header = header[1:]
	return raw, nil
}

// ParseValue converts one cell literal. The missing-value sentinel maps to
// a null cell; anything else must be a finite float.
func ParseValue(s string) (null.Float, error) {
	s = strings.TrimSpace(s)
	if s == MissingValue {
		return null.Float{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Float{}, fmt.Errorf("non-finite value %q", s)
	}
	return null.FloatFrom(f), nil
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
