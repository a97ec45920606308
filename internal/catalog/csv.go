package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Delimiter separates fields in the published metadata file.
const Delimiter = ';'

// ReadCSV parses semicolon-delimited UTF-8 metadata. Artifact columns are
// dropped along with their cells.
func ReadCSV(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = Delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("metadata is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("parse metadata header: %w", err)
	}

	var keep []int
	var columns []string
	for i, h := range header {
		if isArtifact(h) {
			continue
		}
		keep = append(keep, i)
		columns = append(columns, strings.TrimSpace(h))
	}
	if len(columns) == 0 {
		return nil, errors.New("metadata header has no columns")
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]string, len(keep))
		for j, i := range keep {
			if i < len(rec) {
				row[j] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return New(columns, rows), nil
}

// WriteCSV writes the catalog as semicolon-delimited UTF-8.
func (c *Catalog) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	writer.Comma = Delimiter
	if err := writer.Write(c.columns); err != nil {
		return err
	}
	for _, r := range c.records {
		if err := writer.Write(r.values); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadFile reads a catalog saved with SaveFile.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// SaveFile writes the catalog to path.
func (c *Catalog) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	if err := c.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write metadata file: %w", err)
	}
	return f.Close()
}
