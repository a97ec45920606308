package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

// tableDoc is the row-oriented on-disk form of a table.
type tableDoc struct {
	Columns []columnDoc `json:"columns"`
	Rows    []rowDoc    `json:"rows"`
}

type columnDoc struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type rowDoc struct {
	Label  string       `json:"label"`
	Date   *time.Time   `json:"date,omitempty"`
	Values []null.Float `json:"values"`
}

// metaDoc is the parameter sidecar of an entry.
type metaDoc struct {
	ID        string    `yaml:"id"`
	Codes     []string  `yaml:"codes"`
	Start     string    `yaml:"start"`
	End       string    `yaml:"end"`
	WrittenAt time.Time `yaml:"written_at"`
}

// Codec serialises tables (zstd-compressed JSON) and entry parameters (YAML).
// Encoder and decoder are safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec with the default compression level.
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Close releases the decoder's goroutines.
func (c *Codec) Close() {
	c.decoder.Close()
}

// EncodeTable serialises t.
func (c *Codec) EncodeTable(t *models.Table) ([]byte, error) {
	doc := tableDoc{
		Columns: make([]columnDoc, len(t.Columns)),
		Rows:    make([]rowDoc, len(t.Index)),
	}
	for i, col := range t.Columns {
		doc.Columns[i] = columnDoc{Name: col.Name, Code: col.Code}
	}
	for i, p := range t.Index {
		row := rowDoc{Label: p.Label, Values: t.Row(i)}
		if p.HasDate() {
			d := p.Date
			row.Date = &d
		}
		doc.Rows[i] = row
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal table: %w", err)
	}
	return c.encoder.EncodeAll(raw, nil), nil
}

// DecodeTable is the inverse of EncodeTable.
func (c *Codec) DecodeTable(data []byte) (*models.Table, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress table: %w", err)
	}
	var doc tableDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal table: %w", err)
	}

	t := models.NewTable()
	for _, col := range doc.Columns {
		t.Columns = append(t.Columns, models.Column{Name: col.Name, Code: col.Code, Values: []null.Float{}})
	}
	for _, row := range doc.Rows {
		p := models.Period{Label: row.Label}
		if row.Date != nil {
			p.Date = row.Date.UTC()
		}
		if err := t.AppendRow(p, row.Values); err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
	}
	return t, nil
}

// EncodeMeta serialises the entry's identity and parameters.
func (c *Codec) EncodeMeta(e *Entry) ([]byte, error) {
	return yaml.Marshal(metaDoc{
		ID:        e.ID,
		Codes:     e.Params.Codes,
		Start:     e.Params.Start,
		End:       e.Params.End,
		WrittenAt: e.WrittenAt.UTC(),
	})
}

// DecodeMeta fills e's identity and parameters.
func (c *Codec) DecodeMeta(data []byte, e *Entry) error {
	var doc metaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal cache params: %w", err)
	}
	e.ID = doc.ID
	e.Params = Params{Codes: doc.Codes, Start: doc.Start, End: doc.End}
	e.WrittenAt = doc.WrittenAt
	return nil
}
