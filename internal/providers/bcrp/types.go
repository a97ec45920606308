package bcrp

import "encoding/json"

// --- BCRPData JSON response types ---

type seriesResponse struct {
	Config  *seriesConfig  `json:"config"`
	Periods *[]periodEntry `json:"periods"`
}

type seriesConfig struct {
	Title  string         `json:"title"`
	Series []seriesHeader `json:"series"`
}

type seriesHeader struct {
	Name string `json:"name"`
	Dec  string `json:"dec,omitempty"`
}

type periodEntry struct {
	Name   string            `json:"name"`
	Values []json.RawMessage `json:"values"`
}

// rawTable is the format-independent shape every decoder produces:
// a header of series names and rows of unparsed cell literals.
type rawTable struct {
	header []string
	rows   []rawRow
}

type rawRow struct {
	period string
	values []string
	nulls  []bool // cells that were JSON null
}
