package models

import (
	"fmt"
	"strings"
)

// Language selects the language of series names and period labels.
type Language string

const (
	LangEnglish Language = "en"
	LangSpanish Language = "es"
)

// PathSegment returns the token the API expects in the request path.
func (l Language) PathSegment() string {
	if l == LangSpanish {
		return "esp"
	}
	return "ing"
}

// ParseLanguage accepts "en"/"es" as well as the API tokens "ing"/"esp".
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "ing", "english":
		return LangEnglish, nil
	case "es", "esp", "spanish":
		return LangSpanish, nil
	}
	return "", fmt.Errorf("unknown language %q (want en or es)", s)
}

// Format is the response encoding requested from the API.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want json, csv or html)", s)
}

// SeriesRequest identifies a set of series over a period range.
// It is passed by value: each operation works on its own copy.
type SeriesRequest struct {
	Codes    []string `json:"codes"    validate:"required,min=1,unique,dive,required"`
	Start    string   `json:"start"    validate:"required,period"`
	End      string   `json:"end"      validate:"required,period"`
	Language Language `json:"language" validate:"omitempty,oneof=en es"`
	Format   Format   `json:"format"   validate:"omitempty,oneof=json csv html"`
}

// WithCodes returns a copy of r that targets codes instead.
func (r SeriesRequest) WithCodes(codes []string) SeriesRequest {
	r.Codes = append([]string(nil), codes...)
	return r
}

// Normalize fills in the default language and format.
func (r SeriesRequest) Normalize() SeriesRequest {
	if r.Language == "" {
		r.Language = LangEnglish
	}
	if r.Format == "" {
		r.Format = FormatJSON
	}
	r.Codes = append([]string(nil), r.Codes...)
	return r
}

// Path returns the request path below the API root:
// {codes}/{format}/{start}/{end}/{lang}.
func (r SeriesRequest) Path() string {
	n := r.Normalize()
	return strings.Join([]string{
		strings.Join(n.Codes, "-"),
		string(n.Format),
		n.Start,
		n.End,
		n.Language.PathSegment(),
	}, "/")
}
