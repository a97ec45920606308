package bcrp

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/seenimoa/bcrpdata/internal/batch"
	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// Options are the per-call switches of a request.
type Options struct {
	Order      bool       // reorder columns to the requested code order
	Datetime   bool       // normalise period labels to calendar dates
	Forget     bool       // drop the cached entry and fetch again
	CheckCodes bool       // drop codes the catalog does not know before fetching
	Storage    cache.Kind `validate:"omitempty,oneof=file postgres badger"`
	ChunkSize  int        `validate:"gte=0"`
	Parallel   bool
	Workers    int `validate:"gte=0"`
}

// Request is one call: what to fetch and how.
type Request struct {
	models.SeriesRequest
	Options
}

// LargeResult is the outcome of LargeGet.
type LargeResult struct {
	Table *models.Table
	// Codes is the final code list, read from the merged columns.
	Codes []string
	// Failed lists the chunks left out of Table.
	Failed []batch.ChunkFailure
}

var periodPattern = regexp.MustCompile(`^\d{4}(-\d{1,2}(-\d{1,2})?)?$`)

// isPeriod accepts YYYY, YYYY-M and YYYY-M-D.
func isPeriod(fl validator.FieldLevel) bool {
	return periodPattern.MatchString(fl.Field().String())
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("period", isPeriod)
	return v
}

// NewRequest returns a request for codes filled with the client defaults.
func (c *Client) NewRequest(codes ...string) Request {
	r := Request{SeriesRequest: c.series, Options: c.defaults}
	r.Codes = append([]string(nil), codes...)
	return r
}

// complete fills zero fields of r from the client defaults. Switches are
// taken as given.
func (c *Client) complete(r Request) Request {
	if r.Start == "" {
		r.Start = c.series.Start
	}
	if r.End == "" {
		r.End = c.series.End
	}
	if r.Language == "" {
		r.Language = c.series.Language
	}
	if r.Format == "" {
		r.Format = c.series.Format
	}
	if r.Storage == "" {
		r.Storage = c.defaults.Storage
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = c.defaults.ChunkSize
	}
	if r.Workers == 0 {
		r.Workers = c.defaults.Workers
	}
	r.SeriesRequest = r.SeriesRequest.Normalize()
	return r
}

func (c *Client) validateRequest(r Request) error {
	if err := c.validate.Struct(r); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
