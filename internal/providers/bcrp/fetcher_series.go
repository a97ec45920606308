package bcrp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/guregu/null/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// FetchOptions tunes how a response is turned into a table.
type FetchOptions struct {
	// Datetime normalises period labels to calendar dates.
	Datetime bool
}

// Fetch retrieves the series in r. The returned table is never nil: on
// failure it is empty and err is a *FetchError.
func (c *Client) Fetch(ctx context.Context, r models.SeriesRequest, opts FetchOptions) (*models.Table, error) {
	r = r.Normalize()
	url := c.URL(r)

	ctx, span := observability.Tracer().Start(ctx, "bcrp.fetch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("bcrp.codes", len(r.Codes)),
		attribute.String("bcrp.format", string(r.Format)),
		attribute.String("bcrp.range", r.Start+"/"+r.End),
	)

	start := time.Now()
	t, err := c.fetch(ctx, url, r, opts)
	c.observe(time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("fetch failed", slog.String("url", url), slog.String("error", err.Error()))
		return models.Empty(), err
	}
	span.SetAttributes(attribute.Int("bcrp.rows", t.NumRows()), attribute.Int("bcrp.columns", t.NumCols()))
	c.logger.Debug("fetched", slog.String("url", url), slog.Int("rows", t.NumRows()), slog.Int("columns", t.NumCols()))
	return t, nil
}

func (c *Client) fetch(ctx context.Context, url string, r models.SeriesRequest, opts FetchOptions) (*models.Table, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: url, Err: err}
	}

	c.logger.Info("requesting series", slog.String("url", url))
	body, status, err := infra.DoGet(ctx, c.http, url, nil)
	if err != nil {
		var httpErr *infra.ErrHTTP
		if errors.As(err, &httpErr) {
			return nil, &FetchError{Kind: KindHTTPStatus, URL: url, StatusCode: status, Err: err}
		}
		return nil, &FetchError{Kind: KindTransport, URL: url, Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: url, Err: fmt.Errorf("read response: %w", err)}
	}

	raw, err := decode(r.Format, data)
	if err != nil {
		return nil, &FetchError{Kind: KindMalformedResponse, URL: url, Err: err}
	}
	t, err := buildTable(raw, r.Codes, opts)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.URL = url
		}
		return nil, err
	}
	return t, nil
}

// buildTable parses cell literals and period labels. The header defines the
// column order; row values map to it positionally. A repeated series name is
// disambiguated the way merged chunks are.
func buildTable(raw *rawTable, seriesCodes []string, opts FetchOptions) (*models.Table, error) {
	t := models.NewTable(raw.header...)
	tagCodes(t, seriesCodes)
	taken := make(map[string]bool, len(t.Columns))
	for i := range t.Columns {
		t.Columns[i].Name = models.UniqueName(t.Columns[i].Name, t.Columns[i].Code, taken)
		taken[t.Columns[i].Name] = true
	}

	for _, row := range raw.rows {
		if len(row.values) != len(raw.header) {
			return nil, &FetchError{
				Kind: KindMalformedResponse,
				Err:  fmt.Errorf("period %q has %d values, header has %d series", row.period, len(row.values), len(raw.header)),
			}
		}
		p := models.Period{Label: row.period}
		if opts.Datetime {
			d, err := ParsePeriod(row.period)
			if err != nil {
				return nil, &FetchError{Kind: KindMalformedPeriod, Value: row.period, Err: err}
			}
			p.Date = d
		}

		values := make([]null.Float, len(row.values))
		for i, lit := range row.values {
			if row.nulls[i] {
				continue
			}
			v, err := ParseValue(lit)
			if err != nil {
				return nil, &FetchError{Kind: KindMalformedValue, Value: lit, Err: err}
			}
			values[i] = v
		}
		if err := t.AppendRow(p, values); err != nil {
			return nil, &FetchError{Kind: KindMalformedResponse, Err: err}
		}
	}

	if err := t.Validate(); err != nil {
		return nil, &FetchError{Kind: KindMalformedResponse, Err: err}
	}
	return t, nil
}

// tagCodes records the originating code of each column. The API answers in
// request order, so codes are assigned positionally when the counts agree.
func tagCodes(t *models.Table, seriesCodes []string) {
	if len(t.Columns) != len(seriesCodes) {
		return
	}
	for i := range t.Columns {
		t.Columns[i].Code = seriesCodes[i]
	}
}

func (c *Client) observe(d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.FetchDuration.Observe(d.Seconds())
	if err == nil {
		c.metrics.FetchRequests.WithLabelValues(observability.OutcomeSuccess, "").Inc()
		return
	}
	kind := string(KindTransport)
	var fe *FetchError
	if errors.As(err, &fe) {
		kind = string(fe.Kind)
	}
	c.metrics.FetchRequests.WithLabelValues(observability.OutcomeError, kind).Inc()
}
