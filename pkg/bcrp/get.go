package bcrp

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/seenimoa/bcrpdata/internal/batch"
	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/internal/layout"
	"github.com/seenimoa/bcrpdata/internal/observability"
	api "github.com/seenimoa/bcrpdata/internal/providers/bcrp"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// Get fetches the series of r, going through the single-request cache slot.
//
// The returned table is never nil. A failed fetch yields an empty table and
// the *api.FetchError. When the columns cannot be put in the requested order
// the table keeps the provider order and err is a *layout.OrderError.
func (c *Client) Get(ctx context.Context, r Request) (*models.Table, error) {
	r = c.complete(r)
	if err := c.validateRequest(r); err != nil {
		return models.Empty(), err
	}

	codes, ok := c.checkCodes(ctx, r)
	if !ok {
		return models.Empty(), nil
	}
	r.Codes = codes
	params := cache.ParamsOf(r.SeriesRequest)

	cc := c.lookupCache(ctx, r.Storage)
	if cc != nil {
		t, hit, err := cc.Lookup(ctx, cache.SlotSingle, params, r.Forget)
		if err != nil {
			c.logger.Warn("cache lookup failed", slog.String("error", err.Error()))
		}
		if hit {
			c.logger.Info("series loaded from cache", slog.Int("columns", t.NumCols()), slog.Int("rows", t.NumRows()))
			return t, nil
		}
	}

	t, err := c.fetcher.Fetch(ctx, r.SeriesRequest, api.FetchOptions{Datetime: r.Datetime})
	if err != nil {
		return t, err
	}

	t, orderErr := c.arrange(ctx, t, r.Codes, r.Order)
	c.save(ctx, cc, cache.SlotSingle, params, t)
	return t, orderErr
}

// LargeGet fetches a code list of any length in chunks of r.ChunkSize,
// sequentially or on r.Workers workers, and merges the chunk tables. It uses
// its own cache slot.
//
// Failed chunks are left out and listed in the result; the error is only
// set when the request is invalid or every chunk failed.
func (c *Client) LargeGet(ctx context.Context, r Request) (*LargeResult, error) {
	r = c.complete(r)
	if err := c.validateRequest(r); err != nil {
		return &LargeResult{Table: models.Empty()}, err
	}

	codes, ok := c.checkCodes(ctx, r)
	if !ok {
		return &LargeResult{Table: models.Empty(), Codes: []string{}}, nil
	}
	r.Codes = codes
	params := cache.ParamsOf(r.SeriesRequest)

	cc := c.lookupCache(ctx, r.Storage)
	if cc != nil {
		t, hit, err := cc.Lookup(ctx, cache.SlotLarge, params, r.Forget)
		if err != nil {
			c.logger.Warn("cache lookup failed", slog.String("error", err.Error()))
		}
		if hit {
			c.logger.Info("series loaded from cache", slog.Int("columns", t.NumCols()), slog.Int("rows", t.NumRows()))
			return &LargeResult{Table: t, Codes: t.Codes()}, nil
		}
	}

	chunks, err := batch.Split(r.Codes, r.ChunkSize)
	if err != nil {
		return &LargeResult{Table: models.Empty()}, err
	}
	base := r.SeriesRequest
	fetch := func(ctx context.Context, _ int, chunk []string) (*models.Table, error) {
		t, err := c.fetcher.Fetch(ctx, base.WithCodes(chunk), api.FetchOptions{Datetime: r.Datetime})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	results := batch.Run(ctx, chunks, fetch, batch.RunOptions{
		Parallel: r.Parallel,
		Workers:  r.Workers,
		Logger:   c.logger,
		OnResult: c.countChunk,
	})

	merged, err := batch.Merge(results, batch.SkipFailed)
	res := &LargeResult{Table: merged}
	var partial *batch.PartialError
	if errors.As(err, &partial) {
		res.Failed = partial.Failures
	}
	if errors.Is(err, batch.ErrAllChunksFailed) {
		res.Codes = []string{}
		return res, err
	}

	present := make(map[string]bool, merged.NumCols())
	for _, code := range merged.Codes() {
		present[code] = true
	}
	wanted := make([]string, 0, len(r.Codes))
	for _, code := range r.Codes {
		if present[code] {
			wanted = append(wanted, code)
		}
	}

	t, orderErr := c.arrange(ctx, merged, wanted, r.Order)
	res.Table = t
	res.Codes = t.Codes()
	c.logger.Info("all chunks processed",
		slog.Int("chunks", len(chunks)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("codes", len(res.Codes)))

	// A partial result is not cached so the next call retries the missing chunks.
	if len(res.Failed) == 0 {
		c.save(ctx, cc, cache.SlotLarge, params, t)
	}
	return res, orderErr
}

// checkCodes drops the codes the catalog does not know when r asks for it.
// ok is false when no code remains.
func (c *Client) checkCodes(ctx context.Context, r Request) ([]string, bool) {
	if !r.CheckCodes {
		return r.Codes, true
	}
	cat, err := c.Catalog(ctx)
	if err != nil || cat.IsEmpty() {
		c.logger.Warn("metadata unavailable, codes not checked")
		return r.Codes, true
	}

	known, unknown := cat.Filter(r.Codes)
	if len(unknown) > 0 {
		c.logger.Warn("dropping codes missing from the metadata", slog.String("codes", strings.Join(unknown, ", ")))
		if c.metrics != nil {
			c.metrics.DroppedCodes.Add(float64(len(unknown)))
		}
	}
	if len(known) == 0 {
		c.logger.Warn("no valid codes remain, request skipped")
		return nil, false
	}
	return known, true
}

// arrange puts the columns of t in the order of codes, or logs the provider
// order when order is off.
func (c *Client) arrange(ctx context.Context, t *models.Table, codes []string, order bool) (*models.Table, error) {
	if !order {
		var b strings.Builder
		if err := layout.Describe(layout.Native(t), &b); err == nil {
			c.logger.Debug("provider column order\n" + b.String())
		}
		return t, nil
	}

	cat, err := c.Catalog(ctx)
	if err != nil {
		c.logger.Warn("metadata unavailable, ordering by column code", slog.String("error", err.Error()))
	}
	out, err := layout.Reorder(t, codes, cat)
	if err != nil {
		c.logger.Warn("columns kept in provider order", slog.String("error", err.Error()))
		return t, err
	}
	var b strings.Builder
	if err := layout.Describe(layout.Native(out), &b); err == nil {
		c.logger.Debug("requested column order\n" + b.String())
	}
	return out, nil
}

// lookupCache returns the cache of kind or nil when its store cannot be
// opened; the request then runs uncached.
func (c *Client) lookupCache(ctx context.Context, kind cache.Kind) *cache.Cache {
	cc, err := c.cacheFor(ctx, kind)
	if err != nil {
		c.logger.Warn("cache unavailable", slog.String("error", err.Error()))
		return nil
	}
	return cc
}

func (c *Client) save(ctx context.Context, cc *cache.Cache, slot cache.Slot, p cache.Params, t *models.Table) {
	if cc == nil {
		return
	}
	if err := cc.Save(ctx, slot, p, t); err != nil {
		c.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}
}

func (c *Client) countChunk(r batch.Result) {
	if c.metrics == nil {
		return
	}
	outcome := observability.OutcomeSuccess
	if r.Err != nil {
		outcome = observability.OutcomeError
	}
	c.metrics.ChunkFetches.WithLabelValues(outcome).Inc()
}
