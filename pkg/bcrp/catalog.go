package bcrp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/seenimoa/bcrpdata/internal/catalog"
)

// Catalog returns the metadata catalog, loading it on first use and reusing
// it until the TTL runs out. A local catalog file wins over the download.
// When loading fails the returned catalog is empty, never nil.
func (c *Client) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	if v, ok := c.catalogs.Get(catalogKey); ok {
		return v.(*catalog.Catalog), nil
	}

	if c.catalogFile != "" {
		cat, err := catalog.LoadFile(c.catalogFile)
		switch {
		case err == nil:
			c.logger.Info("metadata loaded from file", slog.String("path", c.catalogFile), slog.Int("records", cat.Len()))
			cat = cat.WithLogger(c.logger)
			c.catalogs.Set(catalogKey, cat)
			return cat, nil
		case !errors.Is(err, fs.ErrNotExist):
			c.logger.Warn("reading the metadata file failed", slog.String("path", c.catalogFile), slog.String("error", err.Error()))
		}
	}

	cat, err := c.loader.Load(ctx)
	if err != nil {
		return cat, fmt.Errorf("load metadata: %w", err)
	}
	c.catalogs.Set(catalogKey, cat)
	return cat, nil
}

// RefreshCatalog downloads the catalog again, replacing the memoised one.
// With saveTo set the result is also written there.
func (c *Client) RefreshCatalog(ctx context.Context, saveTo string) (*catalog.Catalog, error) {
	c.catalogs.Invalidate(catalogKey)
	cat, err := c.loader.Load(ctx)
	if err != nil {
		return cat, fmt.Errorf("load metadata: %w", err)
	}
	c.catalogs.Set(catalogKey, cat)
	if saveTo != "" {
		if err := cat.SaveFile(saveTo); err != nil {
			return cat, err
		}
		c.logger.Info("metadata saved", slog.String("path", saveTo), slog.Int("records", cat.Len()))
	}
	return cat, nil
}

// Query returns the catalog record of code.
func (c *Client) Query(ctx context.Context, code string) (*catalog.Record, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Query(code)
}

// Search fuzzy-searches the catalog. With no columns every column is searched.
func (c *Client) Search(ctx context.Context, keyword string, cutoff float64, columns ...string) ([]catalog.Record, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Search(keyword, cutoff, columns...), nil
}

// Refine returns the catalog rows of codes in that order.
func (c *Client) Refine(ctx context.Context, codes []string) (*catalog.Catalog, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return cat.Refine(codes)
}
