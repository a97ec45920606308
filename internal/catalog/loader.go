package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/text/encoding/charmap"

	"github.com/seenimoa/bcrpdata/internal/infra"
)

const (
	// DefaultPrimaryURL serves the full metadata as Latin-1 text.
	DefaultPrimaryURL = "https://estadisticas.bcrp.gob.pe/estadisticas/series/metadata"

	// DefaultMinRows is the plausibility threshold: a primary result with
	// this many rows or fewer is treated as broken.
	DefaultMinRows = 5
)

// Loader downloads the catalog, falling back to a snapshot when the primary
// source fails or returns an implausibly small result.
type Loader struct {
	PrimaryURL  string
	SnapshotURL string // UTF-8, same layout; empty disables the fallback
	MinRows     int
	HTTP        *http.Client
	Logger      *slog.Logger
}

// Load returns the catalog. When both sources fail the catalog is empty and
// err says why. A small primary result is kept if the snapshot fails.
func (l *Loader) Load(ctx context.Context) (*Catalog, error) {
	logger := infra.OrDiscard(l.Logger).With(slog.String("component", "catalog"))
	primary := l.PrimaryURL
	if primary == "" {
		primary = DefaultPrimaryURL
	}
	minRows := l.MinRows
	if minRows <= 0 {
		minRows = DefaultMinRows
	}

	cat, primaryErr := l.fetch(ctx, primary, true)
	if primaryErr == nil && cat.Len() > minRows {
		logger.Info("metadata loaded", slog.String("url", primary), slog.Int("records", cat.Len()))
		return cat.WithLogger(logger), nil
	}
	if primaryErr != nil {
		logger.Warn("loading metadata from the primary source failed", slog.String("url", primary), slog.String("error", primaryErr.Error()))
	} else {
		logger.Warn("metadata has too few rows, likely empty or incomplete", slog.Int("records", cat.Len()), slog.Int("min_rows", minRows))
	}

	if l.SnapshotURL == "" {
		if primaryErr != nil {
			return Empty().WithLogger(logger), primaryErr
		}
		return cat.WithLogger(logger), nil
	}

	snap, snapErr := l.fetch(ctx, l.SnapshotURL, false)
	if snapErr == nil {
		logger.Info("metadata loaded from snapshot", slog.String("url", l.SnapshotURL), slog.Int("records", snap.Len()))
		return snap.WithLogger(logger), nil
	}
	logger.Warn("loading metadata from the snapshot failed", slog.String("url", l.SnapshotURL), slog.String("error", snapErr.Error()))
	if primaryErr == nil {
		return cat.WithLogger(logger), nil
	}
	return Empty().WithLogger(logger), errors.Join(primaryErr, snapErr)
}

func (l *Loader) fetch(ctx context.Context, url string, latin1 bool) (*Catalog, error) {
	body, _, err := infra.DoGet(ctx, l.HTTP, url, map[string]string{"Accept": "text/csv, text/plain, */*"})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var r io.Reader = body
	if latin1 {
		r = charmap.ISO8859_1.NewDecoder().Reader(body)
	}
	cat, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("metadata from %s: %w", url, err)
	}
	return cat, nil
}
