package bcrp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/internal/catalog"
	"github.com/seenimoa/bcrpdata/internal/config"
	"github.com/seenimoa/bcrpdata/internal/observability"
	api "github.com/seenimoa/bcrpdata/internal/providers/bcrp"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// NewFromConfig builds a client from the application configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	httpClient := &http.Client{Timeout: cfg.API.Timeout()}

	fetcher := api.New(
		api.WithBaseURL(cfg.API.BaseURL),
		api.WithHTTPClient(httpClient),
		api.WithRateLimit(cfg.API.RateLimit, time.Second),
		api.WithLogger(logger),
		api.WithMetrics(metrics),
	)
	loader := &catalog.Loader{
		PrimaryURL:  cfg.API.MetadataURL,
		SnapshotURL: cfg.API.SnapshotURL,
		MinRows:     cfg.Catalog.MinRows,
		HTTP:        httpClient,
		Logger:      logger,
	}

	series := models.SeriesRequest{
		Start:    cfg.Request.Start,
		End:      cfg.Request.End,
		Language: models.Language(cfg.Request.Language),
		Format:   models.Format(cfg.Request.Format),
	}
	defaults := Options{
		Order:     cfg.Request.Order,
		Datetime:  cfg.Request.Datetime,
		Storage:   cache.Kind(cfg.Cache.Storage),
		ChunkSize: cfg.Batch.ChunkSize,
		Parallel:  cfg.Batch.Parallel,
		Workers:   cfg.Batch.Workers,
	}
	cacheCfg := cache.Config{
		Storage:     cache.Kind(cfg.Cache.Storage),
		Dir:         cfg.Cache.Dir,
		PostgresDSN: cfg.Cache.PostgresDSN,
	}

	return New(
		WithFetcher(fetcher),
		WithCatalogLoader(loader),
		WithCatalogFile(cfg.Catalog.File),
		WithCatalogTTL(cfg.Catalog.TTL()),
		WithDefaults(series, defaults),
		WithCacheConfig(cacheCfg, cfg.Cache.Strict),
		WithLogger(logger),
		WithMetrics(metrics),
	)
}
