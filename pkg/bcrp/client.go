// Package bcrp is the session client of the BCRPData series API. It ties
// together the fetch adapter, the result cache, chunked fetching of large
// code lists, the metadata catalog and column ordering.
//
// A Client holds defaults only. Every call receives its own Request value,
// so concurrent calls never share mutable state.
package bcrp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/seenimoa/bcrpdata/internal/cache"
	"github.com/seenimoa/bcrpdata/internal/catalog"
	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	api "github.com/seenimoa/bcrpdata/internal/providers/bcrp"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

const catalogKey = "catalog"

// Client runs series requests against the API with caching.
type Client struct {
	fetcher *api.Client
	loader  *catalog.Loader

	catalogFile string
	catalogTTL  time.Duration
	catalogs    *infra.Cache
	preloaded   *catalog.Catalog

	series   models.SeriesRequest
	defaults Options

	cacheCfg cache.Config
	strict   bool
	stores   map[cache.Kind]cache.Store
	mu       sync.Mutex
	caches   map[cache.Kind]*cache.Cache

	validate *validator.Validate
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithFetcher sets the fetch adapter.
func WithFetcher(f *api.Client) Option { return func(c *Client) { c.fetcher = f } }

// WithCatalogLoader sets where the metadata catalog is downloaded from.
func WithCatalogLoader(l *catalog.Loader) Option { return func(c *Client) { c.loader = l } }

// WithCatalogFile makes the client read the catalog from path when it
// exists instead of downloading it.
func WithCatalogFile(path string) Option { return func(c *Client) { c.catalogFile = path } }

// WithCatalogTTL sets how long a loaded catalog is reused.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(c *Client) { c.catalogTTL = ttl }
}

// WithCatalog installs a preloaded catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *Client) { c.preloaded = cat }
}

// WithCacheConfig sets how cache stores are opened. strict turns parameter
// mismatches into misses.
func WithCacheConfig(cfg cache.Config, strict bool) Option {
	return func(c *Client) {
		c.cacheCfg = cfg
		c.strict = strict
	}
}

// WithStore installs an already opened store for kind.
func WithStore(kind cache.Kind, store cache.Store) Option {
	return func(c *Client) { c.stores[kind] = store }
}

// WithDefaults sets the default request range, language, format and switches.
func WithDefaults(series models.SeriesRequest, opts Options) Option {
	return func(c *Client) {
		c.series = series
		c.defaults = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option { return func(c *Client) { c.metrics = m } }

// New creates a client. Without options it talks to the public API, keeps
// its cache in .bcrpcache and reorders columns by the requested codes.
func New(opts ...Option) *Client {
	c := &Client{
		catalogTTL: time.Hour,
		series: models.SeriesRequest{
			Start:    "2010-1",
			End:      "2016-9",
			Language: models.LangEnglish,
			Format:   models.FormatJSON,
		},
		defaults: Options{
			Order:     true,
			Datetime:  true,
			Storage:   cache.KindFile,
			ChunkSize: 100,
			Parallel:  true,
			Workers:   4,
		},
		cacheCfg: cache.Config{Storage: cache.KindFile, Dir: ".bcrpcache"},
		stores:   make(map[cache.Kind]cache.Store),
		caches:   make(map[cache.Kind]*cache.Cache),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infra.OrDiscard(c.logger).With(slog.String("component", "client"))

	c.catalogs = infra.NewCache(c.catalogTTL)
	if c.preloaded != nil {
		c.catalogs.Set(catalogKey, c.preloaded)
	}
	for kind, store := range c.stores {
		c.caches[kind] = c.newCache(store, kind)
	}

	if c.fetcher == nil {
		c.fetcher = api.New(api.WithLogger(c.logger), api.WithMetrics(c.metrics))
	}
	if c.loader == nil {
		c.loader = &catalog.Loader{Logger: c.logger}
	}
	return c
}

func (c *Client) newCache(store cache.Store, kind cache.Kind) *cache.Cache {
	return cache.New(store, kind,
		cache.WithStrict(c.strict),
		cache.WithLogger(c.logger),
		cache.WithMetrics(c.metrics))
}

// cacheFor returns the cache of kind, opening its store on first use.
func (c *Client) cacheFor(ctx context.Context, kind cache.Kind) (*cache.Cache, error) {
	if kind == "" {
		kind = cache.KindFile
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.caches[kind]; ok {
		return cc, nil
	}
	cfg := c.cacheCfg
	cfg.Storage = kind
	store, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", kind, err)
	}
	cc := c.newCache(store, kind)
	c.caches[kind] = cc
	return cc, nil
}

// ForgetCache deletes the cached entry of slot in the default storage.
func (c *Client) ForgetCache(ctx context.Context, slot cache.Slot) error {
	cc, err := c.cacheFor(ctx, c.defaults.Storage)
	if err != nil {
		return err
	}
	return cc.Invalidate(ctx, slot)
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error { return c.fetcher.Ping(ctx) }

// Close releases every opened cache store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for kind, cc := range c.caches {
		if err := cc.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s cache: %w", kind, err)
		}
		delete(c.caches, kind)
	}
	return first
}
