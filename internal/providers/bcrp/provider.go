// Package bcrp implements the BCRPData provider: the statistical series API
// of the Banco Central de Reserva del Perú.
//
// No API key is required. Requests are plain GETs of the form
// {root}/{code-code-...}/{format}/{start}/{end}/{ing|esp}.
// Docs: https://estadisticas.bcrp.gob.pe/estadisticas/series/ayuda/api
package bcrp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/models"
	"github.com/seenimoa/bcrpdata/pkg/utils"
)

const (
	providerName = "bcrp"

	// DefaultBaseURL is the root of the series API.
	DefaultBaseURL = "https://estadisticas.bcrp.gob.pe/estadisticas/series/api"

	// pingCode is a long-lived monthly series used for connectivity checks.
	pingCode = "PN01288PM"
)

// Client fetches series tables from the API. It holds no per-request state
// and is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *infra.RateLimiter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client; its Timeout bounds every request.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit allows n requests per window.
func WithRateLimit(n int, window time.Duration) Option {
	return func(c *Client) { c.limiter = infra.NewRateLimiter(n, window) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a client with sensible defaults.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    infra.HTTPClient,
		limiter: infra.NewRateLimiter(5, time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infra.OrDiscard(c.logger).With(slog.String("component", providerName))
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// URL returns the full request URL for r.
func (c *Client) URL(r models.SeriesRequest) string {
	return c.baseURL + "/" + r.Path()
}

// Ping checks connectivity by fetching one short series.
func (c *Client) Ping(ctx context.Context) error {
	start, end := utils.LastMonths(utils.NowLima(), 12)
	req := models.SeriesRequest{Codes: []string{pingCode}, Start: start, End: end}
	if _, err := c.Fetch(ctx, req, FetchOptions{}); err != nil {
		return fmt.Errorf("bcrp ping: %w", err)
	}
	return nil
}
