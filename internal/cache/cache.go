package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

// StaleWarning is logged when a cached entry was fetched with other
// parameters than the current request.
const StaleWarning = "cache parameters differ from current request"

// Cache applies the lookup policy on top of a Store.
//
// Staleness is advisory by default: a cached table whose parameters differ
// from the request is still returned and the mismatch is only logged. In
// strict mode such an entry is treated as a miss.
type Cache struct {
	store   Store
	kind    Kind
	strict  bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithStrict makes parameter mismatches count as misses.
func WithStrict(strict bool) Option { return func(c *Cache) { c.strict = strict } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// New wraps store. kind labels metrics and log lines.
func New(store Store, kind Kind, opts ...Option) *Cache {
	c := &Cache{store: store, kind: kind}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = infra.OrDiscard(c.logger).With(slog.String("component", "cache"), slog.String("storage", string(kind)))
	return c
}

// Signature returns the signature of slot in this cache.
func (c *Cache) Signature(slot Slot) Signature { return Signature{Storage: c.kind, Slot: slot} }

// Lookup returns the cached table for slot. With forget set, any entry is
// deleted first and the lookup misses. The returned table is a copy.
func (c *Cache) Lookup(ctx context.Context, slot Slot, current Params, forget bool) (*models.Table, bool, error) {
	if forget {
		if err := c.store.Delete(ctx, slot); err != nil {
			return nil, false, fmt.Errorf("forget %s: %w", c.Signature(slot).Key(), err)
		}
		c.count(observability.CacheForget)
		c.logger.Debug("cache entry forgotten", slog.String("slot", string(slot)))
		return nil, false, nil
	}

	e, err := c.store.Read(ctx, slot)
	if errors.Is(err, ErrNotFound) {
		c.count(observability.CacheMiss)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", c.Signature(slot).Key(), err)
	}

	if !e.Params.Equal(current) {
		c.count(observability.CacheStale)
		c.logger.Warn(StaleWarning,
			slog.String("slot", string(slot)),
			slog.Any("cached", e.Params),
			slog.Any("current", current),
		)
		if c.strict {
			return nil, false, nil
		}
	} else {
		c.count(observability.CacheHit)
	}
	return e.Table.Clone(), true, nil
}

// Save stores a copy of t under slot.
func (c *Cache) Save(ctx context.Context, slot Slot, p Params, t *models.Table) error {
	err := c.store.Write(ctx, slot, NewEntry(p, t.Clone()))
	if c.metrics != nil {
		outcome := observability.OutcomeSuccess
		if err != nil {
			outcome = observability.OutcomeError
		}
		c.metrics.CacheWrites.WithLabelValues(string(c.kind), outcome).Inc()
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", c.Signature(slot).Key(), err)
	}
	c.logger.Debug("cache entry written", slog.String("slot", string(slot)), slog.Int("rows", t.NumRows()), slog.Int("columns", t.NumCols()))
	return nil
}

// Invalidate deletes the entry of slot.
func (c *Cache) Invalidate(ctx context.Context, slot Slot) error {
	if err := c.store.Delete(ctx, slot); err != nil {
		return fmt.Errorf("invalidate %s: %w", c.Signature(slot).Key(), err)
	}
	return nil
}

// Close closes the underlying store.
func (c *Cache) Close() error { return c.store.Close() }

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(string(c.kind), result).Inc()
	}
}
