package firmware

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fwupdate/internal/logger"
	"fwupdate/pkg/metrics"
)

const DefaultTTL = 1800 * time.Second

var tracer = otel.Tracer("fwupdate/internal/firmware")

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Cache) {
		c.logger = log
	}
}

// Cache maps (channel, version) to an artifact file name. It is rebuilt
// wholesale from the catalog source whenever it is stale; a stale cache is
// one where now >= expiresAt. The zero state is empty and stale.
type Cache struct {
	source CatalogSource
	ttl    time.Duration
	now    func() time.Time
	logger logger.Logger

	mu        sync.Mutex
	entries   map[string]map[string]string
	expiresAt time.Time
}

func NewCache(source CatalogSource, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.NopLogger(),
		entries: make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Retrieve returns the artifact file name for channel and version,
// refreshing first when the cache is stale. Refresh errors are returned
// unchanged; lookup misses are ErrLookupMiss or ErrCacheCorruption.
func (c *Cache) Retrieve(ctx context.Context, channel, version string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staleLocked() {
		if err := c.refreshLocked(ctx); err != nil {
			return "", err
		}
	}

	versions, ok := c.entries[channel]
	if !ok {
		metrics.IncCacheLookup(channel, "unavailable")
		return "", unavailable(channel)
	}

	filename, ok := versions[version]
	if !ok {
		metrics.IncCacheLookup(channel, "version_not_found")
		return "", versionNotFound(channel, version, len(versions))
	}

	if filename == "" {
		metrics.IncCacheLookup(channel, "corrupt")
		return "", corruptEntry(channel, version)
	}

	metrics.IncCacheLookup(channel, "hit")
	return filename, nil
}

// Refresh fetches the catalog and replaces the cache contents.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refreshLocked(ctx)
}

// Stale reports whether the next Retrieve will refresh.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.staleLocked()
}

// Size is the number of cached artifacts.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, versions := range c.entries {
		n += len(versions)
	}
	return n
}

func (c *Cache) staleLocked() bool {
	return !c.now().Before(c.expiresAt)
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "firmware.Cache.Refresh")
	defer span.End()

	catalog, err := c.source.FetchFirmwareCatalog(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog fetch failed")
		metrics.IncCacheRefresh("error")
		c.logger.ErrorwCtx(ctx, "Failed to refresh firmware cache", "error", err)
		return err
	}

	entries := make(map[string]map[string]string)
	discarded, count := 0, 0
	for _, entry := range catalog {
		if !entry.usable() {
			discarded++
			continue
		}
		versions, ok := entries[entry.Channel]
		if !ok {
			versions = make(map[string]string)
			entries[entry.Channel] = versions
		}
		if _, dup := versions[entry.Version]; !dup {
			count++
		}
		versions[entry.Version] = *entry.Filename
	}

	c.entries = entries
	c.expiresAt = c.now().Add(c.ttl)

	span.SetAttributes(
		attribute.Int("firmware.entries", count),
		attribute.Int("firmware.discarded", discarded),
	)
	metrics.IncCacheRefresh("success")
	metrics.SetCacheEntries(count)
	c.logger.InfowCtx(ctx, "Firmware cache refreshed",
		"entries", count,
		"discarded", discarded,
		"channels", len(entries),
		"expires_at", c.expiresAt,
	)

	return nil
}
