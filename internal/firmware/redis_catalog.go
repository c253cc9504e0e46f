package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fwupdate/internal/logger"
	"fwupdate/pkg/metrics"
)

const catalogKeyPrefix = "fwcatalog:"

// RedisCatalog shares one catalog fetch between processes. Entries are
// stored as JSON under fwcatalog:<project>. Redis failures fall through to
// the wrapped source.
type RedisCatalog struct {
	client *redis.Client
	source CatalogSource
	key    string
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisCatalog(client *redis.Client, source CatalogSource, projectUID string, ttl time.Duration, log logger.Logger) *RedisCatalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &RedisCatalog{
		client: client,
		source: source,
		key:    catalogKeyPrefix + projectUID,
		ttl:    ttl,
		logger: log,
	}
}

func (r *RedisCatalog) FetchFirmwareCatalog(ctx context.Context) ([]CatalogEntry, error) {
	entries, err := r.get(ctx)
	switch {
	case err == nil:
		metrics.IncSharedCatalog("hit")
		return entries, nil
	case errors.Is(err, redis.Nil):
		metrics.IncSharedCatalog("miss")
	default:
		metrics.IncSharedCatalog("error")
		metrics.IncFallbackUsage("firmware", "catalog_source", "redis_error")
		r.logger.WarnwCtx(ctx, "Shared firmware catalog unavailable, fetching directly", "key", r.key, "error", err)
	}

	entries, err = r.source.FetchFirmwareCatalog(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.set(ctx, entries); err != nil {
		metrics.IncSharedCatalog("error")
		r.logger.WarnwCtx(ctx, "Failed to store shared firmware catalog", "key", r.key, "error", err)
	}

	return entries, nil
}

func (r *RedisCatalog) get(ctx context.Context) ([]CatalogEntry, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		return nil, err
	}

	var entries []CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode shared catalog: %w", err)
	}
	return entries, nil
}

func (r *RedisCatalog) set(ctx context.Context, entries []CatalogEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode shared catalog: %w", err)
	}
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}
