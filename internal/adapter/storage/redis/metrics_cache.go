package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fund-gateway/internal/core/domain"
	"fund-gateway/pkg/apperror"

	goredis "github.com/redis/go-redis/v9"
)

const (
	// MetricsKey is the single key holding the fund metrics snapshot.
	MetricsKey = "fundMetrics"
	// DefaultMetricsTTL bounds how long a snapshot is served without a refresh.
	DefaultMetricsTTL = 60 * time.Second
)

// MetricsCache implements ports.MetricsCache on a single Redis key.
// Writes are whole-value overwrites; the last writer wins.
type MetricsCache struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewMetricsCache creates a metrics cache. A non-positive ttl falls back to
// DefaultMetricsTTL.
func NewMetricsCache(client *goredis.Client, ttl time.Duration) *MetricsCache {
	if ttl <= 0 {
		ttl = DefaultMetricsTTL
	}
	return &MetricsCache{
		client: client,
		key:    MetricsKey,
		ttl:    ttl,
	}
}

// TTL returns the lifetime applied to event-driven writes.
func (c *MetricsCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached snapshot, or nil, nil when none is present.
func (c *MetricsCache) Get(ctx context.Context) (*domain.FundMetrics, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrCacheUnavailable(fmt.Errorf("redis get %s: %w", c.key, err))
	}

	var m domain.FundMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperror.ErrCacheUnavailable(fmt.Errorf("decode %s: %w", c.key, err))
	}
	return &m, nil
}

// Set overwrites the snapshot with the given lifetime.
func (c *MetricsCache) Set(ctx context.Context, m *domain.FundMetrics, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return apperror.ErrCacheUnavailable(fmt.Errorf("encode %s: %w", c.key, err))
	}
	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return apperror.ErrCacheUnavailable(fmt.Errorf("redis set %s: %w", c.key, err))
	}
	return nil
}

// SetFromEvent overwrites the snapshot with the cache's standard lifetime.
func (c *MetricsCache) SetFromEvent(ctx context.Context, m *domain.FundMetrics) error {
	return c.Set(ctx, m, c.ttl)
}
