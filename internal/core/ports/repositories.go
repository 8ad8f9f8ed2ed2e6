package ports

import (
	"context"
	"time"

	"fund-gateway/internal/core/domain"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

// LedgerRepository is the append-only store of confirmed fund operations.
// It exposes no update or delete.
type LedgerRepository interface {
	// Append persists rec and returns it with the store-assigned timestamp.
	Append(ctx context.Context, rec *domain.TransactionRecord) (*domain.TransactionRecord, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.TransactionRecord, int64, error)
}

// LedgerListParams holds filter + pagination for listing ledger records.
type LedgerListParams struct {
	Investor string
	Kind     *domain.TransactionKind
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// MetricsCache holds the single current fund metrics snapshot.
type MetricsCache interface {
	// Get returns nil, nil when no unexpired snapshot exists.
	Get(ctx context.Context) (*domain.FundMetrics, error)
	// Set overwrites the snapshot unconditionally with the given TTL.
	Set(ctx context.Context, snapshot *domain.FundMetrics, ttl time.Duration) error
	// SetFromEvent overwrites the snapshot with the cache's standard TTL.
	SetFromEvent(ctx context.Context, snapshot *domain.FundMetrics) error
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}
