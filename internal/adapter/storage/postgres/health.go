package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HealthCheck implements ports.HealthChecker for the ledger database.
type HealthCheck struct {
	pool Pool
	log  zerolog.Logger
}

func NewHealthCheck(pool Pool, log zerolog.Logger) *HealthCheck {
	return &HealthCheck{
		pool: pool,
		log:  log.With().Str("dependency", "postgresql").Logger(),
	}
}

// Ping acquires a connection and pings the server. Failures are logged
// with the elapsed time.
func (h *HealthCheck) Ping(ctx context.Context) error {
	started := time.Now()
	if err := h.pool.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("health check failed")
		return fmt.Errorf("postgresql ping: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
