package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HealthCheck implements ports.HealthChecker for the metrics cache backend.
type HealthCheck struct {
	client *goredis.Client
	log    zerolog.Logger
}

func NewHealthCheck(client *goredis.Client, log zerolog.Logger) *HealthCheck {
	return &HealthCheck{
		client: client,
		log:    log.With().Str("dependency", "redis").Logger(),
	}
}

// Ping round-trips a PING. Failures are logged with the elapsed time.
func (h *HealthCheck) Ping(ctx context.Context) error {
	started := time.Now()
	if err := h.client.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Dur("elapsed", time.Since(started)).Msg("health check failed")
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "redis"
}
