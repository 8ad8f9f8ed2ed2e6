package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fund-gateway/config"
	"fund-gateway/internal/adapter/chain"
	httpHandler "fund-gateway/internal/adapter/http/handler"
	"fund-gateway/internal/adapter/http/middleware"
	pgStorage "fund-gateway/internal/adapter/storage/postgres"
	redisStorage "fund-gateway/internal/adapter/storage/redis"
	"fund-gateway/internal/core/ports"
	"fund-gateway/internal/observability"
	"fund-gateway/internal/service"
	"fund-gateway/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const initRetryInterval = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting fund gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// PostgreSQL ledger
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if skip, _ := cmd.Flags().GetBool("skip-migrate"); !skip {
		if _, err := migrateUp(ctx, cfg.Database, log); err != nil {
			return err
		}
	}

	// Redis metrics cache and rate limiter
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connecting to Redis: %w", err)
	}
	defer rdb.Close()

	// Chain gateway; initialized in the background so the API can answer
	// SYS_002 while the node is unreachable.
	gateway := chain.NewGateway(cfg.Chain, log, chain.WithMetrics(metrics))

	// Services
	sigSvc := service.NewHMACSignatureService()
	alerts := service.NewWebhookAlertNotifier(cfg.Alert, sigSvc, &http.Client{Timeout: 10 * time.Second}, logger.Component(log, "alert"))
	fundSvc := service.NewFundService(
		gateway,
		pgStorage.NewLedgerRepo(pool),
		redisStorage.NewMetricsCache(rdb, cfg.Cache.TTL),
		alerts,
		metrics,
		logger.Component(log, "fund"),
	)

	var tokenSvc ports.TokenService
	if cfg.Auth.JWTSecret != "" {
		tokenSvc = service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer)
	} else {
		log.Warn().Msg("auth.jwt_secret not set, write endpoints are unauthenticated")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		FundSvc:     fundSvc,
		TokenSvc:    tokenSvc,
		RateLimiter: redisStorage.NewRateLimitStore(rdb),
		RateLimit: middleware.RateLimitRule{
			Limit:  int64(cfg.RateLimit.Requests),
			Window: cfg.RateLimit.Window,
		},
		HealthCheckers: []ports.HealthChecker{
			pgStorage.NewHealthCheck(pool, logger.Component(log, "health")),
			redisStorage.NewHealthCheck(rdb, logger.Component(log, "health")),
			gateway,
		},
		Metrics:      metrics,
		Gatherer:     reg,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Mode:         cfg.Server.Mode,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := fundSvc.StartMetricsRefresher(cfg.Cache.RefreshSchedule); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		initializeGateway(ctx, gateway, log)
	}()
	go func() {
		defer wg.Done()
		fundSvc.RunEventLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	fundSvc.StopMetricsRefresher()
	gateway.Close()
	wg.Wait()
	if err := alerts.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pending ledger divergence alerts abandoned")
	}

	log.Info().Msg("Server exited")
	return nil
}

// initializeGateway retries Initialize until it succeeds or ctx ends.
func initializeGateway(ctx context.Context, gateway *chain.Gateway, log zerolog.Logger) {
	for {
		err := gateway.Initialize(ctx)
		if err == nil {
			return
		}
		log.Error().Err(err).Dur("retry_in", initRetryInterval).Msg("chain gateway initialization failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(initRetryInterval):
		}
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	applied, err := migrateUp(cmd.Context(), cfg.Database, log)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
	}
	return nil
}

func migrateUp(ctx context.Context, db config.DatabaseConfig, log zerolog.Logger) ([]string, error) {
	migrator, err := pgStorage.NewMigrator(db, logger.Component(log, "migrate"))
	if err != nil {
		return nil, fmt.Errorf("opening migrations: %w", err)
	}
	defer migrator.Close()

	applied, err := migrator.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return applied, nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return issueToken(cmd, cfg.Auth)
}

func issueToken(cmd *cobra.Command, auth config.AuthConfig) error {
	if auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	operator, _ := cmd.Flags().GetString("operator")

	token, expiresAt, err := service.NewJWTTokenService(auth.JWTSecret, auth.Expiry, auth.Issuer).Generate(operator)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
