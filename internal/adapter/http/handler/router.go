package handler

import (
	"fund-gateway/internal/adapter/http/middleware"
	"fund-gateway/internal/core/ports"
	"fund-gateway/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	FundSvc        ports.FundService
	TokenSvc       ports.TokenService // nil = write routes are not authenticated
	RateLimiter    ports.RateLimiter  // nil = rate limiting disabled
	RateLimit      middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer // nil = /metrics not served
	MaxBodyBytes   int64
	Mode           string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(middleware.MaxBodySize(maxBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	noop := func(c *gin.Context) { c.Next() }

	auth := gin.HandlerFunc(noop)
	if deps.TokenSvc != nil {
		auth = middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	}

	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil || deps.RateLimit.Limit <= 0 {
			return noop
		}
		return middleware.RateLimiter(deps.RateLimiter, group, deps.RateLimit, deps.Logger)
	}

	fundHandler := NewFundHandler(deps.FundSvc)

	fund := r.Group("/api/v1/fund")
	{
		fund.POST("/invest", auth, rl("invest"), fundHandler.Invest)
		fund.POST("/redeem", auth, rl("redeem"), fundHandler.Redeem)
		fund.GET("/balance/:investor", fundHandler.GetBalance)
		fund.GET("/metrics", fundHandler.GetMetrics)
		fund.GET("/transactions", fundHandler.ListTransactions)
	}

	return r
}
