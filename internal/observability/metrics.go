package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fund gateway.
type Metrics struct {
	// --- Chain ---
	ChainSubmissions *prometheus.CounterVec
	ChainConfirmWait *prometheus.HistogramVec
	ChainReads       *prometheus.CounterVec
	ChainEvents      *prometheus.CounterVec
	GatewayReady     prometheus.Gauge

	// --- Ledger ---
	LedgerAppends  *prometheus.CounterVec
	LedgerFailures prometheus.Counter

	// --- Metrics cache ---
	CacheLookups   *prometheus.CounterVec
	CacheWrites    *prometheus.CounterVec
	CacheRefreshes *prometheus.CounterVec

	// --- HTTP ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	confirmBuckets := []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120}

	return &Metrics{
		ChainSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_chain_submissions_total",
			Help: "Contract transactions by method and outcome",
		}, []string{"method", "outcome"}),

		ChainConfirmWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_chain_confirmation_seconds",
			Help:    "Time from send to confirmed receipt",
			Buckets: confirmBuckets,
		}, []string{"method"}),

		ChainReads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_chain_reads_total",
			Help: "Read-only contract calls by method and outcome",
		}, []string{"method", "outcome"}),

		ChainEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_chain_events_total",
			Help: "MetricsUpdated logs seen by the listener",
		}, []string{"result"}), // delivered, removed, undecodable

		GatewayReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "fund_chain_gateway_ready",
			Help: "1 when the chain gateway is initialized",
		}),

		LedgerAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_ledger_appends_total",
			Help: "Ledger records appended by kind",
		}, []string{"kind"}),

		LedgerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fund_ledger_divergence_total",
			Help: "Confirmed transactions that could not be written to the ledger",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_metrics_cache_lookups_total",
			Help: "Metrics cache reads by result",
		}, []string{"result"}), // hit, miss, error

		CacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_metrics_cache_writes_total",
			Help: "Metrics cache writes by source and outcome",
		}, []string{"source", "outcome"}),

		CacheRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_metrics_refreshes_total",
			Help: "Chain refreshes of the metrics cache by trigger and outcome",
		}, []string{"trigger", "outcome"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fund_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fund_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Outcome labels a call result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
