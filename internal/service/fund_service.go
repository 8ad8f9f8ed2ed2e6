package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/core/ports"
	"fund-gateway/internal/observability"
	"fund-gateway/pkg/apperror"
	"fund-gateway/pkg/fixedpoint"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// DefaultMetricsTTL is applied to snapshots written after a chain read when
// the cache does not report its own lifetime.
const DefaultMetricsTTL = 60 * time.Second

// ttlReporter is implemented by caches that own the snapshot lifetime. Chain
// reads and events then expire on the same schedule.
type ttlReporter interface {
	TTL() time.Duration
}

// Refresh triggers, used as metric labels.
const (
	refreshAfterInvest = "invest"
	refreshAfterRedeem = "redeem"
	refreshOnMiss      = "miss"
	refreshScheduled   = "schedule"
)

// FundServiceImpl implements ports.FundService. It orders each write as
// chain confirmation, then ledger append, then cache refresh.
type FundServiceImpl struct {
	chain   ports.ChainGateway
	ledger  ports.LedgerRepository
	cache   ports.MetricsCache
	alerts  ports.AlertNotifier
	metrics *observability.Metrics
	ttl     time.Duration
	log     zerolog.Logger

	misses singleflight.Group
	cron   *cron.Cron
}

// NewFundService creates a new FundServiceImpl. alerts may be nil.
func NewFundService(
	chain ports.ChainGateway,
	ledger ports.LedgerRepository,
	cache ports.MetricsCache,
	alerts ports.AlertNotifier,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *FundServiceImpl {
	ttl := DefaultMetricsTTL
	if r, ok := cache.(ttlReporter); ok && r.TTL() > 0 {
		ttl = r.TTL()
	}
	return &FundServiceImpl{
		chain:   chain,
		ledger:  ledger,
		cache:   cache,
		alerts:  alerts,
		metrics: metrics,
		ttl:     ttl,
		log:     log,
	}
}

// Invest submits an investment, records it and refreshes the metrics cache.
func (s *FundServiceImpl) Invest(ctx context.Context, req ports.InvestRequest) (*domain.Confirmation, error) {
	conf, err := s.chain.SubmitInvestment(ctx, req.Investor, req.USDAmount)
	if err != nil {
		return nil, err
	}

	// The operation is final on-chain; a caller that went away must not stop
	// it reaching the ledger.
	ctx = context.WithoutCancel(ctx)

	rec := domain.NewInvestmentRecord(req.Investor, req.USDAmount, conf.TransactionHash)
	ledgerErr := s.record(ctx, rec)

	s.refreshAfterWrite(ctx, refreshAfterInvest)

	if ledgerErr != nil {
		return nil, ledgerErr
	}
	return conf, nil
}

// Redeem submits a redemption, records it and refreshes the metrics cache.
func (s *FundServiceImpl) Redeem(ctx context.Context, req ports.RedeemRequest) (*domain.Confirmation, error) {
	conf, err := s.chain.SubmitRedemption(ctx, req.Investor, req.Shares)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	rec := domain.NewRedemptionRecord(req.Investor, req.Shares, conf.TransactionHash)
	ledgerErr := s.record(ctx, rec)

	s.refreshAfterWrite(ctx, refreshAfterRedeem)

	if ledgerErr != nil {
		return nil, ledgerErr
	}
	return conf, nil
}

// record appends rec. A failure here leaves a confirmed operation missing from
// the ledger, so it is logged, counted and alerted but never retried on-chain.
func (s *FundServiceImpl) record(ctx context.Context, rec *domain.TransactionRecord) error {
	saved, err := s.ledger.Append(ctx, rec)
	if err == nil {
		s.metrics.LedgerAppends.WithLabelValues(string(rec.Kind)).Inc()
		s.log.Info().
			Str("tx_hash", saved.TransactionHash).
			Str("investor", saved.Investor).
			Str("kind", string(saved.Kind)).
			Msg("ledger record appended")
		return nil
	}

	s.metrics.LedgerFailures.Inc()
	s.log.Error().Err(err).
		Str("tx_hash", rec.TransactionHash).
		Str("investor", rec.Investor).
		Str("kind", string(rec.Kind)).
		Msg("confirmed transaction not recorded in ledger")

	if s.alerts != nil {
		if alertErr := s.alerts.LedgerDivergence(ctx, rec, err); alertErr != nil {
			s.log.Warn().Err(alertErr).Str("tx_hash", rec.TransactionHash).Msg("ledger divergence alert not sent")
		}
	}
	return apperror.ErrLedgerWrite(rec.TransactionHash, err)
}

func (s *FundServiceImpl) refreshAfterWrite(ctx context.Context, trigger string) {
	if _, err := s.refresh(ctx, trigger); err != nil {
		s.log.Warn().Err(err).Str("trigger", trigger).Msg("metrics cache refresh failed")
	}
}

// refresh reads the fund state from the chain and overwrites the cache. A
// failed chain read leaves the cache untouched. A failed cache write still
// returns the fresh snapshot.
func (s *FundServiceImpl) refresh(ctx context.Context, trigger string) (m *domain.FundMetrics, err error) {
	defer func() {
		s.metrics.CacheRefreshes.WithLabelValues(trigger, observability.Outcome(err)).Inc()
	}()

	chainMetrics, err := s.chain.ReadMetrics(ctx)
	if err != nil {
		return nil, err
	}
	price, err := s.chain.ReadSharePrice(ctx)
	if err != nil {
		return nil, err
	}

	m = &domain.FundMetrics{
		TotalAssetValue: chainMetrics.TotalAssetValue,
		SharesSupply:    chainMetrics.SharesSupply,
		SharePrice:      fixedpoint.Format(price),
		LastUpdateTime:  chainMetrics.LastUpdateTime,
		Source:          domain.MetricsSourceChain,
	}

	writeErr := s.cache.Set(ctx, m, s.ttl)
	s.metrics.CacheWrites.WithLabelValues(string(domain.MetricsSourceChain), observability.Outcome(writeErr)).Inc()
	if writeErr != nil {
		s.log.Warn().Err(writeErr).Msg("metrics cache write failed")
	}
	return m, nil
}

// GetBalance reads an investor's share balance straight from the chain.
func (s *FundServiceImpl) GetBalance(ctx context.Context, investor string) (decimal.Decimal, error) {
	return s.chain.ReadBalance(ctx, investor)
}

// GetMetrics serves the cached snapshot, reading through to the chain on a
// miss. Concurrent misses share one chain read.
func (s *FundServiceImpl) GetMetrics(ctx context.Context) (*domain.FundMetrics, error) {
	cached, err := s.cache.Get(ctx)
	switch {
	case err != nil:
		s.metrics.CacheLookups.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Msg("metrics cache unavailable, reading chain")
	case cached != nil:
		s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	v, err, _ := s.misses.Do("metrics", func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx), refreshOnMiss)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.FundMetrics), nil
}

// ListTransactions returns ledger records matching params.
func (s *FundServiceImpl) ListTransactions(ctx context.Context, params ports.LedgerListParams) ([]domain.TransactionRecord, int64, error) {
	records, total, err := s.ledger.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list ledger: %w", err))
	}
	return records, total, nil
}

// RunEventLoop applies pushed metrics updates to the cache until ctx is done
// or the gateway closes the channel. Each event overwrites the snapshot.
func (s *FundServiceImpl) RunEventLoop(ctx context.Context) {
	updates := s.chain.MetricsUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				s.log.Info().Msg("metrics update channel closed")
				return
			}
			s.applyEvent(ctx, ev)
		}
	}
}

func (s *FundServiceImpl) applyEvent(ctx context.Context, ev domain.MetricsEvent) {
	err := s.cache.SetFromEvent(ctx, ev.Snapshot())
	s.metrics.CacheWrites.WithLabelValues(string(domain.MetricsSourceEvent), observability.Outcome(err)).Inc()
	if err != nil {
		s.log.Warn().Err(err).
			Str("tx_hash", ev.TransactionHash).
			Uint64("block", ev.BlockNumber).
			Msg("metrics event not cached")
		return
	}
	s.log.Debug().
		Str("tx_hash", ev.TransactionHash).
		Uint64("block", ev.BlockNumber).
		Str("share_price", ev.SharePrice).
		Msg("metrics cache updated from event")
}

// StartMetricsRefresher schedules periodic chain refreshes of the cache. An
// empty spec disables it. Refreshes that fail only log.
func (s *FundServiceImpl) StartMetricsRefresher(spec string) error {
	if spec == "" {
		return nil
	}
	if s.cron != nil {
		return errors.New("metrics refresher already running")
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.refresh(ctx, refreshScheduled); err != nil {
			s.log.Warn().Err(err).Msg("scheduled metrics refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}

	c.Start()
	s.cron = c
	s.log.Info().Str("schedule", spec).Msg("metrics refresher started")
	return nil
}

// StopMetricsRefresher stops the scheduler and waits for a running refresh.
func (s *FundServiceImpl) StopMetricsRefresher() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}
