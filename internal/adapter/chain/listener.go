package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"fund-gateway/internal/core/domain"
	"fund-gateway/pkg/fixedpoint"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// metricsUpdated mirrors the MetricsUpdated event fields.
type metricsUpdated struct {
	TotalAssetValue *big.Int
	SharesSupply    *big.Int
	SharePrice      *big.Int
}

func (g *Gateway) metricsQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{g.address},
		Topics:    [][]common.Hash{{g.abi.Events[eventMetricsUpdated].ID}},
	}
}

// listen streams MetricsUpdated logs until ctx is cancelled. It subscribes
// when the node supports it and falls back to polling otherwise.
func (g *Gateway) listen(ctx context.Context) {
	query := g.metricsQuery()
	logs := make(chan types.Log, g.cfg.EventBuffer)

	first, err := g.backend.SubscribeFilterLogs(ctx, query, logs)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		g.log.Info().Dur("interval", g.cfg.PollInterval).Msg("node does not support subscriptions, polling for MetricsUpdated")
		g.poll(ctx, query)
		return
	}
	if err != nil {
		g.log.Warn().Err(err).Msg("MetricsUpdated subscription failed, retrying")
	}

	sub := event.ResubscribeErr(maxResubscribeBackoff, func(subCtx context.Context, lastErr error) (event.Subscription, error) {
		if first != nil {
			s := first
			first = nil
			return s, nil
		}
		if lastErr != nil {
			g.log.Warn().Err(lastErr).Msg("MetricsUpdated subscription dropped, resubscribing")
		}
		return g.backend.SubscribeFilterLogs(subCtx, query, logs)
	})
	defer sub.Unsubscribe()

	g.log.Info().Msg("subscribed to MetricsUpdated")
	for {
		select {
		case <-ctx.Done():
			return
		case lg := <-logs:
			g.deliver(ctx, lg)
		}
	}
}

// poll fetches MetricsUpdated logs for each new block range.
func (g *Gateway) poll(ctx context.Context, query ethereum.FilterQuery) {
	var next uint64
	if head, err := g.backend.BlockNumber(ctx); err == nil {
		next = head + 1
	} else {
		g.log.Warn().Err(err).Msg("reading head block, polling from the next successful read")
	}

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		head, err := g.backend.BlockNumber(ctx)
		if err != nil {
			g.log.Warn().Err(err).Msg("reading head block")
			continue
		}
		if next == 0 {
			next = head + 1
			continue
		}
		if head < next {
			continue
		}

		q := query
		q.FromBlock = new(big.Int).SetUint64(next)
		q.ToBlock = new(big.Int).SetUint64(head)
		logs, err := g.backend.FilterLogs(ctx, q)
		if err != nil {
			g.log.Warn().Err(err).Uint64("from", next).Uint64("to", head).Msg("filtering MetricsUpdated logs")
			continue
		}
		for _, lg := range logs {
			g.deliver(ctx, lg)
		}
		next = head + 1
	}
}

// deliver decodes one log and hands it to the consumer. Removed logs are
// dropped; the replacement arrives as a fresh log.
func (g *Gateway) deliver(ctx context.Context, lg types.Log) {
	if lg.Removed {
		g.metrics.ChainEvents.WithLabelValues("removed").Inc()
		g.log.Debug().Str("tx_hash", lg.TxHash.Hex()).Msg("skipping removed MetricsUpdated log")
		return
	}

	ev, err := g.decodeMetricsUpdated(lg)
	if err != nil {
		g.metrics.ChainEvents.WithLabelValues("undecodable").Inc()
		g.log.Warn().Err(err).Str("tx_hash", lg.TxHash.Hex()).Msg("decoding MetricsUpdated log")
		return
	}

	select {
	case g.events <- ev:
		g.metrics.ChainEvents.WithLabelValues("delivered").Inc()
	case <-ctx.Done():
	}
}

func (g *Gateway) decodeMetricsUpdated(lg types.Log) (domain.MetricsEvent, error) {
	var out metricsUpdated
	if err := g.contract.UnpackLog(&out, eventMetricsUpdated, lg); err != nil {
		return domain.MetricsEvent{}, err
	}
	return domain.MetricsEvent{
		TotalAssetValue: fixedpoint.FormatUnits(out.TotalAssetValue),
		SharesSupply:    fixedpoint.FormatUnits(out.SharesSupply),
		SharePrice:      fixedpoint.FormatUnits(out.SharePrice),
		TransactionHash: lg.TxHash.Hex(),
		BlockNumber:     lg.BlockNumber,
		LogIndex:        lg.Index,
		ReceivedAt:      g.now().UTC(),
	}, nil
}
