package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fund-gateway/config"
	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/core/ports"
	"fund-gateway/pkg/fixedpoint"

	"github.com/rs/zerolog"
)

// EventLedgerDivergence marks an operation confirmed on-chain but missing from the ledger.
const EventLedgerDivergence = "LEDGER_DIVERGENCE"

// alertRetryIntervals is the wait before each redelivery attempt.
var alertRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// AlertPayload is the JSON body POSTed to the alert webhook.
type AlertPayload struct {
	EventType string           `json:"event_type"`
	Data      AlertPayloadData `json:"data"`
	Signature string           `json:"signature"`
}

// AlertPayloadData describes the diverged operation. Signature covers its JSON encoding.
type AlertPayloadData struct {
	RecordID        string `json:"record_id"`
	TransactionHash string `json:"transaction_hash"`
	Investor        string `json:"investor"`
	Kind            string `json:"kind"`
	USDAmount       string `json:"usd_amount,omitempty"`
	Shares          string `json:"shares,omitempty"`
	Reason          string `json:"reason"`
	Timestamp       int64  `json:"timestamp"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookAlertNotifier implements ports.AlertNotifier by POSTing signed
// alerts to an operator webhook. Delivery is asynchronous.
type WebhookAlertNotifier struct {
	url         string
	secret      string
	maxAttempts int
	intervals   []time.Duration
	sigSvc      ports.SignatureService
	httpClient  HTTPClient
	log         zerolog.Logger

	// ctx bounds every delivery; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookAlertNotifier creates a notifier. An empty webhook URL makes every
// alert a logged no-op.
func NewWebhookAlertNotifier(cfg config.AlertConfig, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) *WebhookAlertNotifier {
	attempts := cfg.MaxAttempts
	if attempts < 1 || attempts > len(alertRetryIntervals)+1 {
		attempts = len(alertRetryIntervals) + 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebhookAlertNotifier{
		url:         cfg.WebhookURL,
		secret:      cfg.Secret,
		maxAttempts: attempts,
		intervals:   alertRetryIntervals,
		sigSvc:      sigSvc,
		httpClient:  httpClient,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// LedgerDivergence queues an alert for rec. It returns once the payload is
// built; delivery continues in the background.
func (n *WebhookAlertNotifier) LedgerDivergence(_ context.Context, rec *domain.TransactionRecord, cause error) error {
	if n.url == "" {
		n.log.Debug().Str("tx_hash", rec.TransactionHash).Msg("alert: no webhook URL configured, skipping")
		return nil
	}

	data := AlertPayloadData{
		RecordID:        rec.ID.String(),
		TransactionHash: rec.TransactionHash,
		Investor:        rec.Investor,
		Kind:            string(rec.Kind),
		Timestamp:       time.Now().Unix(),
	}
	if rec.USDAmount != nil {
		data.USDAmount = fixedpoint.Format(*rec.USDAmount)
	}
	if rec.Shares != nil {
		data.Shares = fixedpoint.Format(*rec.Shares)
	}
	if cause != nil {
		data.Reason = cause.Error()
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("alert: marshal data: %w", err)
	}

	payload := AlertPayload{
		EventType: EventLedgerDivergence,
		Data:      data,
		Signature: n.sigSvc.Sign(n.secret, string(dataBytes)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverWithRetries(body, rec.TransactionHash)
	}()
	return nil
}

// Wait blocks until queued deliveries finish.
func (n *WebhookAlertNotifier) Wait() {
	n.wg.Wait()
}

// Shutdown waits for queued deliveries until ctx ends, then abandons the
// remaining retries. Abandoned alerts are logged at error level.
func (n *WebhookAlertNotifier) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

func (n *WebhookAlertNotifier) deliverWithRetries(body []byte, txHash string) {
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.intervals[attempt-1]):
			case <-n.ctx.Done():
				n.log.Error().Str("tx_hash", txHash).Int("attempts", attempt).Msg("alert: delivery abandoned on shutdown")
				return
			}
		}

		req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.log.Error().Err(err).Str("tx_hash", txHash).Msg("alert: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Alert-Event", EventLedgerDivergence)

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Warn().Err(err).Str("tx_hash", txHash).Int("attempt", attempt+1).Msg("alert: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Info().Str("tx_hash", txHash).Int("attempt", attempt+1).Msg("alert: delivered")
			return
		}

		n.log.Warn().Str("tx_hash", txHash).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("alert: non-2xx response, retrying")
	}

	n.log.Error().Str("tx_hash", txHash).Msg("alert: all retry attempts exhausted")
}
