package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fund-gateway/config"
	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/observability"
	"fund-gateway/pkg/apperror"
	"fund-gateway/pkg/fixedpoint"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultConfirmationTimeout = 2 * time.Minute
	defaultPollInterval        = 4 * time.Second
	defaultEventBuffer         = 64
	maxResubscribeBackoff      = 30 * time.Second
)

// Backend is the part of an Ethereum RPC client the gateway uses.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// DialFunc opens a Backend for an RPC URL (http, ws or ipc).
type DialFunc func(ctx context.Context, rawURL string) (Backend, error)

func dialEthclient(ctx context.Context, rawURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithDialer replaces the RPC dialer.
func WithDialer(dial DialFunc) Option {
	return func(g *Gateway) { g.dial = dial }
}

// WithMetrics records chain activity on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the time source used to stamp received events.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// Gateway submits investments and redemptions to the fund contract, reads
// its state and relays MetricsUpdated events. It is inert until Initialize
// succeeds; before that every call fails with a SYS_002 error.
type Gateway struct {
	cfg     config.ChainConfig
	log     zerolog.Logger
	dial    DialFunc
	metrics *observability.Metrics
	now     func() time.Time

	state   atomic.Int32
	initMu  sync.Mutex
	initErr error
	closed  bool

	backend  Backend
	abi      abi.ABI
	address  common.Address
	contract *bind.BoundContract
	auth     *bind.TransactOpts

	// sendMu serializes nonce assignment for the single signer.
	sendMu sync.Mutex

	events    chan domain.MetricsEvent
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewGateway builds an uninitialized gateway. It performs no I/O.
func NewGateway(cfg config.ChainConfig, log zerolog.Logger, opts ...Option) *Gateway {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = defaultConfirmationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	g := &Gateway{
		cfg:  cfg,
		log:  log.With().Str("component", "chain").Logger(),
		dial: dialEthclient,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	g.events = make(chan domain.MetricsEvent, cfg.EventBuffer)
	return g
}

// State reports the lifecycle state.
func (g *Gateway) State() domain.GatewayState {
	return domain.GatewayState(g.state.Load())
}

// Err returns the last initialization error, if any.
func (g *Gateway) Err() error {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	return g.initErr
}

// Initialize connects to the node, prepares the signer, binds the contract
// and starts the event listener. Calling it again after success is a no-op;
// after a failure it retries from scratch.
func (g *Gateway) Initialize(ctx context.Context) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()

	if g.closed {
		return errors.New("chain gateway closed")
	}
	if g.State() == domain.GatewayReady {
		return nil
	}

	if err := g.initialize(ctx); err != nil {
		g.initErr = err
		g.state.Store(int32(domain.GatewayFailed))
		g.metrics.GatewayReady.Set(0)
		return err
	}

	g.initErr = nil
	g.state.Store(int32(domain.GatewayReady))
	g.metrics.GatewayReady.Set(1)
	g.log.Info().
		Str("contract", g.address.Hex()).
		Str("signer", g.auth.From.Hex()).
		Msg("chain gateway ready")
	return nil
}

func (g *Gateway) initialize(ctx context.Context) error {
	parsed, err := fundABIInstance()
	if err != nil {
		return fmt.Errorf("parsing fund ABI: %w", err)
	}
	if !common.IsHexAddress(g.cfg.ContractAddress) {
		return fmt.Errorf("invalid contract address %q", g.cfg.ContractAddress)
	}
	address := common.HexToAddress(g.cfg.ContractAddress)

	key, err := crypto.HexToECDSA(strings.TrimPrefix(g.cfg.PrivateKey, "0x"))
	if err != nil {
		return fmt.Errorf("parsing signer key: %w", err)
	}

	backend, err := g.dial(ctx, g.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dialing rpc endpoint: %w", err)
	}

	chainID := big.NewInt(g.cfg.ChainID)
	if g.cfg.ChainID == 0 {
		if chainID, err = backend.ChainID(ctx); err != nil {
			backend.Close()
			return fmt.Errorf("fetching chain id: %w", err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		backend.Close()
		return fmt.Errorf("creating transactor: %w", err)
	}
	auth.GasLimit = g.cfg.GasLimit

	code, err := backend.CodeAt(ctx, address, nil)
	if err != nil {
		backend.Close()
		return fmt.Errorf("checking contract code: %w", err)
	}
	if len(code) == 0 {
		backend.Close()
		return fmt.Errorf("no contract code at %s", address.Hex())
	}

	g.backend = backend
	g.abi = parsed
	g.address = address
	g.auth = auth
	g.contract = bind.NewBoundContract(address, parsed, backend, backend, backend)

	listenCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.listen(listenCtx)
	}()

	return nil
}

// Close stops the listener, closes the event channel and the RPC client.
func (g *Gateway) Close() {
	g.initMu.Lock()
	defer g.initMu.Unlock()

	g.closed = true
	g.state.Store(int32(domain.GatewayUninitialized))
	g.metrics.GatewayReady.Set(0)
	if g.cancel != nil {
		g.cancel()
		g.wg.Wait()
	}
	g.closeOnce.Do(func() { close(g.events) })
	if g.backend != nil {
		g.backend.Close()
	}
}

func (g *Gateway) ensureReady() error {
	switch g.State() {
	case domain.GatewayReady:
		return nil
	case domain.GatewayFailed:
		return apperror.ErrNotReady("chain gateway failed to initialize")
	default:
		return apperror.ErrNotReady("chain gateway initializing")
	}
}

// SubmitInvestment calls invest(investor, usdAmount) and waits for one confirmation.
func (g *Gateway) SubmitInvestment(ctx context.Context, investor string, usdAmount decimal.Decimal) (*domain.Confirmation, error) {
	return g.submit(ctx, methodInvest, investor, usdAmount)
}

// SubmitRedemption calls redeem(investor, shares) and waits for one confirmation.
func (g *Gateway) SubmitRedemption(ctx context.Context, investor string, shares decimal.Decimal) (*domain.Confirmation, error) {
	return g.submit(ctx, methodRedeem, investor, shares)
}

func (g *Gateway) submit(ctx context.Context, method, investor string, amount decimal.Decimal) (conf *domain.Confirmation, err error) {
	if err := g.ensureReady(); err != nil {
		return nil, err
	}
	defer func() {
		g.metrics.ChainSubmissions.WithLabelValues(method, submissionOutcome(err)).Inc()
	}()

	addr, err := parseAddress(investor)
	if err != nil {
		return nil, apperror.ErrChainSubmission(err)
	}
	if err := fixedpoint.ValidateAmount(amount); err != nil {
		return nil, apperror.ErrChainSubmission(fmt.Errorf("%s amount %s: %w", method, amount, err))
	}
	units, err := fixedpoint.ToUnits(amount)
	if err != nil {
		return nil, apperror.ErrChainSubmission(err)
	}

	tx, err := g.send(ctx, method, addr, units)
	if err != nil {
		return nil, apperror.ErrChainSubmission(fmt.Errorf("sending %s: %w", method, err))
	}

	log := g.log.With().Str("method", method).Str("tx_hash", tx.Hash().Hex()).Logger()
	log.Info().Str("investor", addr.Hex()).Str("amount", fixedpoint.Format(amount)).Msg("transaction sent, awaiting confirmation")

	// Once sent, the transaction may mine whether or not the caller is still
	// there, so the wait is bounded by the confirmation timeout alone.
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, g.backend, tx)
	g.metrics.ChainConfirmWait.WithLabelValues(method).Observe(time.Since(started).Seconds())
	if err != nil {
		log.Warn().Err(err).Dur("timeout", g.cfg.ConfirmationTimeout).Msg("transaction not confirmed")
		return nil, apperror.ErrChainConfirmation("confirmation timed out", fmt.Errorf("tx %s: %w", tx.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Warn().Uint64("status", receipt.Status).Msg("transaction reverted")
		return nil, apperror.ErrChainConfirmation("transaction reverted", fmt.Errorf("tx %s reverted", tx.Hash().Hex()))
	}

	conf = &domain.Confirmation{
		TransactionHash: receipt.TxHash.Hex(),
		BlockHash:       receipt.BlockHash.Hex(),
		GasUsed:         receipt.GasUsed,
		Status:          receipt.Status,
	}
	if receipt.BlockNumber != nil {
		conf.BlockNumber = receipt.BlockNumber.Uint64()
	}
	log.Info().Uint64("block", conf.BlockNumber).Msg("transaction confirmed")
	return conf, nil
}

func (g *Gateway) send(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	opts := *g.auth
	opts.Context = ctx
	return g.contract.Transact(&opts, method, args...)
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case apperror.HasCode(err, apperror.CodeChainConfirmation):
		return "unconfirmed"
	default:
		return "rejected"
	}
}

// ReadBalance returns balanceOf(investor) scaled to six decimals.
func (g *Gateway) ReadBalance(ctx context.Context, investor string) (decimal.Decimal, error) {
	if err := g.ensureReady(); err != nil {
		return decimal.Zero, err
	}
	addr, err := parseAddress(investor)
	if err != nil {
		return decimal.Zero, apperror.ErrChainSubmission(err)
	}

	out, err := g.call(ctx, methodBalanceOf, addr)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := bigOutput(out, 0)
	if err != nil {
		return decimal.Zero, apperror.ErrChainSubmission(err)
	}
	return fixedpoint.FromUnits(balance), nil
}

// ReadMetrics returns getFundMetrics() scaled to six decimals.
func (g *Gateway) ReadMetrics(ctx context.Context) (*domain.ChainMetrics, error) {
	if err := g.ensureReady(); err != nil {
		return nil, err
	}

	out, err := g.call(ctx, methodGetFundMetrics)
	if err != nil {
		return nil, err
	}
	values := make([]*big.Int, 3)
	for i := range values {
		if values[i], err = bigOutput(out, i); err != nil {
			return nil, apperror.ErrChainSubmission(err)
		}
	}

	return &domain.ChainMetrics{
		TotalAssetValue: fixedpoint.FormatUnits(values[0]),
		SharesSupply:    fixedpoint.FormatUnits(values[1]),
		LastUpdateTime:  time.Unix(values[2].Int64(), 0).UTC(),
	}, nil
}

// ReadSharePrice returns getSharePrice() scaled to six decimals.
func (g *Gateway) ReadSharePrice(ctx context.Context) (decimal.Decimal, error) {
	if err := g.ensureReady(); err != nil {
		return decimal.Zero, err
	}

	out, err := g.call(ctx, methodGetSharePrice)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := bigOutput(out, 0)
	if err != nil {
		return decimal.Zero, apperror.ErrChainSubmission(err)
	}
	return fixedpoint.FromUnits(price), nil
}

func (g *Gateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	g.metrics.ChainReads.WithLabelValues(method, observability.Outcome(err)).Inc()
	if err != nil {
		return nil, apperror.ErrChainSubmission(fmt.Errorf("calling %s: %w", method, err))
	}
	return out, nil
}

// MetricsUpdates delivers decoded MetricsUpdated events in log order.
// The channel is closed by Close.
func (g *Gateway) MetricsUpdates() <-chan domain.MetricsEvent {
	return g.events
}

// Ping implements ports.HealthChecker.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.ensureReady(); err != nil {
		return err
	}
	_, err := g.backend.BlockNumber(ctx)
	return err
}

// Name returns the dependency name.
func (g *Gateway) Name() string {
	return "chain"
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid investor address %q", s)
	}
	return common.HexToAddress(s), nil
}

func bigOutput(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("contract returned %d values, want at least %d", len(out), i+1)
	}
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("contract output %d is %T, want *big.Int", i, out[i])
	}
	return v, nil
}
