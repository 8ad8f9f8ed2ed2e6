package ports

import (
	"context"
	"time"

	"fund-gateway/internal/core/domain"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// ChainGateway submits fund operations to the contract and reads its state.
// Every method fails fast with a SYS_002 error until the gateway is ready.
type ChainGateway interface {
	SubmitInvestment(ctx context.Context, investor string, usdAmount decimal.Decimal) (*domain.Confirmation, error)
	SubmitRedemption(ctx context.Context, investor string, shares decimal.Decimal) (*domain.Confirmation, error)
	ReadBalance(ctx context.Context, investor string) (decimal.Decimal, error)
	ReadMetrics(ctx context.Context) (*domain.ChainMetrics, error)
	ReadSharePrice(ctx context.Context) (decimal.Decimal, error)
	// MetricsUpdates delivers decoded MetricsUpdated events in chain order.
	MetricsUpdates() <-chan domain.MetricsEvent
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService handles operator JWT tokens.
type TokenService interface {
	Generate(operator string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Operator string
}

// AlertNotifier raises operator alerts for states that need manual repair.
type AlertNotifier interface {
	// LedgerDivergence reports an operation final on-chain but absent from the ledger.
	LedgerDivergence(ctx context.Context, rec *domain.TransactionRecord, cause error) error
}

// --- Service Ports (Business Logic) ---

// FundService coordinates the chain, the ledger and the metrics cache.
type FundService interface {
	Invest(ctx context.Context, req InvestRequest) (*domain.Confirmation, error)
	Redeem(ctx context.Context, req RedeemRequest) (*domain.Confirmation, error)
	GetBalance(ctx context.Context, investor string) (decimal.Decimal, error)
	GetMetrics(ctx context.Context) (*domain.FundMetrics, error)
	ListTransactions(ctx context.Context, params LedgerListParams) ([]domain.TransactionRecord, int64, error)
}

// InvestRequest holds validated input for an investment.
type InvestRequest struct {
	Investor  string
	USDAmount decimal.Decimal
}

// RedeemRequest holds validated input for a redemption.
type RedeemRequest struct {
	Investor string
	Shares   decimal.Decimal
}
