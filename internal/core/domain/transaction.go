package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind identifies which fund operation produced a ledger record.
type TransactionKind string

const (
	TransactionKindInvestment TransactionKind = "investment"
	TransactionKindRedemption TransactionKind = "redemption"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	return k == TransactionKindInvestment || k == TransactionKindRedemption
}

var (
	ErrUnknownKind     = errors.New("unknown transaction kind")
	ErrMissingAmount   = errors.New("investment requires usd_amount and no shares")
	ErrMissingShares   = errors.New("redemption requires shares and no usd_amount")
	ErrMissingTxHash   = errors.New("transaction hash is required")
	ErrMissingInvestor = errors.New("investor is required")
)

// TransactionRecord is an immutable ledger entry for an operation already
// confirmed on-chain. Records are appended, never updated or deleted.
type TransactionRecord struct {
	ID              uuid.UUID        `json:"id"`
	Investor        string           `json:"investor"`
	Kind            TransactionKind  `json:"kind"`
	USDAmount       *decimal.Decimal `json:"usd_amount,omitempty"` // investment only, 6 dp
	Shares          *decimal.Decimal `json:"shares,omitempty"`     // redemption only, 6 dp
	TransactionHash string           `json:"transaction_hash"`
	Timestamp       time.Time        `json:"timestamp"` // assigned by the store
}

// Validate enforces the amount/shares exclusivity for the record's kind.
func (r *TransactionRecord) Validate() error {
	if r.Investor == "" {
		return ErrMissingInvestor
	}
	if r.TransactionHash == "" {
		return ErrMissingTxHash
	}
	switch r.Kind {
	case TransactionKindInvestment:
		if r.USDAmount == nil || r.Shares != nil {
			return ErrMissingAmount
		}
	case TransactionKindRedemption:
		if r.Shares == nil || r.USDAmount != nil {
			return ErrMissingShares
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

// NewInvestmentRecord builds the ledger entry for a confirmed investment.
func NewInvestmentRecord(investor string, usdAmount decimal.Decimal, txHash string) *TransactionRecord {
	return &TransactionRecord{
		ID:              uuid.New(),
		Investor:        investor,
		Kind:            TransactionKindInvestment,
		USDAmount:       &usdAmount,
		TransactionHash: txHash,
	}
}

// NewRedemptionRecord builds the ledger entry for a confirmed redemption.
func NewRedemptionRecord(investor string, shares decimal.Decimal, txHash string) *TransactionRecord {
	return &TransactionRecord{
		ID:              uuid.New(),
		Investor:        investor,
		Kind:            TransactionKindRedemption,
		Shares:          &shares,
		TransactionHash: txHash,
	}
}
