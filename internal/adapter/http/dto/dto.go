package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Amount fields accept a JSON number or a decimal string. decimal.Decimal
// decodes both.

// InvestRequest is the request body for an investment.
type InvestRequest struct {
	Investor  string           `json:"investor" binding:"required,eth_address"`
	USDAmount *decimal.Decimal `json:"usd_amount" binding:"required"`
}

// UnmarshalJSON also accepts the amount as "usdAmount", the name earlier
// clients send. "usd_amount" wins when both are present.
func (r *InvestRequest) UnmarshalJSON(data []byte) error {
	type plain InvestRequest
	var aux struct {
		plain
		USDAmountCamel *decimal.Decimal `json:"usdAmount"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = InvestRequest(aux.plain)
	if r.USDAmount == nil {
		r.USDAmount = aux.USDAmountCamel
	}
	return nil
}

// RedeemRequest is the request body for a redemption.
type RedeemRequest struct {
	Investor string           `json:"investor" binding:"required,eth_address"`
	Shares   *decimal.Decimal `json:"shares" binding:"required"`
}

// InvestorURI binds the :investor path parameter.
type InvestorURI struct {
	Investor string `uri:"investor" binding:"required,eth_address"`
}

// TransactionListQuery binds the ledger list query string. Times are RFC 3339.
type TransactionListQuery struct {
	Investor string     `form:"investor" binding:"omitempty,eth_address"`
	Kind     string     `form:"kind" binding:"omitempty,oneof=investment redemption"`
	From     *time.Time `form:"from"`
	To       *time.Time `form:"to"`
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PageSize int        `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ConfirmationResponse is returned for a confirmed invest or redeem.
type ConfirmationResponse struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	BlockHash       string `json:"block_hash"`
	GasUsed         uint64 `json:"gas_used"`
	Status          uint64 `json:"status"`
	Investor        string `json:"investor"`
	USDAmount       string `json:"usd_amount,omitempty"`
	Shares          string `json:"shares,omitempty"`
}

// BalanceResponse is the response for a share balance query.
type BalanceResponse struct {
	Investor string `json:"investor"`
	Balance  string `json:"balance"`
}

// MetricsResponse is the fund metrics snapshot.
type MetricsResponse struct {
	TotalAssetValue string `json:"totalAssetValue"`
	SharesSupply    string `json:"sharesSupply"`
	SharePrice      string `json:"sharePrice"`
	LastUpdateTime  string `json:"lastUpdateTime"`
}

// TransactionResponse is one ledger record.
type TransactionResponse struct {
	ID              string `json:"id"`
	Investor        string `json:"investor"`
	Kind            string `json:"kind"`
	USDAmount       string `json:"usd_amount,omitempty"`
	Shares          string `json:"shares,omitempty"`
	TransactionHash string `json:"transaction_hash"`
	Timestamp       string `json:"timestamp"`
}

// TransactionListResponse wraps a paginated ledger listing.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}
