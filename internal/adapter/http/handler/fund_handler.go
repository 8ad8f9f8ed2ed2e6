package handler

import (
	"errors"
	"math"
	"net/http"
	"time"

	"fund-gateway/internal/adapter/http/dto"
	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/core/ports"
	"fund-gateway/pkg/apperror"
	"fund-gateway/pkg/fixedpoint"
	"fund-gateway/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultPageSize = 20

// FundHandler handles the /api/v1/fund endpoints.
type FundHandler struct {
	fundSvc ports.FundService
}

// NewFundHandler creates a new FundHandler.
func NewFundHandler(fundSvc ports.FundService) *FundHandler {
	return &FundHandler{fundSvc: fundSvc}
}

// Invest handles POST /api/v1/fund/invest.
func (h *FundHandler) Invest(c *gin.Context) {
	var req dto.InvestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	dto.TrimStrings(&req)

	amount, err := dto.ValidAmount("usd_amount", req.USDAmount)
	if err != nil {
		response.Error(c, err)
		return
	}

	conf, err := h.fundSvc.Invest(c.Request.Context(), ports.InvestRequest{
		Investor:  req.Investor,
		USDAmount: amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := toConfirmationResponse(conf, req.Investor)
	resp.USDAmount = fixedpoint.Format(amount)
	response.Created(c, resp)
}

// Redeem handles POST /api/v1/fund/redeem.
func (h *FundHandler) Redeem(c *gin.Context) {
	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	dto.TrimStrings(&req)

	shares, err := dto.ValidAmount("shares", req.Shares)
	if err != nil {
		response.Error(c, err)
		return
	}

	conf, err := h.fundSvc.Redeem(c.Request.Context(), ports.RedeemRequest{
		Investor: req.Investor,
		Shares:   shares,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := toConfirmationResponse(conf, req.Investor)
	resp.Shares = fixedpoint.Format(shares)
	response.Created(c, resp)
}

// GetBalance handles GET /api/v1/fund/balance/:investor.
func (h *FundHandler) GetBalance(c *gin.Context) {
	var uri dto.InvestorURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, bindError(err))
		return
	}

	balance, err := h.fundSvc.GetBalance(c.Request.Context(), uri.Investor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.BalanceResponse{
		Investor: uri.Investor,
		Balance:  fixedpoint.Format(balance),
	})
}

// GetMetrics handles GET /api/v1/fund/metrics.
func (h *FundHandler) GetMetrics(c *gin.Context) {
	m, err := h.fundSvc.GetMetrics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.MetricsResponse{
		TotalAssetValue: m.TotalAssetValue,
		SharesSupply:    m.SharesSupply,
		SharePrice:      m.SharePrice,
		LastUpdateTime:  m.LastUpdateTime.UTC().Format(time.RFC3339),
	})
}

// ListTransactions handles GET /api/v1/fund/transactions.
func (h *FundHandler) ListTransactions(c *gin.Context) {
	var q dto.TransactionListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err))
		return
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		response.Error(c, apperror.Validation("to must not be before from"))
		return
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}

	params := ports.LedgerListParams{
		Investor: q.Investor,
		From:     q.From,
		To:       q.To,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if q.Kind != "" {
		kind := domain.TransactionKind(q.Kind)
		params.Kind = &kind
	}

	records, total, err := h.fundSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(records))
	for i := range records {
		items = append(items, toTransactionResponse(&records[i]))
	}

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(q.PageSize))),
	})
}

// bindError maps a request binding failure to a client error.
func bindError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.New(apperror.CodeValidation, "Request body too large", http.StatusRequestEntityTooLarge)
	}
	return apperror.Validation(dto.BindingMessage(err))
}

func toConfirmationResponse(conf *domain.Confirmation, investor string) dto.ConfirmationResponse {
	return dto.ConfirmationResponse{
		TransactionHash: conf.TransactionHash,
		BlockNumber:     conf.BlockNumber,
		BlockHash:       conf.BlockHash,
		GasUsed:         conf.GasUsed,
		Status:          conf.Status,
		Investor:        investor,
	}
}

func toTransactionResponse(rec *domain.TransactionRecord) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:              rec.ID.String(),
		Investor:        rec.Investor,
		Kind:            string(rec.Kind),
		TransactionHash: rec.TransactionHash,
		Timestamp:       rec.Timestamp.UTC().Format(time.RFC3339),
	}
	if rec.USDAmount != nil {
		resp.USDAmount = fixedpoint.Format(*rec.USDAmount)
	}
	if rec.Shares != nil {
		resp.Shares = fixedpoint.Format(*rec.Shares)
	}
	return resp
}
