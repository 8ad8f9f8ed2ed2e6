package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fund-gateway/internal/adapter/http/middleware"
	"fund-gateway/internal/core/domain"
	"fund-gateway/internal/core/ports"
	"fund-gateway/internal/core/ports/mocks"
	"fund-gateway/internal/observability"
	"fund-gateway/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const investor = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, fundSvc ports.FundService) *gin.Engine {
	t.Helper()
	return SetupRouter(RouterDeps{FundSvc: fundSvc, Mode: gin.TestMode, Logger: zerolog.Nop()})
}

func doJSON(router *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func confirmed(hash string) *domain.Confirmation {
	return &domain.Confirmation{TransactionHash: hash, BlockNumber: 42, BlockHash: "0xblock", GasUsed: 51234, Status: 1}
}

// --- Invest ---

func TestInvest_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)

	fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.InvestRequest) (*domain.Confirmation, error) {
			assert.Equal(t, investor, req.Investor)
			assert.True(t, req.USDAmount.Equal(decimal.RequireFromString("1000.5")))
			return confirmed("0xaaa"), nil
		})

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest",
		`{"investor":"`+investor+`","usd_amount":1000.5}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "0xaaa", data["transaction_hash"])
	assert.Equal(t, float64(42), data["block_number"])
	assert.Equal(t, investor, data["investor"])
	assert.Equal(t, "1000.500000", data["usd_amount"])
	assert.NotContains(t, data, "shares")
}

func TestInvest_AmountAsString(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).Return(confirmed("0xbbb"), nil)

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest",
		`{"investor":"`+investor+`","usd_amount":"0.000001"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "0.000001", decode(t, w)["data"].(map[string]interface{})["usd_amount"])
}

func TestInvest_CamelCaseAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.InvestRequest) (*domain.Confirmation, error) {
			assert.Equal(t, "1000.000000", req.USDAmount.StringFixed(6))
			return confirmed("0xaaa"), nil
		})

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest",
		`{"investor":"`+investor+`","usdAmount":1000}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "1000.000000", decode(t, w)["data"].(map[string]interface{})["usd_amount"])
}

func TestInvest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", `{}`, "investor is required"},
		{"malformed json", `{"investor":`, "Invalid request body"},
		{"bad address", `{"investor":"alice","usd_amount":"1"}`, "investor must be a 0x-prefixed hex address"},
		{"missing amount", `{"investor":"` + investor + `"}`, "usd_amount is required"},
		{"zero amount", `{"investor":"` + investor + `","usd_amount":0}`, "usd_amount: must be greater than zero"},
		{"negative amount", `{"investor":"` + investor + `","usd_amount":"-1"}`, "usd_amount: must be greater than zero"},
		{"too precise", `{"investor":"` + investor + `","usd_amount":"1.0000001"}`, "usd_amount: at most 6 decimal places"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			fundSvc := mocks.NewMockFundService(ctrl)

			w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decode(t, w)
			assert.Equal(t, apperror.CodeValidation, resp["error_code"])
			assert.Equal(t, tt.want, resp["message"])
			assert.NotEmpty(t, resp["request_id"])
		})
	}
}

func TestInvest_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"submission", apperror.ErrChainSubmission(errors.New("insufficient funds")), http.StatusBadGateway, apperror.CodeChainSubmission},
		{"reverted", apperror.ErrChainConfirmation("transaction reverted", nil), http.StatusGatewayTimeout, apperror.CodeChainConfirmation},
		{"not ready", apperror.ErrNotReady("chain gateway initializing"), http.StatusServiceUnavailable, apperror.CodeNotReady},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, apperror.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			fundSvc := mocks.NewMockFundService(ctrl)
			fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).Return(nil, tt.err)

			w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest",
				`{"investor":"`+investor+`","usd_amount":"10"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error_code"])
		})
	}
}

func TestInvest_LedgerFailureCarriesHash(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrLedgerWrite("0xccc", errors.New("connection refused")))

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/invest",
		`{"investor":"`+investor+`","usd_amount":"10"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode(t, w)
	assert.Equal(t, apperror.CodeLedgerWrite, resp["error_code"])
	assert.Equal(t, "0xccc", resp["details"].(map[string]interface{})["transaction_hash"])
}

// --- Redeem ---

func TestRedeem_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().Redeem(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.RedeemRequest) (*domain.Confirmation, error) {
			assert.Equal(t, "12.345678", req.Shares.String())
			return confirmed("0xddd"), nil
		})

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/redeem",
		`{"investor":"`+investor+`","shares":"12.345678"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "0xddd", data["transaction_hash"])
	assert.Equal(t, "12.345678", data["shares"])
}

func TestRedeem_MissingShares(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)

	w := doJSON(newRouter(t, fundSvc), http.MethodPost, "/api/v1/fund/redeem", `{"investor":"`+investor+`"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "shares is required", decode(t, w)["message"])
}

// --- Reads ---

func TestGetBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().GetBalance(gomock.Any(), investor).Return(decimal.NewFromInt(50), nil)

	w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/balance/"+investor, "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, investor, data["investor"])
	assert.Equal(t, "50.000000", data["balance"])
}

func TestGetBalance_InvalidAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)

	w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/balance/not-an-address", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, decode(t, w)["error_code"])
}

func TestGetMetrics_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().GetMetrics(gomock.Any()).Return(&domain.FundMetrics{
		TotalAssetValue: "1000000.000000",
		SharesSupply:    "950000.000000",
		SharePrice:      "1.052631",
		LastUpdateTime:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:          domain.MetricsSourceChain,
	}, nil)

	w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "1000000.000000", data["totalAssetValue"])
	assert.Equal(t, "950000.000000", data["sharesSupply"])
	assert.Equal(t, "1.052631", data["sharePrice"])
	assert.Equal(t, "2024-05-01T12:00:00Z", data["lastUpdateTime"])
}

func TestGetMetrics_ChainFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().GetMetrics(gomock.Any()).Return(nil, apperror.ErrChainSubmission(errors.New("rpc down")))

	w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/metrics", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

// --- Transactions ---

func TestListTransactions_Filters(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)

	amount := decimal.NewFromInt(1000)
	rec := domain.TransactionRecord{
		ID: [16]byte{1}, Investor: investor, Kind: domain.TransactionKindInvestment,
		USDAmount: &amount, TransactionHash: "0xaaa",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	fundSvc.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p ports.LedgerListParams) ([]domain.TransactionRecord, int64, error) {
			assert.Equal(t, investor, p.Investor)
			require.NotNil(t, p.Kind)
			assert.Equal(t, domain.TransactionKindInvestment, *p.Kind)
			require.NotNil(t, p.From)
			assert.True(t, p.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
			assert.Nil(t, p.To)
			assert.Equal(t, 2, p.Page)
			assert.Equal(t, 5, p.PageSize)
			return []domain.TransactionRecord{rec}, 6, nil
		})

	w := doJSON(newRouter(t, fundSvc), http.MethodGet,
		"/api/v1/fund/transactions?investor="+investor+"&kind=investment&from=2024-01-01T00:00:00Z&page=2&page_size=5", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(6), data["total"])
	assert.Equal(t, float64(2), data["total_pages"])
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, "investment", item["kind"])
	assert.Equal(t, "1000.000000", item["usd_amount"])
	assert.Equal(t, "2024-05-01T12:00:00Z", item["timestamp"])
}

func TestListTransactions_Defaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	fundSvc.EXPECT().ListTransactions(gomock.Any(), ports.LedgerListParams{Page: 1, PageSize: 20}).
		Return([]domain.TransactionRecord{}, int64(0), nil)

	w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/transactions", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Empty(t, data["items"])
}

func TestListTransactions_InvalidQuery(t *testing.T) {
	for _, q := range []string{
		"kind=transfer",
		"page_size=1000",
		"from=yesterday",
		"from=2024-02-01T00:00:00Z&to=2024-01-01T00:00:00Z",
	} {
		ctrl := gomock.NewController(t)
		fundSvc := mocks.NewMockFundService(ctrl)

		w := doJSON(newRouter(t, fundSvc), http.MethodGet, "/api/v1/fund/transactions?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

// --- Router wiring ---

func TestRouter_WriteRoutesRequireTokenWhenEnabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	router := SetupRouter(RouterDeps{FundSvc: fundSvc, TokenSvc: tokenSvc, Mode: gin.TestMode, Logger: zerolog.Nop()})

	w := doJSON(router, http.MethodPost, "/api/v1/fund/invest", `{"investor":"`+investor+`","usd_amount":"1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tokenSvc.EXPECT().Validate("good").Return(&ports.TokenClaims{Operator: "ops"}, nil)
	fundSvc.EXPECT().Invest(gomock.Any(), gomock.Any()).Return(confirmed("0x1"), nil)
	w = doJSON(router, http.MethodPost, "/api/v1/fund/invest", `{"investor":"`+investor+`","usd_amount":"1"}`,
		"Authorization", "Bearer good")
	assert.Equal(t, http.StatusCreated, w.Code)

	// Reads stay public.
	fundSvc.EXPECT().GetBalance(gomock.Any(), investor).Return(decimal.Zero, nil)
	w = doJSON(router, http.MethodGet, "/api/v1/fund/balance/"+investor, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RateLimitedWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	limiter := mocks.NewMockRateLimiter(ctrl)
	limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), int64(2), time.Minute).
		Return(&ports.RateLimitResult{Allowed: false, Limit: 2, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second).Unix()}, nil)

	router := SetupRouter(RouterDeps{
		FundSvc:     fundSvc,
		RateLimiter: limiter,
		RateLimit:   middleware.RateLimitRule{Limit: 2, Window: time.Minute},
		Mode:        gin.TestMode,
		Logger:      zerolog.Nop(),
	})

	w := doJSON(router, http.MethodPost, "/api/v1/fund/redeem", `{"investor":"`+investor+`","shares":"1"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, apperror.CodeRateLimited, decode(t, w)["error_code"])
}

func TestRouter_PrometheusAndSwagger(t *testing.T) {
	ctrl := gomock.NewController(t)
	fundSvc := mocks.NewMockFundService(ctrl)
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	router := SetupRouter(RouterDeps{
		FundSvc: fundSvc, Metrics: metrics, Gatherer: reg, Mode: gin.TestMode, Logger: zerolog.Nop(),
	})

	fundSvc.EXPECT().GetBalance(gomock.Any(), investor).Return(decimal.Zero, nil)
	doJSON(router, http.MethodGet, "/api/v1/fund/balance/"+investor, "")

	w := doJSON(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `fund_http_requests_total{method="GET",route="/api/v1/fund/balance/:investor",status="200"} 1`)

	w = doJSON(router, http.MethodGet, "/swagger/spec", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/fund/invest")
}

// --- Health ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	pg := mocks.NewMockHealthChecker(ctrl)
	chain := mocks.NewMockHealthChecker(ctrl)
	pg.EXPECT().Name().Return("postgresql").AnyTimes()
	chain.EXPECT().Name().Return("chain").AnyTimes()

	router := gin.New()
	router.GET("/health", HealthCheck(pg, chain))

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	chain.EXPECT().Ping(gomock.Any()).Return(nil)
	w := doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	pg.EXPECT().Ping(gomock.Any()).Return(nil)
	chain.EXPECT().Ping(gomock.Any()).Return(apperror.ErrNotReady("chain gateway initializing"))
	w = doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "healthy", deps["postgresql"].(map[string]interface{})["status"])
	assert.Equal(t, "unhealthy", deps["chain"].(map[string]interface{})["status"])
}
