package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Clients switch on these, never on messages.
const (
	CodeChainSubmission   = "CHAIN_001"
	CodeChainConfirmation = "CHAIN_002"
	CodeLedgerWrite       = "LEDGER_001"
	CodeCacheUnavailable  = "CACHE_001"
	CodeInternal          = "SYS_001"
	CodeNotReady          = "SYS_002"
	CodeValidation        = "VAL_001"
	CodeUnauthorized      = "AUTH_001"
	CodeRateLimited       = "RATE_001"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is, or wraps, an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// ---- Chain (CHAIN) ----

// ErrChainSubmission is returned when the chain rejected a request before any
// transaction was confirmed: bad input, signer failure, RPC failure. Read-only
// contract calls that fail use the same code.
func ErrChainSubmission(err error) *AppError {
	return Wrap(CodeChainSubmission, "Chain request failed", http.StatusBadGateway, err)
}

// ErrChainConfirmation is returned when a transaction was sent but reverted or
// was not confirmed in time. The chain state is indeterminate to the caller.
func ErrChainConfirmation(reason string, err error) *AppError {
	return Wrap(CodeChainConfirmation, "Transaction not confirmed: "+reason, http.StatusGatewayTimeout, err)
}

// ---- Ledger (LEDGER) ----

// ErrLedgerWrite reports a transaction that is final on-chain but missing from
// the ledger. It needs manual reconciliation.
func ErrLedgerWrite(txHash string, err error) *AppError {
	e := Wrap(CodeLedgerWrite, "Transaction confirmed on-chain but ledger write failed", http.StatusInternalServerError, err)
	e.Details = map[string]any{"transaction_hash": txHash}
	return e
}

// ---- Cache (CACHE) ----

func ErrCacheUnavailable(err error) *AppError {
	return Wrap(CodeCacheUnavailable, "Metrics cache unavailable", http.StatusServiceUnavailable, err)
}

// ---- System & Infrastructure (SYS) ----

// ErrNotReady is returned for requests that arrive before the chain gateway
// finished initializing, or after it failed to.
func ErrNotReady(reason string) *AppError {
	return New(CodeNotReady, "Service not ready: "+reason, http.StatusServiceUnavailable)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ---- Request (VAL / AUTH / RATE) ----

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrInvalidToken() *AppError {
	return New(CodeUnauthorized, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}
