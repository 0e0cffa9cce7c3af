// Package apperrors provides the classified error taxonomy for the payment
// orchestration core. Every failure the core can raise is a *ServiceError so
// boundary adapters can map it to an HTTP status without inspecting strings.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a classified failure mode.
type ErrorCode string

const (
	ErrCodeRequestNotFound          ErrorCode = "REQ_NOT_FOUND"
	ErrCodePaymentsPaused           ErrorCode = "PAYMENTS_PAUSED"
	ErrCodeSignerUnavailable        ErrorCode = "SIGNER_UNAVAILABLE"
	ErrCodeSessionInvalid           ErrorCode = "SESSION_INVALID"
	ErrCodeSessionNotRefreshable    ErrorCode = "SESSION_NOT_REFRESHABLE"
	ErrCodeChainRejected            ErrorCode = "CHAIN_REJECTED"
	ErrCodeChainTimeout             ErrorCode = "CHAIN_TIMEOUT"
	ErrCodeFacilitatorUnavailable   ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeFacilitatorSignatureBad  ErrorCode = "FACILITATOR_SIGNATURE_INVALID"
	ErrCodeDuplicatePayment         ErrorCode = "DUPLICATE_PAYMENT"
	ErrCodeRepositoryTransient      ErrorCode = "REPOSITORY_TRANSIENT"
	ErrCodeInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrCodeUnknownTransaction       ErrorCode = "UNKNOWN_TRANSACTION"
	ErrCodeInternal                 ErrorCode = "INTERNAL"
)

// ServiceError is a structured error with a code, message, HTTP mapping, and
// optional structured details plus a wrapped cause.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured detail and returns the receiver for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap creates a ServiceError around an underlying cause.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// RequestNotFound — an unknown PremiumRequest id.
func RequestNotFound(requestID string) *ServiceError {
	return New(ErrCodeRequestNotFound, "premium request not found", http.StatusNotFound).
		WithDetails("requestId", requestID)
}

// PaymentsPaused — the balance gate is closed.
func PaymentsPaused(reason string) *ServiceError {
	return New(ErrCodePaymentsPaused, "payments are paused", http.StatusServiceUnavailable).
		WithDetails("pauseReason", reason)
}

// SignerUnavailable — no custodial signer configured.
func SignerUnavailable() *ServiceError {
	return New(ErrCodeSignerUnavailable, "signer is not configured", http.StatusInternalServerError)
}

// SessionInvalid — expired, exhausted, or unknown session capability.
func SessionInvalid(sessionID, reason string) *ServiceError {
	return New(ErrCodeSessionInvalid, "session capability is invalid", http.StatusUnauthorized).
		WithDetails("sessionId", sessionID).
		WithDetails("reason", reason)
}

// SessionNotRefreshable — refresh attempted on a non-EXPIRED session.
func SessionNotRefreshable(sessionID string) *ServiceError {
	return New(ErrCodeSessionNotRefreshable, "session is not refreshable", http.StatusConflict).
		WithDetails("sessionId", sessionID)
}

// ChainRejected — the chain RPC returned a hard error.
func ChainRejected(code string, err error) *ServiceError {
	return Wrap(ErrCodeChainRejected, "chain rejected the transaction", http.StatusBadGateway, err).
		WithDetails("chainCode", code)
}

// ChainTimeout — confirmation deadline exceeded.
func ChainTimeout(txHash string) *ServiceError {
	return New(ErrCodeChainTimeout, "chain confirmation timed out", http.StatusGatewayTimeout).
		WithDetails("txHash", txHash)
}

// FacilitatorUnavailable — verification submit failed; never
// propagated past the Payment Executor once the chain transaction confirmed.
func FacilitatorUnavailable(err error) *ServiceError {
	return Wrap(ErrCodeFacilitatorUnavailable, "facilitator unavailable", http.StatusBadGateway, err)
}

// FacilitatorSignatureInvalid — HMAC mismatch on inbound callback.
func FacilitatorSignatureInvalid() *ServiceError {
	return New(ErrCodeFacilitatorSignatureBad, "facilitator signature is invalid", http.StatusUnauthorized)
}

// DuplicatePayment — txHash uniqueness constraint tripped.
func DuplicatePayment(txHash string) *ServiceError {
	return New(ErrCodeDuplicatePayment, "payment already recorded", http.StatusConflict).
		WithDetails("txHash", txHash)
}

// RepositoryTransient — retryable repository conflict.
func RepositoryTransient(operation string, err error) *ServiceError {
	return Wrap(ErrCodeRepositoryTransient, "transient repository error", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// InvalidInput — malformed request body or parameter.
func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// UnknownTransaction — facilitator callback names a txHash with no Payment row.
func UnknownTransaction(txHash string) *ServiceError {
	return New(ErrCodeUnknownTransaction, "unknown transaction", http.StatusNotFound).
		WithDetails("txHash", txHash)
}

// Internal wraps an unexpected failure that does not have a dedicated code.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError reports whether err is (or wraps) a *ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// As extracts a *ServiceError from an error chain, or nil.
func As(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the HTTP status code to surface for err.
func HTTPStatus(err error) int {
	if se := As(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Code returns the ErrorCode for err, or empty string if err is not a ServiceError.
func Code(err error) ErrorCode {
	if se := As(err); se != nil {
		return se.Code
	}
	return ""
}
