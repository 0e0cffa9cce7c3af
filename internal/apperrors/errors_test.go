package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus_MapsServiceErrorsAndFallsBackToInternal(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(RequestNotFound("r1")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(PaymentsPaused("LOW_BALANCE")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain error")))
}

func TestCode_ExtractsCodeFromWrappedError(t *testing.T) {
	base := ChainRejected("bad_nonce", errors.New("rpc said no"))
	wrapped := errors.New("context: " + base.Error())
	assert.Equal(t, ErrCodeChainRejected, Code(base))
	assert.Equal(t, ErrorCode(""), Code(wrapped), "a plain string-wrapped error must not be misidentified")
}

func TestServiceError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	se := Wrap(ErrCodeInternal, "boom", http.StatusInternalServerError, cause)
	assert.True(t, errors.Is(se, cause))
}

func TestWithDetails_Chains(t *testing.T) {
	se := New(ErrCodeInvalidInput, "bad", http.StatusBadRequest).
		WithDetails("field", "amount").
		WithDetails("reason", "negative")
	assert.Equal(t, "amount", se.Details["field"])
	assert.Equal(t, "negative", se.Details["reason"])
}
