package connectors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCode(t *testing.T) {
	assert.Equal(t, ClassFormat, ClassifyCode(CodeInvalidPriceFormat))
	assert.Equal(t, ClassFallback, ClassifyCode(CodeConditionalDisabled))
	assert.Equal(t, ClassFatal, ClassifyCode(CodeAuthFailure))
	assert.Equal(t, ClassRetryable, ClassifyCode(CodeTooManyRequests))
	assert.Equal(t, ClassFatal, ClassifyCode(99999))
}

func TestIsRetryableAndFatal(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", newCodeError(methodCreateOrder, CodeAuthFailure, "bad key"))
	assert.True(t, IsFatal(wrapped))
	assert.True(t, IsAuthError(wrapped))
	assert.Equal(t, CodeAuthFailure, ErrorCodeOf(wrapped))

	assert.True(t, IsRetryable(newCodeError(methodOpenOrders, CodeSysError, "")))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsFatal(nil))
}

func TestGetErrorMsg(t *testing.T) {
	assert.Equal(t, "AUTHENTICATION_FAILURE", GetErrorMsg(CodeAuthFailure))
	assert.Equal(t, "UNKNOWN_EXCHANGE_ERROR_1", GetErrorMsg(1))
}
