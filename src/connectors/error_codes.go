package connectors

import (
	"errors"
	"fmt"
)

// Exchange response codes the executor reacts to.
const (
	CodeSuccess               = 0
	CodeInsufficientBalance   = 306
	CodeInvalidPriceFormat    = 308
	CodeSysError              = 10001
	CodeUnauthorized          = 10002
	CodeIPIllegal             = 10003
	CodeTooManyRequests       = 10006
	CodeInvalidNonce          = 10007
	CodeInvalidPricePrecision = 30013
	CodeAuthFailure           = 40101
	CodeNonceWindow           = 40102
	CodeIPNotAllowed          = 40103
	CodeSelfTradePrevention   = 43012
	CodeConditionalDisabled   = 140001
)

// ExchangeErrorCodes maps exchange response codes to their names.
var ExchangeErrorCodes = map[int]string{
	CodeSuccess:               "SUCCESS",
	CodeInsufficientBalance:   "INSUFFICIENT_AVAILABLE_BALANCE",
	CodeInvalidPriceFormat:    "INVALID_PRICE",
	CodeSysError:              "SYS_ERROR",
	CodeUnauthorized:          "UNAUTHORIZED",
	CodeIPIllegal:             "IP_ILLEGAL",
	10004:                     "BAD_REQUEST",
	10005:                     "USER_TIER_INVALID",
	CodeTooManyRequests:       "TOO_MANY_REQUESTS",
	CodeInvalidNonce:          "INVALID_NONCE",
	10008:                     "METHOD_NOT_FOUND",
	20001:                     "DUPLICATE_RECORD",
	20002:                     "NEGATIVE_BALANCE",
	30003:                     "SYMBOL_NOT_FOUND",
	30005:                     "ORDERTYPE_NOT_SUPPORTED",
	30006:                     "MIN_PRICE_VIOLATED",
	30008:                     "MIN_QUANTITY_VIOLATED",
	CodeInvalidPricePrecision: "INVALID_PRICE_PRECISION",
	CodeAuthFailure:           "AUTHENTICATION_FAILURE",
	CodeNonceWindow:           "NONCE_OUT_OF_WINDOW",
	CodeIPNotAllowed:          "IP_NOT_ALLOWLISTED",
	CodeSelfTradePrevention:   "SELF_TRADE_PREVENTION",
	CodeConditionalDisabled:   "CONDITIONAL_ORDERS_DISABLED",
	50001:                     "ERR_INTERNAL",
}

// NonRetryableCodes is the static denylist consulted by the retry layer.
var NonRetryableCodes = map[int]struct{}{
	CodeAuthFailure:         {},
	CodeNonceWindow:         {},
	CodeIPNotAllowed:        {},
	CodeUnauthorized:        {},
	CodeIPIllegal:           {},
	CodeInsufficientBalance: {},
	CodeConditionalDisabled: {},
	CodeSelfTradePrevention: {},
}

// GetErrorMsg returns a human-readable name for an exchange code.
func GetErrorMsg(code int) string {
	if msg, ok := ExchangeErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_EXCHANGE_ERROR_%d", code)
}

// ErrorClass is how callers above the client must treat a failure.
type ErrorClass int

const (
	ClassRetryable ErrorClass = iota + 1
	ClassFatal
	// ClassFormat is retried with a different numeric precision.
	ClassFormat
	// ClassFallback gets exactly one attempt through the order-list endpoint.
	ClassFallback
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	case ClassFormat:
		return "format"
	case ClassFallback:
		return "fallback"
	}
	return "unknown"
}

// ClassifyCode maps an exchange response code to an ErrorClass.
func ClassifyCode(code int) ErrorClass {
	switch code {
	case CodeInvalidPriceFormat, CodeInvalidPricePrecision:
		return ClassFormat
	case CodeConditionalDisabled:
		return ClassFallback
	case CodeSysError, CodeTooManyRequests, CodeInvalidNonce, 50001:
		return ClassRetryable
	}
	// Unknown codes are fatal so a rejected order is never resent blindly.
	return ClassFatal
}

// ExchangeError is the classified form of every failure leaving the client.
type ExchangeError struct {
	Method     string
	Code       int
	HTTPStatus int
	Message    string
	Class      ErrorClass
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: exchange error %d (%s): %s", e.Method, e.Code, GetErrorMsg(e.Code), e.Message)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Method, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

func (e *ExchangeError) ErrorCode() int { return e.Code }

// Retryable reports whether the same request may succeed later.
// Format errors are retried by the client itself.
func (e *ExchangeError) Retryable() bool {
	return e.Class == ClassRetryable || e.Class == ClassFormat
}

func newCodeError(method string, code int, msg string) *ExchangeError {
	return &ExchangeError{Method: method, Code: code, Message: msg, Class: ClassifyCode(code)}
}

// AsExchangeError extracts the classified error, if any.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transient exchange failure.
// Unclassified errors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if xe, ok := AsExchangeError(err); ok {
		return xe.Retryable()
	}
	return true
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// IsAuthError reports authentication or IP allowlist failures.
func IsAuthError(err error) bool {
	xe, ok := AsExchangeError(err)
	if !ok {
		return false
	}
	switch xe.Code {
	case CodeAuthFailure, CodeUnauthorized, CodeIPNotAllowed, CodeIPIllegal:
		return true
	}
	return false
}

// ErrorCodeOf returns the exchange code carried by err or 0.
func ErrorCodeOf(err error) int {
	if xe, ok := AsExchangeError(err); ok {
		return xe.Code
	}
	return 0
}
