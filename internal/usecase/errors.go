package usecase

import "fmt"

type ErrorCode string

const (
	ErrorValidation       ErrorCode = "validation_error"
	ErrorStoreUnavailable ErrorCode = "store_unavailable"
	ErrorAuthentication   ErrorCode = "authentication_error"
	ErrorModelUnavailable ErrorCode = "model_unavailable"
	ErrorRateLimited      ErrorCode = "rate_limited"
	ErrorQuotaExhausted   ErrorCode = "quota_exhausted"
	ErrorProvider         ErrorCode = "provider_error"
	ErrorInternal         ErrorCode = "internal_error"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
