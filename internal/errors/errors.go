package errors

import (
	"errors"
)

type Code string

// Codes surfaced to callers. Cryptographic and storage-format codes are never
// recovered automatically.
const (
	CodeKeyFormat           Code = "key_format"
	CodeUnsupportedKeyType  Code = "unsupported_key_type"
	CodeSigning             Code = "signing"
	CodeNonceRetryExhausted Code = "nonce_retry_exhausted"
	CodeMissingClaim        Code = "missing_claim"
)

// Codes recovered by the session layer with at most one re-authentication.
const (
	CodeRefreshInvalid Code = "refresh_invalid"
	CodeUnauthorized   Code = "unauthorized"
)

const (
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeLoginFailed        Code = "login_failed"
	CodeInvalidResponse    Code = "invalid_response"
)

var ErrNoSession = errors.New("dpop-client: no active session")

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Code == code {
			return true
		}
		err = typed.Err
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var typed *Error
	if !errors.As(err, &typed) {
		return "", false
	}
	return typed.Code, true
}

// IsRecoverable reports whether the session layer may recover from err by
// re-authenticating.
func IsRecoverable(err error) bool {
	return IsCode(err, CodeRefreshInvalid) || IsCode(err, CodeUnauthorized)
}
