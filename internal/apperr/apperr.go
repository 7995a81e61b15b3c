// Package apperr defines the stable error codes returned at the HTTP boundary
// and the mapping from service sentinel errors to those codes.
package apperr

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error code. Codes never change once a
// client may depend on them.
type Code string

const (
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInsufficientRole Code = "INSUFFICIENT_ROLE"
	CodeNotAMember       Code = "NOT_A_MEMBER"
	CodeValidation       Code = "VALIDATION"
	CodeConflict         Code = "CONFLICT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeCryptoFailure    Code = "CRYPTO_FAILURE"
	CodeInvalidLogin     Code = "INVALID_LOGIN"
	CodeInvalidRefresh   Code = "INVALID_REFRESH"
	CodeExpiredRefresh   Code = "EXPIRED_REFRESH"
	CodeInvalidMFA       Code = "INVALID_MFA"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL"
)

// Error carries a stable code plus a safe, client-facing message.
// The wrapped cause (if any) is for internal logging only.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// New returns an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an Error with the given code wrapping cause. The cause is never
// serialized to clients.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf returns the code carried by err, or CodeInternal for unclassified
// errors (store failures, unexpected conditions).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its HTTP status. Unknown codes map to 500.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthenticated, CodeInvalidLogin, CodeInvalidRefresh, CodeExpiredRefresh, CodeInvalidMFA:
		return http.StatusUnauthorized
	case CodeForbidden, CodeInsufficientRole, CodeNotAMember:
		return http.StatusForbidden
	case CodeValidation, CodeCryptoFailure:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
