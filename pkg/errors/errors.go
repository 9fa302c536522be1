// Package errors carries a stable, client-facing code on every failure the
// wallet API can return.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Ledger failures.
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeDuplicateReference Code = "DUPLICATE_REFERENCE"
)

// Metadata describes how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus int
	Retryable  bool
	// Fallback is the client message when the error's own text stays private.
	Fallback string
}

// Public reports whether the error's message and details may reach the client.
// Server-side failures only ever expose the fallback text.
func (m Metadata) Public() bool {
	return m.HTTPStatus < http.StatusInternalServerError
}

var catalog = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed"},
	CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required"},
	CodeForbidden:     {http.StatusForbidden, false, "access denied"},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found"},
	CodeConflict:      {http.StatusConflict, false, "conflict detected"},
	CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed"},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused"},
	CodeRateLimit:     {http.StatusTooManyRequests, true, "rate limit exceeded"},
	CodeInternal:      {http.StatusInternalServerError, true, "internal server error"},
	CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable"},

	CodeInsufficientFunds:  {http.StatusBadRequest, false, "insufficient funds"},
	CodeInvalidAmount:      {http.StatusBadRequest, false, "invalid amount"},
	CodeInvalidState:       {http.StatusConflict, false, "invalid state transition"},
	CodeDuplicateReference: {http.StatusConflict, false, "duplicate external reference"},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches structured context (field names, balances) for the client.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the outermost coded error in err's chain has code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Retryable reports whether a client may safely repeat the failed request.
func Retryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).Retryable
	}
	return MetadataFor(typed.code).Retryable
}
