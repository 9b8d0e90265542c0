// Package errors defines the typed errors the API answers with. Every error
// carries the HTTP status it maps to, so handlers never switch on error
// classes to pick a code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed domain error. Err holds the wrapped cause and stays out
// of the serialized form.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an error with its code and HTTP mapping.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap keeps err as the cause behind a typed error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Clone copies a sentinel so a call site can override the message without
// mutating the shared value.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	out := *err
	if message != "" {
		out.Message = message
	}
	return &out
}

// FromError normalises any error into an *Error. Untyped errors become 500s.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// Schedule document lifecycle.
	ErrDocumentInvalid    = New("DOCUMENT_INVALID", http.StatusUnprocessableEntity, "schedule document failed validation")
	ErrCyclicReference    = New("CYCLIC_REFERENCE", http.StatusUnprocessableEntity, "cyclic playlist reference")
	ErrMigration          = New("MIGRATION_ERROR", http.StatusUnprocessableEntity, "legacy document cannot be migrated")
	ErrNoEligibleScreen   = New("NO_ELIGIBLE_SCREEN", http.StatusConflict, "no screen is currently eligible")
	ErrInvariantViolation = New("INVARIANT_VIOLATION", http.StatusInternalServerError, "active document violates a walk invariant")
)
