// Package apperr carries the error kinds the wallet engine reports to callers.
// Every error has a stable machine-readable kind and a message that is safe to
// show to a client.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindConflict            Kind = "CONFLICT"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindUnavailable         Kind = "UNAVAILABLE"
	KindInternal            Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	// Set for KindInsufficientBalance only, formatted to 4 decimal places.
	Available string
	Requested string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed without
// any change in underlying state.
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindUnavailable
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func NotFoundID(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s with id '%s' not found", resource, id)}
}

func InsufficientBalance(available, requested string) *Error {
	return &Error{
		Kind:      KindInsufficientBalance,
		Message:   fmt.Sprintf("Insufficient balance. Available: %s, Requested: %s", available, requested),
		Available: available,
		Requested: requested,
	}
}

func IdempotencyConflict(key string, err error) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("Idempotency key '%s' already used", key), Err: err}
}

func Conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Unavailable(msg string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "An unexpected error occurred", Err: err}
}

// KindOf returns the kind of err, or KindInternal when err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
