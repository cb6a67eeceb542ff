package domain

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

// Error kinds. Every failure returned by the service layer wraps exactly one.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidMove  = errors.New("invalid move")
	ErrUnauthorized = errors.New("unauthorized")
	ErrStoreFailure = errors.New("store unavailable")
)

const (
	CodeValidation   = "validation_error"
	CodeConflict     = "conflict"
	CodeNotFound     = "not_found"
	CodeInvalidMove  = "invalid_move"
	CodeUnauthorized = "unauthorized"
	CodeStoreFailure = "store_failure"
	CodeInternal     = "internal_error"
)

// Error carries a user-facing message (and optionally a narrower code) for one
// of the error kinds above.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

func Validation(msg string) error   { return &Error{Kind: ErrValidation, Message: msg} }
func Conflict(msg string) error     { return &Error{Kind: ErrConflict, Message: msg} }
func NotFound(msg string) error     { return &Error{Kind: ErrNotFound, Message: msg} }
func InvalidMove(msg string) error  { return &Error{Kind: ErrInvalidMove, Message: msg} }
func Unauthorized(msg string) error { return &Error{Kind: ErrUnauthorized, Message: msg} }

// WithCode narrows the code reported for err while keeping its kind.
func WithCode(err error, code string) error {
	var de *Error
	if errors.As(err, &de) {
		cp := *de
		cp.Code = code
		return &cp
	}
	return &Error{Kind: kindOf(err), Code: code, Message: err.Error()}
}

// StoreFailure wraps a backend error so callers can match ErrStoreFailure
// while the cause stays inspectable.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

func kindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrInvalidMove, ErrUnauthorized, ErrStoreFailure} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns the machine-readable code for err.
func Code(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch kindOf(err) {
	case ErrValidation:
		return CodeValidation
	case ErrConflict:
		return CodeConflict
	case ErrNotFound:
		return CodeNotFound
	case ErrInvalidMove:
		return CodeInvalidMove
	case ErrUnauthorized:
		return CodeUnauthorized
	case ErrStoreFailure:
		return CodeStoreFailure
	default:
		return CodeInternal
	}
}

// Message returns text that is safe to show to an end user. Store and
// internal failures never leak their cause.
func Message(err error) string {
	switch kindOf(err) {
	case ErrStoreFailure:
		return "service temporarily unavailable"
	case nil:
		return "internal error"
	}
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return kindOf(err).Error()
}

// Describe builds the structured descriptor returned to clients.
func Describe(err error) chessdto.DomainError {
	return chessdto.DomainError{
		Code:      Code(err),
		Message:   Message(err),
		Retryable: errors.Is(err, ErrStoreFailure),
	}
}
