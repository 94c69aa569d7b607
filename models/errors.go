package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies every error the treasury surfaces to callers.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindInvalidState
	KindDuplicateVote
	KindConflict
	KindInsufficientBalance
	KindProvider
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindInvalidState:
		return "InvalidStateError"
	case KindDuplicateVote:
		return "DuplicateVoteError"
	case KindConflict:
		return "ConflictError"
	case KindInsufficientBalance:
		return "InsufficientBalanceError"
	case KindProvider:
		return "ProviderError"
	default:
		return "InternalError"
	}
}

// Error is a classified treasury error.
type Error struct {
	Kind    ErrorKind
	Message string
	Details string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause supports github.com/pkg/errors.Cause.
func (e *Error) Cause() error {
	return e.cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// against errors built with NewError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrDuplicateVote       = &Error{Kind: KindDuplicateVote}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrProvider            = &Error{Kind: KindProvider}
)

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies cause under kind.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithDetails attaches a caller-facing detail string.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
