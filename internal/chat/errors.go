package chat

import (
	"errors"
	"fmt"
)

// Kind is the category of a chat error.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindForbidden  Kind = "FORBIDDEN"
	KindValidation Kind = "VALIDATION"
	KindInternal   Kind = "INTERNAL"
)

// Error is returned by every Service operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrNotFound) holds
// for any not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrValidation = &Error{Kind: KindValidation}
)

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err. Internal failures are
// never exposed.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

func notFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
