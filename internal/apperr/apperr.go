// Package apperr defines the error taxonomy shared by every event handler.
// Each kind carries exactly one user-facing reason string; callers use
// errors.As / Is to branch on the kind.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPermission
	KindNotFound
	KindConflict
	KindDenied
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDenied:
		return "denied"
	default:
		return "internal"
	}
}

// InternalMessage is the only reason surfaced for collaborator failures.
const InternalMessage = "internal server error"

// Error is an expected, recoverable per-call outcome.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is matches on Kind so that errors.Is(err, apperr.ErrPermission) works for
// any permission error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrPermission = &Error{Kind: KindPermission}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrDenied     = &Error{Kind: KindDenied}
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Permission(msg string) error { return &Error{Kind: KindPermission, Msg: msg} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) error { return &Error{Kind: KindConflict, Msg: msg} }

// Denied is used for abuse-guard rejections that must not leak a diagnostic.
func Denied(msg string) error { return &Error{Kind: KindDenied, Msg: msg} }

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Public returns the reason string that may be shown to the caller.
// Anything that is not an *Error collapses to InternalMessage.
func Public(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return InternalMessage
}
