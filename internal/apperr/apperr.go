// Package apperr defines the error taxonomy shared by every service.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindForbidden           Kind = "Forbidden"
	KindConflict            Kind = "Conflict"
	KindInvalidState        Kind = "InvalidState"
	KindInvalid             Kind = "Invalid"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
)

// Reason codes that clients can switch on.
const (
	ReasonAlreadyResolved = "AlreadyResolved"
	ReasonAlreadyAnswered = "AlreadyAnswered"
	ReasonQuizNotActive   = "QuizNotActive"
	ReasonMeetingEnded    = "MeetingEnded"
	ReasonNotStarted      = "NotStarted"
	ReasonApprovalNeeded  = "ApprovalRequired"
	ReasonNotOwner        = "NotOwner"
	ReasonWrongRole       = "WrongRole"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and, when set on target, the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrInvalid             = &Error{Kind: KindInvalid}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrAlreadyResolved     = &Error{Kind: KindConflict, Reason: ReasonAlreadyResolved}
	ErrAlreadyAnswered     = &Error{Kind: KindConflict, Reason: ReasonAlreadyAnswered}
)

// NotFound returns a NotFound error for the named resource.
func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

// Forbidden returns a Forbidden error.
func Forbidden(reason, msg string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: msg}
}

// Conflict returns a Conflict error.
func Conflict(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

// InvalidState returns an InvalidState error.
func InvalidState(reason, msg string) *Error {
	return &Error{Kind: KindInvalidState, Reason: reason, Message: msg}
}

// Invalid returns an input validation error.
func Invalid(msg string) *Error {
	return &Error{Kind: KindInvalid, Message: msg}
}

// Upstream wraps a collaborator failure.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, Err: err}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason code of err, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
