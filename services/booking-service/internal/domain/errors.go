package domain

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindBadRequest       Kind = "BadRequest"
	KindConflict         Kind = "Conflict"
	KindNotFound         Kind = "NotFound"
	KindForbidden        Kind = "Forbidden"
	KindAlreadyCancelled Kind = "AlreadyCancelled"
	KindAlreadyPaid      Kind = "AlreadyPaid"
	KindPolicyViolation  Kind = "PolicyViolation"
)

// Error is a classified failure reported verbatim to the caller.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindAlreadyCancelled, KindAlreadyPaid:
		return http.StatusConflict
	case KindPolicyViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newError(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

// BadRequest builds an ad-hoc validation error.
func BadRequest(msg string) *Error { return newError(KindBadRequest, msg) }

var (
	ErrMissingRoomDate  = newError(KindBadRequest, "please provide room and date")
	ErrUnknownRoom      = newError(KindBadRequest, "unknown room")
	ErrInvalidTimeRange = newError(KindBadRequest, "end time must be after start time")
	ErrPastDate         = newError(KindBadRequest, "cannot book for past dates")
	ErrOutsideHours     = newError(KindBadRequest, "requested time is outside opening hours")
	ErrTooShort         = newError(KindBadRequest, "booking is shorter than the minimum duration")
	ErrNoUser           = newError(KindBadRequest, "user id is required")
	ErrConflict         = newError(KindConflict, "room already booked for this time slot")
	ErrNotFound         = newError(KindNotFound, "booking not found")
	ErrForbidden        = newError(KindForbidden, "not authorized to access this booking")
	ErrAlreadyCancelled = newError(KindAlreadyCancelled, "booking is already cancelled")
	ErrAlreadyPaid      = newError(KindAlreadyPaid, "booking is already paid")
	ErrPolicyViolation  = newError(KindPolicyViolation, "must cancel at least 24 hours in advance")
)

// ErrUnchanged is returned by a Mutation that decides nothing needs writing.
var ErrUnchanged = errors.New("booking unchanged")

// KindOf extracts the error kind, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
