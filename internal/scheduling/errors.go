package scheduling

import (
	"errors"
	"fmt"
)

// Kind is the stable category of a scheduling failure. Transports map it to status codes.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
)

// Error is a domain failure with a stable kind and a human readable detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

func newError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func validationf(format string, args ...any) error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// KindOf returns the kind carried by err, or "" for infrastructure failures.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

var (
	// ErrCaseNotFound is returned when the referenced case does not exist.
	ErrCaseNotFound = newError(KindNotFound, "case not found")
	// ErrAppointmentNotFound is returned when the referenced appointment does not exist.
	ErrAppointmentNotFound = newError(KindNotFound, "appointment not found")
	// ErrProposalNotFound is returned when the referenced reschedule proposal does not exist.
	ErrProposalNotFound = newError(KindNotFound, "reschedule proposal not found")
	// ErrStaffNotFound is returned when the staff member is unknown to the directory.
	ErrStaffNotFound = newError(KindNotFound, "staff member not found")

	ErrUnauthenticated = newError(KindForbidden, "caller is not authenticated")
	ErrForbidden       = newError(KindForbidden, "caller may not act on this appointment")
	// ErrNotCounterparty is returned when the initiator tries to answer their own proposal.
	ErrNotCounterparty = newError(KindForbidden, "only the other party may respond to this proposal")

	ErrInvalidOptionIndex = newError(KindValidation, "option index must be 1, 2 or 3")

	ErrActiveAppointmentExists = newError(KindConflict, "case already has an active appointment")
	ErrNoStaffAvailable        = newError(KindConflict, "no staff available")
	ErrSchedulingConflict      = newError(KindConflict, "scheduling conflict")
	ErrTerminalState           = newError(KindConflict, "appointment is already in a terminal state")
	ErrInvalidTransition       = newError(KindConflict, "appointment status does not allow this action")
	ErrNotReschedulable        = newError(KindConflict, "appointment cannot be rescheduled in its current state")
	ErrPendingProposalExists   = newError(KindConflict, "a reschedule proposal is already pending")
	ErrRescheduleLimitReached  = newError(KindConflict, "reschedule limit reached")
	ErrAllOptionsConflict      = newError(KindConflict, "all options conflict")
	ErrProposalNotPending      = newError(KindConflict, "proposal is no longer pending")
	ErrProposalExpired         = newError(KindConflict, "proposal expired")
	ErrChosenOptionConflicts   = newError(KindConflict, "chosen option conflicts")
)
