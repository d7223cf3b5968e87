package scheduling

import (
	"context"
	"time"
)

// Store persists appointments, proposals and their outbox events.
// Methods called inside WithTx run in the same unit of work.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockStaff serialises bookings for one staff member until the transaction ends.
	LockStaff(ctx context.Context, staffID string) error

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	UpdateAppointment(ctx context.Context, appt *Appointment) error
	FindActiveAppointmentForCase(ctx context.Context, caseID string) (*Appointment, error)
	// ListStaffAppointments returns non-cancelled appointments of staffID overlapping [from, to].
	ListStaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)

	CreateProposal(ctx context.Context, p *RescheduleProposal) error
	GetProposal(ctx context.Context, id string) (*RescheduleProposal, error)
	UpdateProposal(ctx context.Context, p *RescheduleProposal) error
	FindPendingProposal(ctx context.Context, appointmentID string) (*RescheduleProposal, error)
	CountProposalsBySide(ctx context.Context, appointmentID string, side Side) (int, error)
	ListProposals(ctx context.Context, appointmentID string) ([]RescheduleProposal, error)
	ListExpiredPending(ctx context.Context, asOf time.Time, limit int) ([]RescheduleProposal, error)

	RecordEvent(ctx context.Context, evt Event) error
}

// CaseStore is the case-management collaborator.
type CaseStore interface {
	GetCase(ctx context.Context, caseID string) (*Case, error)
	SetInterviewLocked(ctx context.Context, caseID string, locked bool) error
	TouchActivity(ctx context.Context, caseID string) error
}

// StaffDirectory resolves staff members who can take consultations.
type StaffDirectory interface {
	// FindEligibleStaff returns nil when nobody qualifies.
	FindEligibleStaff(ctx context.Context, criteria StaffCriteria) (*StaffRef, error)
	GetStaff(ctx context.Context, staffID string) (*StaffRef, error)
}

// CalendarProvider reads busy time from an external calendar. It may fail.
type CalendarProvider interface {
	GetBusySlots(ctx context.Context, staffEmail string, from, to time.Time) ([]BusySlot, error)
}

// AuditEntry is one audit record emitted after a successful state change.
type AuditEntry struct {
	Category   string
	Action     string
	TargetType string
	TargetID   string
	ActorID    string
	Details    map[string]any
}

// AuditSink records audit entries. Failures never reach the caller.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditRecord is a persisted audit entry.
type AuditRecord struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditLog reads back audit entries for a set of targets, newest first.
type AuditLog interface {
	ListForTargets(ctx context.Context, targetIDs []string, limit int) ([]AuditRecord, error)
}

type nopAuditSink struct{}

func (nopAuditSink) Record(context.Context, AuditEntry) {}
