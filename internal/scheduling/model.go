package scheduling

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled    Status = "scheduled"
	StatusConfirmed    Status = "confirmed"
	StatusRescheduling Status = "rescheduling"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// IsActive reports whether the status blocks another booking on the same case.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusRescheduling
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment is a booked consultation between a case owner and a staff member.
type Appointment struct {
	ID           string `json:"id"`
	CaseID       string `json:"case_id"`
	ClientUserID string `json:"client_user_id"`
	StaffID      string `json:"staff_id"`

	StartAt                time.Time `json:"start_at"`
	EndAt                  time.Time `json:"end_at"`
	Timezone               string    `json:"timezone"`
	OffsetMinutes          int       `json:"offset_minutes"`
	OffsetResolutionFailed bool      `json:"offset_resolution_failed"`

	Status             Status     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	RecordingConsent   bool       `json:"recording_consent"`
	ConsentGivenAt     *time.Time `json:"consent_given_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// DurationMinutes returns the booked length in whole minutes.
func (a Appointment) DurationMinutes() int {
	return int(a.EndAt.Sub(a.StartAt) / time.Minute)
}

// Side identifies which party initiated a reschedule proposal.
type Side string

const (
	SideClient Side = "client"
	SideStaff  Side = "staff"
)

// ParseSide validates a side name.
func ParseSide(raw string) (Side, bool) {
	switch s := Side(strings.ToLower(strings.TrimSpace(raw))); s {
	case SideClient, SideStaff:
		return s, true
	default:
		return "", false
	}
}

// Opposite returns the side expected to respond.
func (s Side) Opposite() Side {
	if s == SideClient {
		return SideStaff
	}
	return SideClient
}

// ProposalStatus is the lifecycle state of a reschedule proposal.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
	ProposalCancelled ProposalStatus = "cancelled"
)

// OptionCount is the fixed number of alternatives in every proposal.
const OptionCount = 3

// RescheduleProposal offers three alternative start times for an appointment.
type RescheduleProposal struct {
	ID              string                 `json:"id"`
	AppointmentID   string                 `json:"appointment_id"`
	InitiatedBy     Side                   `json:"initiated_by"`
	InitiatorUserID string                 `json:"initiator_user_id"`
	Options         [OptionCount]time.Time `json:"options"`
	DurationMinutes int                    `json:"duration_minutes"`
	Timezone        string                 `json:"timezone"`
	Status          ProposalStatus         `json:"status"`
	ChosenOption    int                    `json:"chosen_option,omitempty"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	ResponderUserID string                 `json:"responder_user_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
	RespondedAt     *time.Time             `json:"responded_at,omitempty"`
}

// Option returns the start time for a 1-based option index.
func (p RescheduleProposal) Option(index int) (time.Time, bool) {
	if index < 1 || index > OptionCount {
		return time.Time{}, false
	}
	return p.Options[index-1], true
}

// IsExpired reports whether a pending proposal has passed its expiry at now.
func (p RescheduleProposal) IsExpired(now time.Time) bool {
	return p.Status == ProposalPending && now.After(p.ExpiresAt)
}

// EffectiveStatus reports expired for stale pending proposals without persisting anything.
func (p RescheduleProposal) EffectiveStatus(now time.Time) ProposalStatus {
	if p.IsExpired(now) {
		return ProposalExpired
	}
	return p.Status
}

// Case is the slice of case state scheduling needs from the case store.
type Case struct {
	ID              string
	OwnerUserID     string
	OwnerEmail      string
	OwnerName       string
	Status          string
	InterviewLocked bool
}

// StaffRef identifies a staff member that can take consultations.
type StaffRef struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// StaffCriteria narrows the eligible staff lookup.
type StaffCriteria struct {
	CaseID string
	Start  time.Time
	End    time.Time
}

// Busy slot sources.
const (
	SourceAppointment      = "appointment"
	SourceExternalCalendar = "external_calendar"
)

// BusySlot is an interval where a staff member is unavailable.
type BusySlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
	Reason string    `json:"reason,omitempty"`
}

// Availability is the aggregated busy view for one staff member.
type Availability struct {
	StaffID   string     `json:"staff_id"`
	From      time.Time  `json:"from"`
	To        time.Time  `json:"to"`
	BusySlots []BusySlot `json:"busy_slots"`
	Warnings  []string   `json:"warnings"`
}

// AppointmentFilter selects appointments for history views. Empty fields are ignored.
type AppointmentFilter struct {
	CaseID       string
	StaffID      string
	ClientUserID string
	Limit        int
}
