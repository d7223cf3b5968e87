package scheduling

import "time"

// Outbox event types.
const (
	EventAppointmentBooked    = "appointment.booked.v1"
	EventAppointmentCancelled = "appointment.cancelled.v1"
	EventAppointmentConfirmed = "appointment.confirmed.v1"
	EventAppointmentCompleted = "appointment.completed.v1"
	EventConsentRecorded      = "appointment.consent_recorded.v1"
	EventRescheduleProposed   = "reschedule.proposed.v1"
	EventRescheduleAccepted   = "reschedule.accepted.v1"
	EventRescheduleRejected   = "reschedule.rejected.v1"
	EventRescheduleExpired    = "reschedule.expired.v1"
	EventRescheduleCancelled  = "reschedule.cancelled.v1"
)

// Event is a domain event written to the outbox in the same transaction as the change.
type Event struct {
	Type          string
	AppointmentID string
	Payload       EventPayload
}

// EventPayload is the JSON body published downstream.
type EventPayload struct {
	AppointmentID string      `json:"appointment_id"`
	CaseID        string      `json:"case_id"`
	StaffID       string      `json:"staff_id"`
	ClientUserID  string      `json:"client_user_id"`
	Status        Status      `json:"status"`
	StartAt       time.Time   `json:"start_at"`
	EndAt         time.Time   `json:"end_at"`
	Timezone      string      `json:"timezone"`
	ActorUserID   string      `json:"actor_user_id,omitempty"`
	ProposalID    string      `json:"proposal_id,omitempty"`
	InitiatedBy   Side        `json:"initiated_by,omitempty"`
	Options       []time.Time `json:"options,omitempty"`
	ChosenOption  int         `json:"chosen_option,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func appointmentEvent(eventType string, appt *Appointment, actor string, now time.Time) Event {
	return Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		Payload: EventPayload{
			AppointmentID: appt.ID,
			CaseID:        appt.CaseID,
			StaffID:       appt.StaffID,
			ClientUserID:  appt.ClientUserID,
			Status:        appt.Status,
			StartAt:       appt.StartAt,
			EndAt:         appt.EndAt,
			Timezone:      appt.Timezone,
			ActorUserID:   actor,
			OccurredAt:    now,
		},
	}
}

func proposalEvent(eventType string, appt *Appointment, p *RescheduleProposal, actor string, now time.Time) Event {
	evt := appointmentEvent(eventType, appt, actor, now)
	evt.Payload.ProposalID = p.ID
	evt.Payload.InitiatedBy = p.InitiatedBy
	evt.Payload.ChosenOption = p.ChosenOption
	evt.Payload.Reason = p.RejectionReason
	if p.Status == ProposalPending {
		expires := p.ExpiresAt
		evt.Payload.ExpiresAt = &expires
		evt.Payload.Options = append([]time.Time(nil), p.Options[:]...)
	}
	return evt
}
