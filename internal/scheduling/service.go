package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/immigration-casework/internal/caller"
)

const historyLimit = 100

// Service books, cancels and otherwise moves appointments through their lifecycle.
type Service struct {
	store    Store
	cases    CaseStore
	staff    StaffDirectory
	detector *ConflictDetector
	cfg      settings
}

// NewService constructs the booking service.
func NewService(store Store, cases CaseStore, staff StaffDirectory, opts ...Option) *Service {
	if store == nil {
		panic("scheduling: store required")
	}
	if cases == nil {
		panic("scheduling: case store required")
	}
	if staff == nil {
		panic("scheduling: staff directory required")
	}
	return &Service{
		store:    store,
		cases:    cases,
		staff:    staff,
		detector: NewConflictDetector(store),
		cfg:      newSettings(opts),
	}
}

// CreateAppointmentRequest is the input of CreateAppointment.
type CreateAppointmentRequest struct {
	CaseID          string    `json:"case_id"`
	PreferredStart  time.Time `json:"preferred_start"`
	DurationMinutes int       `json:"duration_minutes"`
	Timezone        string    `json:"timezone"`
	Notes           string    `json:"notes"`
}

// Validate checks request shape only. Zero duration must be defaulted before calling.
func (r CreateAppointmentRequest) Validate() error {
	if strings.TrimSpace(r.CaseID) == "" {
		return validationf("case_id is required")
	}
	if r.PreferredStart.IsZero() {
		return validationf("preferred_start is required")
	}
	if r.DurationMinutes <= 0 || r.DurationMinutes > maxDurationMinutes {
		return validationf("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	return nil
}

// CreateAppointment books a consultation for a case with the first eligible staff member.
func (s *Service) CreateAppointment(ctx context.Context, req CreateAppointmentRequest, who caller.Caller) (created *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.create_appointment")
	defer span.End()
	defer func() { s.cfg.finish(span, "create_appointment", err) }()
	span.SetAttributes(attribute.String("casework.case_id", req.CaseID))

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.cfg.defaultDuration
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c, err := loadCase(ctx, s.cases, req.CaseID)
	if err != nil {
		return nil, err
	}
	if !who.IsOwnerOf(c.OwnerUserID) && !who.IsStaff() {
		return nil, ErrForbidden
	}

	now := s.cfg.clock.Now()
	start := req.PreferredStart.UTC()
	end := start.Add(time.Duration(req.DurationMinutes) * time.Minute)

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		active, err := s.store.FindActiveAppointmentForCase(txCtx, c.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return ErrActiveAppointmentExists
		}

		staff, err := s.staff.FindEligibleStaff(txCtx, StaffCriteria{CaseID: c.ID, Start: start, End: end})
		if err != nil {
			return fmt.Errorf("scheduling: find eligible staff: %w", err)
		}
		if staff == nil {
			return ErrNoStaffAvailable
		}

		if err := s.store.LockStaff(txCtx, staff.ID); err != nil {
			return err
		}
		windowStart, windowEnd := padded(start, req.DurationMinutes, s.cfg.buffer)
		conflict, err := s.detector.HasConflict(txCtx, staff.ID, windowStart, windowEnd, "")
		if err != nil {
			return err
		}
		if conflict {
			return ErrSchedulingConflict
		}

		offset, failed := ResolveOffset(req.Timezone, start)
		appt := &Appointment{
			ID:                     uuid.NewString(),
			CaseID:                 c.ID,
			ClientUserID:           c.OwnerUserID,
			StaffID:                staff.ID,
			StartAt:                start,
			EndAt:                  end,
			Timezone:               strings.TrimSpace(req.Timezone),
			OffsetMinutes:          offset,
			OffsetResolutionFailed: failed,
			Status:                 StatusScheduled,
			Notes:                  strings.TrimSpace(req.Notes),
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.store.CreateAppointment(txCtx, appt); err != nil {
			return err
		}
		if err := s.cases.SetInterviewLocked(txCtx, c.ID, true); err != nil {
			return fmt.Errorf("scheduling: lock interview: %w", err)
		}
		if err := s.cases.TouchActivity(txCtx, c.ID); err != nil {
			return fmt.Errorf("scheduling: touch case activity: %w", err)
		}
		if err := s.store.RecordEvent(txCtx, appointmentEvent(EventAppointmentBooked, appt, who.UserID, now)); err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("casework.appointment_id", created.ID))
	s.cfg.audit.Record(ctx, AuditEntry{
		Category:   "scheduling",
		Action:     "appointment.created",
		TargetType: "appointment",
		TargetID:   created.ID,
		ActorID:    who.UserID,
		Details: map[string]any{
			"case_id":                  created.CaseID,
			"staff_id":                 created.StaffID,
			"start_at":                 created.StartAt,
			"offset_resolution_failed": created.OffsetResolutionFailed,
		},
	})
	if created.OffsetResolutionFailed {
		s.cfg.logger.Warn("timezone offset unresolved", "appointment_id", created.ID, "timezone", created.Timezone)
	}
	s.cfg.logger.Info("appointment created", "appointment_id", created.ID, "case_id", created.CaseID, "staff_id", created.StaffID)
	return created, nil
}

// GetAppointment returns one appointment if the caller may see it.
func (s *Service) GetAppointment(ctx context.Context, appointmentID string, who caller.Caller) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.get_appointment")
	defer span.End()
	defer func() { s.cfg.finish(span, "get_appointment", err) }()

	appt, _, err = s.readable(ctx, appointmentID, who)
	return appt, err
}

// ListProposals returns every proposal on an appointment, newest first.
// Stale pending proposals are reported as expired without being written.
func (s *Service) ListProposals(ctx context.Context, appointmentID string, who caller.Caller) (out []RescheduleProposal, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.list_proposals")
	defer span.End()
	defer func() { s.cfg.finish(span, "list_proposals", err) }()

	if _, _, err := s.readable(ctx, appointmentID, who); err != nil {
		return nil, err
	}
	proposals, err := s.store.ListProposals(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.clock.Now()
	for i := range proposals {
		proposals[i].Status = proposals[i].EffectiveStatus(now)
	}
	return proposals, nil
}

// AuditTrail returns audit entries for an appointment and its proposals. Staff only.
func (s *Service) AuditTrail(ctx context.Context, appointmentID string, who caller.Caller) (out []AuditRecord, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.audit_trail")
	defer span.End()
	defer func() { s.cfg.finish(span, "audit_trail", err) }()

	appt, c, err := s.readable(ctx, appointmentID, who)
	if err != nil {
		return nil, err
	}
	if acc := resolveAccess(appt, c, who); !acc.staff && !who.IsStaff() {
		return nil, ErrForbidden
	}
	if s.cfg.auditLog == nil {
		return []AuditRecord{}, nil
	}
	proposals, err := s.store.ListProposals(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(proposals)+1)
	targets = append(targets, appt.ID)
	for _, p := range proposals {
		targets = append(targets, p.ID)
	}
	out, err = s.cfg.auditLog.ListForTargets(ctx, targets, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list audit: %w", err)
	}
	return out, nil
}

func (s *Service) readable(ctx context.Context, appointmentID string, who caller.Caller) (*Appointment, *Case, error) {
	if err := requireAuthenticated(who); err != nil {
		return nil, nil, err
	}
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	c, err := loadCase(ctx, s.cases, appt.CaseID)
	if err != nil {
		return nil, nil, err
	}
	if !resolveAccess(appt, c, who).reader {
		return nil, nil, ErrForbidden
	}
	return appt, c, nil
}

// GetAppointmentHistory lists appointments for a case, or for the caller when caseID is empty.
func (s *Service) GetAppointmentHistory(ctx context.Context, caseID string, who caller.Caller) (out []Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.appointment_history")
	defer span.End()
	defer func() { s.cfg.finish(span, "appointment_history", err) }()

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	filter := AppointmentFilter{Limit: historyLimit}
	switch {
	case strings.TrimSpace(caseID) != "":
		c, err := loadCase(ctx, s.cases, caseID)
		if err != nil {
			return nil, err
		}
		if !who.IsOwnerOf(c.OwnerUserID) && !who.IsStaff() {
			return nil, ErrForbidden
		}
		filter.CaseID = c.ID
	case who.IsStaff():
		filter.StaffID = who.UserID
	default:
		filter.ClientUserID = who.UserID
	}
	return s.store.ListAppointments(ctx, filter)
}

// CancelAppointment cancels an active appointment, releases the interview lock and
// cancels any pending reschedule proposal.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, reason string, who caller.Caller) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel_appointment")
	defer span.End()
	defer func() { s.cfg.finish(span, "cancel_appointment", err) }()

	appt, err = s.mutate(ctx, appointmentID, who, func(txCtx context.Context, appt *Appointment, acc access, now time.Time) (string, error) {
		if !acc.client && !acc.staff {
			return "", ErrForbidden
		}
		if appt.Status.IsTerminal() {
			return "", ErrTerminalState
		}
		appt.Status = StatusCancelled
		appt.CancellationReason = strings.TrimSpace(reason)
		appt.CancelledAt = &now

		proposals, err := s.store.ListProposals(txCtx, appt.ID)
		if err != nil {
			return "", err
		}
		for i := range proposals {
			p := &proposals[i]
			if p.Status != ProposalPending {
				continue
			}
			p.Status = ProposalCancelled
			p.RespondedAt = &now
			if err := s.store.UpdateProposal(txCtx, p); err != nil {
				return "", err
			}
			if err := s.store.RecordEvent(txCtx, proposalEvent(EventRescheduleCancelled, appt, p, who.UserID, now)); err != nil {
				return "", err
			}
		}

		if err := s.cases.SetInterviewLocked(txCtx, appt.CaseID, false); err != nil {
			return "", fmt.Errorf("scheduling: unlock interview: %w", err)
		}
		if err := s.cases.TouchActivity(txCtx, appt.CaseID); err != nil {
			return "", fmt.Errorf("scheduling: touch case activity: %w", err)
		}
		return EventAppointmentCancelled, nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "appointment.cancelled", appt, who, map[string]any{"reason": appt.CancellationReason})
	return appt, nil
}

// ConfirmAppointment marks a scheduled appointment as confirmed by the staff side.
func (s *Service) ConfirmAppointment(ctx context.Context, appointmentID string, who caller.Caller) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.confirm_appointment")
	defer span.End()
	defer func() { s.cfg.finish(span, "confirm_appointment", err) }()

	appt, err = s.mutate(ctx, appointmentID, who, func(_ context.Context, appt *Appointment, acc access, now time.Time) (string, error) {
		if !acc.staff {
			return "", ErrForbidden
		}
		if appt.Status.IsTerminal() {
			return "", ErrTerminalState
		}
		if appt.Status != StatusScheduled {
			return "", ErrInvalidTransition
		}
		appt.Status = StatusConfirmed
		appt.ConfirmedAt = &now
		return EventAppointmentConfirmed, nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "appointment.confirmed", appt, who, nil)
	return appt, nil
}

// CompleteAppointment records that the consultation took place.
func (s *Service) CompleteAppointment(ctx context.Context, appointmentID string, who caller.Caller) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.complete_appointment")
	defer span.End()
	defer func() { s.cfg.finish(span, "complete_appointment", err) }()

	appt, err = s.mutate(ctx, appointmentID, who, func(_ context.Context, appt *Appointment, acc access, now time.Time) (string, error) {
		if !acc.staff {
			return "", ErrForbidden
		}
		if appt.Status.IsTerminal() {
			return "", ErrTerminalState
		}
		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			return "", ErrInvalidTransition
		}
		appt.Status = StatusCompleted
		appt.CompletedAt = &now
		return EventAppointmentCompleted, nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, "appointment.completed", appt, who, nil)
	return appt, nil
}

// GiveRecordingConsent records the case owner's consent to record the consultation.
// Repeated calls keep the first consent time.
func (s *Service) GiveRecordingConsent(ctx context.Context, appointmentID string, who caller.Caller) (appt *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.recording_consent")
	defer span.End()
	defer func() { s.cfg.finish(span, "recording_consent", err) }()

	changed := false
	appt, err = s.mutate(ctx, appointmentID, who, func(_ context.Context, appt *Appointment, acc access, now time.Time) (string, error) {
		if !acc.client {
			return "", ErrForbidden
		}
		if appt.Status.IsTerminal() {
			return "", ErrTerminalState
		}
		if appt.RecordingConsent {
			return "", nil
		}
		appt.RecordingConsent = true
		appt.ConsentGivenAt = &now
		changed = true
		return EventConsentRecorded, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.record(ctx, "appointment.recording_consent", appt, who, nil)
	}
	return appt, nil
}

type mutation func(txCtx context.Context, appt *Appointment, acc access, now time.Time) (eventType string, err error)

// mutate loads an appointment inside a transaction, applies fn and persists the result.
// An empty event type means fn made no change.
func (s *Service) mutate(ctx context.Context, appointmentID string, who caller.Caller, fn mutation) (*Appointment, error) {
	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	var result *Appointment
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		appt, err := s.store.GetAppointment(txCtx, appointmentID)
		if err != nil {
			return err
		}
		c, err := loadCase(txCtx, s.cases, appt.CaseID)
		if err != nil {
			return err
		}
		now := s.cfg.clock.Now()
		eventType, err := fn(txCtx, appt, resolveAccess(appt, c, who), now)
		if err != nil {
			return err
		}
		result = appt
		if eventType == "" {
			return nil
		}
		appt.UpdatedAt = now
		if err := s.store.UpdateAppointment(txCtx, appt); err != nil {
			return err
		}
		return s.store.RecordEvent(txCtx, appointmentEvent(eventType, appt, who.UserID, now))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, action string, appt *Appointment, who caller.Caller, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["case_id"] = appt.CaseID
	details["status"] = string(appt.Status)
	s.cfg.audit.Record(ctx, AuditEntry{
		Category:   "scheduling",
		Action:     action,
		TargetType: "appointment",
		TargetID:   appt.ID,
		ActorID:    who.UserID,
		Details:    details,
	})
	s.cfg.logger.Info(strings.ReplaceAll(action, ".", " "), "appointment_id", appt.ID, "actor_id", who.UserID)
}

func (s settings) finish(span trace.Span, operation string, err error) {
	if err != nil {
		if KindOf(err) == "" && !errors.Is(err, context.Canceled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("casework.error_kind", string(KindOf(err))))
		}
	}
	s.metrics.ObserveOperation(operation, outcome(err))
}
