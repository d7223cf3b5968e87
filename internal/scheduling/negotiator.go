package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/immigration-casework/internal/caller"
)

// Negotiator runs the three-option reschedule protocol between a client and a staff member.
type Negotiator struct {
	store    Store
	cases    CaseStore
	detector *ConflictDetector
	cfg      settings
}

// NewNegotiator constructs the reschedule negotiator.
func NewNegotiator(store Store, cases CaseStore, opts ...Option) *Negotiator {
	if store == nil {
		panic("scheduling: store required")
	}
	if cases == nil {
		panic("scheduling: case store required")
	}
	return &Negotiator{
		store:    store,
		cases:    cases,
		detector: NewConflictDetector(store),
		cfg:      newSettings(opts),
	}
}

// ProposeRequest carries three alternative start times offered by one side.
// A zero duration keeps the appointment's current length.
type ProposeRequest struct {
	Side            Side                   `json:"side"`
	Options         [OptionCount]time.Time `json:"options"`
	DurationMinutes int                    `json:"duration_minutes"`
	Timezone        string                 `json:"timezone"`
}

func (r ProposeRequest) validate(now time.Time) error {
	if _, ok := ParseSide(string(r.Side)); !ok {
		return validationf("side must be client or staff")
	}
	for i, opt := range r.Options {
		if opt.IsZero() {
			return validationf("option %d is required", i+1)
		}
		if !opt.After(now) {
			return validationf("option %d must be in the future", i+1)
		}
	}
	if r.DurationMinutes < 0 || r.DurationMinutes > maxDurationMinutes {
		return validationf("duration_minutes must be between 1 and %d", maxDurationMinutes)
	}
	if strings.TrimSpace(r.Timezone) == "" {
		return validationf("timezone is required")
	}
	return nil
}

// Resolution is the outcome of answering a proposal.
type Resolution struct {
	Appointment *Appointment        `json:"appointment"`
	Proposal    *RescheduleProposal `json:"proposal"`
}

// ProposeReschedule opens a proposal and moves the appointment to rescheduling.
func (n *Negotiator) ProposeReschedule(ctx context.Context, appointmentID string, req ProposeRequest, who caller.Caller) (created *RescheduleProposal, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.propose_reschedule")
	defer span.End()
	defer func() { n.cfg.finish(span, "propose_reschedule", err) }()
	span.SetAttributes(
		attribute.String("casework.appointment_id", appointmentID),
		attribute.String("casework.side", string(req.Side)),
	)

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	req.Side, _ = ParseSide(string(req.Side))
	now := n.cfg.clock.Now()
	if err := req.validate(now); err != nil {
		return nil, err
	}

	var appt *Appointment
	err = n.store.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		appt, err = n.store.GetAppointment(txCtx, appointmentID)
		if err != nil {
			return err
		}
		c, err := loadCase(txCtx, n.cases, appt.CaseID)
		if err != nil {
			return err
		}
		if !resolveAccess(appt, c, who).canActAs(req.Side) {
			return ErrForbidden
		}

		pending, err := n.store.FindPendingProposal(txCtx, appt.ID)
		if err != nil {
			return err
		}
		// A stale proposal nobody answered must not block the appointment forever.
		if pending != nil && pending.IsExpired(now) {
			if err := n.expire(txCtx, pending, appt, now, "lazy"); err != nil {
				return err
			}
			pending = nil
		}

		if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
			return ErrNotReschedulable
		}
		if pending != nil {
			return ErrPendingProposalExists
		}
		used, err := n.store.CountProposalsBySide(txCtx, appt.ID, req.Side)
		if err != nil {
			return err
		}
		if used >= n.cfg.proposalLimit {
			return ErrRescheduleLimitReached
		}

		duration := req.DurationMinutes
		if duration == 0 {
			duration = appt.DurationMinutes()
		}
		viable := 0
		for _, opt := range req.Options {
			windowStart, windowEnd := padded(opt.UTC(), duration, n.cfg.buffer)
			conflict, err := n.detector.HasConflict(txCtx, appt.StaffID, windowStart, windowEnd, appt.ID)
			if err != nil {
				return err
			}
			if !conflict {
				viable++
			}
		}
		if viable == 0 {
			return ErrAllOptionsConflict
		}

		p := &RescheduleProposal{
			ID:              uuid.NewString(),
			AppointmentID:   appt.ID,
			InitiatedBy:     req.Side,
			InitiatorUserID: who.UserID,
			DurationMinutes: duration,
			Timezone:        strings.TrimSpace(req.Timezone),
			Status:          ProposalPending,
			CreatedAt:       now,
			ExpiresAt:       now.Add(n.cfg.proposalTTL),
		}
		for i, opt := range req.Options {
			p.Options[i] = opt.UTC()
		}
		if err := n.store.CreateProposal(txCtx, p); err != nil {
			return err
		}
		appt.Status = StatusRescheduling
		appt.UpdatedAt = now
		if err := n.store.UpdateAppointment(txCtx, appt); err != nil {
			return err
		}
		if err := n.store.RecordEvent(txCtx, proposalEvent(EventRescheduleProposed, appt, p, who.UserID, now)); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.cfg.audit.Record(ctx, AuditEntry{
		Category:   "scheduling",
		Action:     "reschedule.proposed",
		TargetType: "reschedule_proposal",
		TargetID:   created.ID,
		ActorID:    who.UserID,
		Details: map[string]any{
			"appointment_id": created.AppointmentID,
			"initiated_by":   string(created.InitiatedBy),
			"expires_at":     created.ExpiresAt,
		},
	})
	n.cfg.logger.Info("reschedule proposed", "proposal_id", created.ID, "appointment_id", created.AppointmentID, "side", created.InitiatedBy)
	return created, nil
}

// ChooseOption accepts one of the three options and moves the appointment to it.
// An expired proposal is marked expired and committed before the conflict is returned.
func (n *Negotiator) ChooseOption(ctx context.Context, proposalID string, index int, who caller.Caller) (res *Resolution, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.choose_option")
	defer span.End()
	defer func() { n.cfg.finish(span, "choose_option", err) }()
	span.SetAttributes(attribute.String("casework.proposal_id", proposalID), attribute.Int("casework.option", index))

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	if index < 1 || index > OptionCount {
		return nil, ErrInvalidOptionIndex
	}

	res, err = n.respond(ctx, proposalID, who, func(txCtx context.Context, p *RescheduleProposal, appt *Appointment, now time.Time) (string, error) {
		start, _ := p.Option(index)
		if err := n.store.LockStaff(txCtx, appt.StaffID); err != nil {
			return "", err
		}
		windowStart, windowEnd := padded(start, p.DurationMinutes, n.cfg.buffer)
		conflict, err := n.detector.HasConflict(txCtx, appt.StaffID, windowStart, windowEnd, appt.ID)
		if err != nil {
			return "", err
		}
		if conflict {
			return "", ErrChosenOptionConflicts
		}

		offset, failed := ResolveOffset(p.Timezone, start)
		appt.StartAt = start
		appt.EndAt = start.Add(time.Duration(p.DurationMinutes) * time.Minute)
		appt.Timezone = p.Timezone
		appt.OffsetMinutes = offset
		appt.OffsetResolutionFailed = failed

		p.Status = ProposalAccepted
		p.ChosenOption = index
		return EventRescheduleAccepted, nil
	})
	if errors.Is(err, ErrSchedulingConflict) {
		// The exclusion constraint rejected the move after the detector passed it.
		err = ErrChosenOptionConflicts
	}
	if err != nil {
		return nil, err
	}
	n.recordResolution(ctx, "reschedule.accepted", res, who)
	return res, nil
}

// RejectProposal declines all three options and restores the appointment to scheduled.
func (n *Negotiator) RejectProposal(ctx context.Context, proposalID, reason string, who caller.Caller) (res *Resolution, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.reject_proposal")
	defer span.End()
	defer func() { n.cfg.finish(span, "reject_proposal", err) }()
	span.SetAttributes(attribute.String("casework.proposal_id", proposalID))

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	res, err = n.respond(ctx, proposalID, who, func(_ context.Context, p *RescheduleProposal, _ *Appointment, _ time.Time) (string, error) {
		p.Status = ProposalRejected
		p.RejectionReason = strings.TrimSpace(reason)
		return EventRescheduleRejected, nil
	})
	if err != nil {
		return nil, err
	}
	n.recordResolution(ctx, "reschedule.rejected", res, who)
	return res, nil
}

type answer func(txCtx context.Context, p *RescheduleProposal, appt *Appointment, now time.Time) (eventType string, err error)

// respond applies the checks shared by choose and reject, then fn.
func (n *Negotiator) respond(ctx context.Context, proposalID string, who caller.Caller, fn answer) (*Resolution, error) {
	var (
		res     *Resolution
		expired bool
	)
	err := n.store.WithTx(ctx, func(txCtx context.Context) error {
		p, err := n.store.GetProposal(txCtx, proposalID)
		if err != nil {
			return err
		}
		appt, err := n.store.GetAppointment(txCtx, p.AppointmentID)
		if err != nil {
			return err
		}
		c, err := loadCase(txCtx, n.cases, appt.CaseID)
		if err != nil {
			return err
		}
		acc := resolveAccess(appt, c, who)
		if !acc.canActAs(p.InitiatedBy.Opposite()) {
			if acc.canActAs(p.InitiatedBy) {
				return ErrNotCounterparty
			}
			return ErrForbidden
		}
		if p.Status != ProposalPending {
			return ErrProposalNotPending
		}

		now := n.cfg.clock.Now()
		if now.After(p.ExpiresAt) {
			expired = true
			return n.expire(txCtx, p, appt, now, "lazy")
		}

		eventType, err := fn(txCtx, p, appt, now)
		if err != nil {
			return err
		}
		p.ResponderUserID = who.UserID
		p.RespondedAt = &now
		if err := n.store.UpdateProposal(txCtx, p); err != nil {
			return err
		}
		appt.Status = StatusScheduled
		appt.UpdatedAt = now
		if err := n.store.UpdateAppointment(txCtx, appt); err != nil {
			return err
		}
		if err := n.store.RecordEvent(txCtx, proposalEvent(eventType, appt, p, who.UserID, now)); err != nil {
			return err
		}
		res = &Resolution{Appointment: appt, Proposal: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrProposalExpired
	}
	return res, nil
}

// expire flips a pending proposal to expired and hands the appointment back to scheduled.
func (n *Negotiator) expire(ctx context.Context, p *RescheduleProposal, appt *Appointment, now time.Time, path string) error {
	p.Status = ProposalExpired
	if err := n.store.UpdateProposal(ctx, p); err != nil {
		return err
	}
	if appt.Status == StatusRescheduling {
		appt.Status = StatusScheduled
		appt.UpdatedAt = now
		if err := n.store.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
	}
	if err := n.store.RecordEvent(ctx, proposalEvent(EventRescheduleExpired, appt, p, "", now)); err != nil {
		return err
	}
	n.cfg.metrics.ObserveProposalExpired(path)
	n.cfg.logger.Info("reschedule proposal expired", "proposal_id", p.ID, "appointment_id", appt.ID, "path", path)
	return nil
}

// ExpireStale expires up to limit pending proposals past their expiry.
// It returns how many were expired; per-proposal failures are joined into err.
func (n *Negotiator) ExpireStale(ctx context.Context, limit int) (int, error) {
	ctx, span := tracer.Start(ctx, "scheduling.expire_stale")
	defer span.End()

	now := n.cfg.clock.Now()
	stale, err := n.store.ListExpiredPending(ctx, now, limit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	expired := 0
	var errs []error
	for _, candidate := range stale {
		err := n.store.WithTx(ctx, func(txCtx context.Context) error {
			p, err := n.store.GetProposal(txCtx, candidate.ID)
			if err != nil {
				return err
			}
			if !p.IsExpired(now) {
				return nil
			}
			appt, err := n.store.GetAppointment(txCtx, p.AppointmentID)
			if err != nil {
				return err
			}
			if err := n.expire(txCtx, p, appt, now, "sweeper"); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			n.cfg.logger.Error("expire proposal failed", "proposal_id", candidate.ID, "error", err)
			errs = append(errs, err)
		}
	}
	span.SetAttributes(attribute.Int("casework.expired", expired))
	return expired, errors.Join(errs...)
}

func (n *Negotiator) recordResolution(ctx context.Context, action string, res *Resolution, who caller.Caller) {
	n.cfg.audit.Record(ctx, AuditEntry{
		Category:   "scheduling",
		Action:     action,
		TargetType: "reschedule_proposal",
		TargetID:   res.Proposal.ID,
		ActorID:    who.UserID,
		Details: map[string]any{
			"appointment_id": res.Appointment.ID,
			"chosen_option":  res.Proposal.ChosenOption,
			"reason":         res.Proposal.RejectionReason,
		},
	})
	n.cfg.logger.Info(strings.ReplaceAll(action, ".", " "), "proposal_id", res.Proposal.ID, "appointment_id", res.Appointment.ID)
}
