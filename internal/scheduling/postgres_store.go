package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/immigration-casework/internal/events"
	"github.com/wolfman30/immigration-casework/internal/storage/pgtx"
)

// PostgresStore is the production Store on top of pgx.
// Reads issued inside WithTx lock the rows they return.
type PostgresStore struct {
	db pgtx.DB
}

// NewPostgresStore wraps a pgx pool (or pgxmock in tests).
func NewPostgresStore(db pgtx.DB) *PostgresStore {
	if db == nil {
		panic("scheduling: pgx db required")
	}
	return &PostgresStore{db: db}
}

const appointmentColumns = `id, case_id, client_user_id, staff_id, start_at, end_at, timezone, offset_minutes,
	offset_resolution_failed, status, notes, cancellation_reason, recording_consent, consent_given_at,
	created_at, updated_at, confirmed_at, completed_at, cancelled_at`

const proposalColumns = `id, appointment_id, initiated_by, initiator_user_id, option_1_start, option_2_start,
	option_3_start, duration_minutes, timezone, status, chosen_option, rejection_reason, responder_user_id,
	created_at, expires_at, responded_at`

func (s *PostgresStore) q(ctx context.Context) pgtx.Querier {
	return pgtx.Q(ctx, s.db)
}

func forUpdate(ctx context.Context, query string) string {
	if pgtx.FromContext(ctx) != nil {
		return query + " FOR UPDATE"
	}
	return query
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgtx.WithTx(ctx, s.db, fn)
}

// LockStaff takes a transaction-scoped advisory lock keyed by staff id.
func (s *PostgresStore) LockStaff(ctx context.Context, staffID string) error {
	if _, err := s.q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, staffID); err != nil {
		return fmt.Errorf("scheduling: lock staff: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO appointments (id, case_id, client_user_id, staff_id, start_at, end_at, timezone, offset_minutes,
			offset_resolution_failed, status, notes, cancellation_reason, recording_consent, consent_given_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.CaseID, a.ClientUserID, a.StaffID, a.StartAt, a.EndAt, a.Timezone, a.OffsetMinutes,
		a.OffsetResolutionFailed, string(a.Status), a.Notes, a.CancellationReason, a.RecordingConsent, a.ConsentGivenAt,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("create appointment", err, ErrActiveAppointmentExists)
	}
	return nil
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	row := s.q(ctx).QueryRow(ctx, forUpdate(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`), id)
	appt, err := scanAppointment(row)
	if err != nil {
		if pgtx.IsNotFound(err) || pgtx.IsInvalidText(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE appointments SET start_at = $2, end_at = $3, timezone = $4, offset_minutes = $5,
			offset_resolution_failed = $6, status = $7, notes = $8, cancellation_reason = $9,
			recording_consent = $10, consent_given_at = $11, confirmed_at = $12, completed_at = $13,
			cancelled_at = $14, updated_at = $15
		WHERE id = $1`,
		a.ID, a.StartAt, a.EndAt, a.Timezone, a.OffsetMinutes,
		a.OffsetResolutionFailed, string(a.Status), a.Notes, a.CancellationReason,
		a.RecordingConsent, a.ConsentGivenAt, a.ConfirmedAt, a.CompletedAt,
		a.CancelledAt, a.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("update appointment", err, ErrSchedulingConflict)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveAppointmentForCase(ctx context.Context, caseID string) (*Appointment, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE case_id = $1 AND status IN ('scheduled', 'confirmed', 'rescheduling')
		LIMIT 1`, caseID)
	appt, err := scanAppointment(row)
	if err != nil {
		if pgtx.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: find active appointment: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) ListStaffAppointments(ctx context.Context, staffID string, from, to time.Time) ([]Appointment, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE staff_id = $1 AND status <> 'cancelled' AND start_at < $3 AND end_at > $2
		ORDER BY start_at ASC`, staffID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list staff appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (s *PostgresStore) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = historyLimit
	}
	// Empty filters match everything; callers always set at least one.
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE ($1 = '' OR case_id::text = $1)
		  AND ($2 = '' OR staff_id::text = $2)
		  AND ($3 = '' OR client_user_id = $3)
		ORDER BY created_at DESC
		LIMIT $4`, filter.CaseID, filter.StaffID, filter.ClientUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p *RescheduleProposal) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO reschedule_proposals (id, appointment_id, initiated_by, initiator_user_id, option_1_start,
			option_2_start, option_3_start, duration_minutes, timezone, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.AppointmentID, string(p.InitiatedBy), p.InitiatorUserID, p.Options[0],
		p.Options[1], p.Options[2], p.DurationMinutes, p.Timezone, string(p.Status), p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return mapWriteError("create proposal", err, ErrPendingProposalExists)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*RescheduleProposal, error) {
	row := s.q(ctx).QueryRow(ctx, forUpdate(ctx, `SELECT `+proposalColumns+` FROM reschedule_proposals WHERE id = $1`), id)
	p, err := scanProposal(row)
	if err != nil {
		if pgtx.IsNotFound(err) || pgtx.IsInvalidText(err) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("scheduling: get proposal: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, p *RescheduleProposal) error {
	var chosen *int
	if p.ChosenOption > 0 {
		chosen = &p.ChosenOption
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE reschedule_proposals SET status = $2, chosen_option = $3, rejection_reason = $4,
			responder_user_id = $5, responded_at = $6
		WHERE id = $1`,
		p.ID, string(p.Status), chosen, p.RejectionReason, p.ResponderUserID, p.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("scheduling: update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProposalNotFound
	}
	return nil
}

func (s *PostgresStore) FindPendingProposal(ctx context.Context, appointmentID string) (*RescheduleProposal, error) {
	row := s.q(ctx).QueryRow(ctx, forUpdate(ctx, `
		SELECT `+proposalColumns+` FROM reschedule_proposals
		WHERE appointment_id = $1 AND status = 'pending'`), appointmentID)
	p, err := scanProposal(row)
	if err != nil {
		if pgtx.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: find pending proposal: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CountProposalsBySide(ctx context.Context, appointmentID string, side Side) (int, error) {
	var n int
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM reschedule_proposals
		WHERE appointment_id = $1 AND initiated_by = $2`, appointmentID, string(side)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("scheduling: count proposals: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, appointmentID string) ([]RescheduleProposal, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+proposalColumns+` FROM reschedule_proposals
		WHERE appointment_id = $1
		ORDER BY created_at DESC`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

func (s *PostgresStore) ListExpiredPending(ctx context.Context, asOf time.Time, limit int) ([]RescheduleProposal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+proposalColumns+` FROM reschedule_proposals
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list expired proposals: %w", err)
	}
	defer rows.Close()
	return scanProposals(rows)
}

// RecordEvent appends to the outbox on the active transaction.
func (s *PostgresStore) RecordEvent(ctx context.Context, evt Event) error {
	if _, err := events.Append(ctx, s.q(ctx), evt.AppointmentID, evt.Type, evt.Payload,
		events.WithTimestamp(evt.Payload.OccurredAt)); err != nil {
		return fmt.Errorf("scheduling: record event: %w", err)
	}
	return nil
}

// mapWriteError turns constraint violations into the domain conflict they guard.
func mapWriteError(op string, err error, uniqueConflict error) error {
	switch {
	case pgtx.IsExclusionViolation(err):
		return ErrSchedulingConflict
	case pgtx.IsUniqueViolation(err):
		return uniqueConflict
	default:
		return fmt.Errorf("scheduling: %s: %w", op, err)
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(
		&a.ID, &a.CaseID, &a.ClientUserID, &a.StaffID, &a.StartAt, &a.EndAt, &a.Timezone, &a.OffsetMinutes,
		&a.OffsetResolutionFailed, &status, &a.Notes, &a.CancellationReason, &a.RecordingConsent, &a.ConsentGivenAt,
		&a.CreatedAt, &a.UpdatedAt, &a.ConfirmedAt, &a.CompletedAt, &a.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanProposal(row pgx.Row) (*RescheduleProposal, error) {
	var p RescheduleProposal
	var side, status string
	var chosen *int
	err := row.Scan(
		&p.ID, &p.AppointmentID, &side, &p.InitiatorUserID, &p.Options[0], &p.Options[1],
		&p.Options[2], &p.DurationMinutes, &p.Timezone, &status, &chosen, &p.RejectionReason, &p.ResponderUserID,
		&p.CreatedAt, &p.ExpiresAt, &p.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	p.InitiatedBy = Side(side)
	p.Status = ProposalStatus(status)
	if chosen != nil {
		p.ChosenOption = *chosen
	}
	return &p, nil
}

func scanProposals(rows pgx.Rows) ([]RescheduleProposal, error) {
	var out []RescheduleProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
