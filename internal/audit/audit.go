// Package audit persists the audit trail of scheduling actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
)

// Event is an immutable audit record.
type Event struct {
	ID         string          `json:"id"`
	Category   string          `json:"category"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Service writes and queries audit_events.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO audit_events (
			id, category, action, target_type, target_id, actor_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Category,
		event.Action,
		event.TargetType,
		event.TargetID,
		nullString(event.ActorID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	Category   string
	TargetType string
	TargetIDs  []string
	ActorID    string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// QueryEvents retrieves audit events newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, category, action, target_type, target_id, actor_id, details, created_at
		FROM audit_events
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.Category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.TargetType != "" {
		query += fmt.Sprintf(" AND target_type = $%d", argIdx)
		args = append(args, filter.TargetType)
		argIdx++
	}
	if len(filter.TargetIDs) > 0 {
		query += fmt.Sprintf(" AND target_id = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.TargetIDs))
		argIdx++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Action, &e.TargetType, &e.TargetID, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.ActorID = actor.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListForTargets returns the trail for the given targets in the shape the scheduling
// read path expects.
func (s *Service) ListForTargets(ctx context.Context, targetIDs []string, limit int) ([]scheduling.AuditRecord, error) {
	if len(targetIDs) == 0 {
		return []scheduling.AuditRecord{}, nil
	}
	events, err := s.QueryEvents(ctx, Filter{TargetIDs: targetIDs, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]scheduling.AuditRecord, 0, len(events))
	for _, e := range events {
		rec := scheduling.AuditRecord{
			ID:         e.ID,
			Category:   e.Category,
			Action:     e.Action,
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			ActorID:    e.ActorID,
			CreatedAt:  e.CreatedAt,
		}
		if len(e.Details) > 0 {
			_ = json.Unmarshal(e.Details, &rec.Details)
		}
		out = append(out, rec)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ scheduling.AuditLog = (*Service)(nil)
