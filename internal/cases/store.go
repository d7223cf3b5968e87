package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/internal/storage/pgtx"
)

// Store reads the case and staff tables owned by the wider case-management platform.
// Writes join the transaction carried on the context, so the interview lock commits
// with the booking that caused it.
type Store struct {
	db  pgtx.DB
	now func() time.Time
}

// NewStore creates a case store backed by pgx.
func NewStore(db pgtx.DB) *Store {
	if db == nil {
		panic("cases: pgx db required")
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) GetCase(ctx context.Context, caseID string) (*scheduling.Case, error) {
	query := `
		SELECT id::text, owner_user_id, owner_email, owner_name, status, interview_locked
		FROM cases
		WHERE id::text = $1
	`
	var c scheduling.Case
	err := pgtx.Q(ctx, s.db).QueryRow(ctx, query, caseID).Scan(
		&c.ID, &c.OwnerUserID, &c.OwnerEmail, &c.OwnerName, &c.Status, &c.InterviewLocked,
	)
	if err != nil {
		if pgtx.IsNotFound(err) {
			return nil, scheduling.ErrCaseNotFound
		}
		return nil, fmt.Errorf("cases: get case: %w", err)
	}
	return &c, nil
}

func (s *Store) SetInterviewLocked(ctx context.Context, caseID string, locked bool) error {
	query := `
		UPDATE cases
		SET interview_locked = $2, updated_at = $3
		WHERE id::text = $1
	`
	tag, err := pgtx.Q(ctx, s.db).Exec(ctx, query, caseID, locked, s.now())
	if err != nil {
		return fmt.Errorf("cases: set interview lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrCaseNotFound
	}
	return nil
}

func (s *Store) TouchActivity(ctx context.Context, caseID string) error {
	query := `UPDATE cases SET last_activity_at = $2 WHERE id::text = $1`
	if _, err := pgtx.Q(ctx, s.db).Exec(ctx, query, caseID, s.now()); err != nil {
		return fmt.Errorf("cases: touch activity: %w", err)
	}
	return nil
}

var _ scheduling.CaseStore = (*Store)(nil)
