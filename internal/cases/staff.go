package cases

import (
	"context"
	"fmt"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/internal/storage/pgtx"
)

// StaffDirectory resolves staff members from the staff table.
type StaffDirectory struct {
	db pgtx.DB
}

func NewStaffDirectory(db pgtx.DB) *StaffDirectory {
	if db == nil {
		panic("cases: pgx db required")
	}
	return &StaffDirectory{db: db}
}

// FindEligibleStaff returns the staff member assigned to the case when they take
// consultations, otherwise the first active consultant by name. Busy time is not
// considered here; the caller runs the buffer-padded conflict check against the
// staff member returned. Returns nil when nobody qualifies.
func (d *StaffDirectory) FindEligibleStaff(ctx context.Context, criteria scheduling.StaffCriteria) (*scheduling.StaffRef, error) {
	query := `
		SELECT s.id, s.email, s.name
		FROM staff s
		LEFT JOIN cases c ON c.id::text = $1
		WHERE s.active AND s.accepts_consultations
		ORDER BY (s.id = c.assigned_staff_id) DESC NULLS LAST, s.name ASC
		LIMIT 1
	`
	var ref scheduling.StaffRef
	err := pgtx.Q(ctx, d.db).QueryRow(ctx, query, criteria.CaseID).Scan(&ref.ID, &ref.Email, &ref.Name)
	if err != nil {
		if pgtx.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cases: find eligible staff: %w", err)
	}
	return &ref, nil
}

func (d *StaffDirectory) GetStaff(ctx context.Context, staffID string) (*scheduling.StaffRef, error) {
	query := `SELECT id, email, name FROM staff WHERE id = $1`
	var ref scheduling.StaffRef
	err := pgtx.Q(ctx, d.db).QueryRow(ctx, query, staffID).Scan(&ref.ID, &ref.Email, &ref.Name)
	if err != nil {
		if pgtx.IsNotFound(err) {
			return nil, scheduling.ErrStaffNotFound
		}
		return nil, fmt.Errorf("cases: get staff: %w", err)
	}
	return &ref, nil
}

var _ scheduling.StaffDirectory = (*StaffDirectory)(nil)
