package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/immigration-casework/internal/caller"
)

// access is what a caller may do on one appointment.
type access struct {
	client bool // owns the case
	staff  bool // assigned staff member or admin
	reader bool
}

func resolveAccess(appt *Appointment, c *Case, who caller.Caller) access {
	a := access{
		client: who.IsOwnerOf(c.OwnerUserID),
		staff:  who.Authenticated() && (who.UserID == appt.StaffID || who.IsAdmin()),
	}
	a.reader = a.client || a.staff || who.IsStaff()
	return a
}

func (a access) canActAs(side Side) bool {
	switch side {
	case SideClient:
		return a.client
	case SideStaff:
		return a.staff
	default:
		return false
	}
}

func loadCase(ctx context.Context, cases CaseStore, caseID string) (*Case, error) {
	c, err := cases.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("scheduling: load case: %w", err)
	}
	if c == nil {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

func requireAuthenticated(who caller.Caller) error {
	if !who.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}
