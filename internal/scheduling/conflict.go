package scheduling

import (
	"context"
	"fmt"
	"time"
)

// ConflictDetector checks a window against a staff member's non-cancelled appointments.
// It does not pad windows; callers apply the buffer.
type ConflictDetector struct {
	store Store
}

// NewConflictDetector builds a detector over store.
func NewConflictDetector(store Store) *ConflictDetector {
	if store == nil {
		panic("scheduling: store required")
	}
	return &ConflictDetector{store: store}
}

// HasConflict reports whether [start, end) strictly overlaps any other appointment of staffID.
// Touching windows do not conflict. excludeID skips one appointment, typically the one being moved.
func (d *ConflictDetector) HasConflict(ctx context.Context, staffID string, start, end time.Time, excludeID string) (bool, error) {
	appts, err := d.store.ListStaffAppointments(ctx, staffID, start, end)
	if err != nil {
		return false, fmt.Errorf("scheduling: conflict lookup: %w", err)
	}
	for _, other := range appts {
		if other.Status == StatusCancelled || (excludeID != "" && other.ID == excludeID) {
			continue
		}
		if overlaps(start, end, other.StartAt, other.EndAt) {
			return true, nil
		}
	}
	return false, nil
}

func overlaps(start, end, otherStart, otherEnd time.Time) bool {
	return start.Before(otherEnd) && otherStart.Before(end)
}

func padded(start time.Time, durationMinutes int, buffer time.Duration) (time.Time, time.Time) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return start.Add(-buffer), end.Add(buffer)
}
