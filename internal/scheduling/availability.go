package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/immigration-casework/internal/caller"
)

// AvailabilityQuery asks for a staff member's busy time in [From, To].
type AvailabilityQuery struct {
	StaffID       string
	From          time.Time
	To            time.Time
	BufferMinutes int
}

func (q AvailabilityQuery) validate() error {
	if q.StaffID == "" {
		return validationf("staff_id is required")
	}
	if q.From.IsZero() || q.To.IsZero() {
		return validationf("from and to are required")
	}
	if !q.To.After(q.From) {
		return validationf("to must be after from")
	}
	if q.To.Sub(q.From) > maxAvailabilityWindow {
		return validationf("window must not exceed %d days", int(maxAvailabilityWindow.Hours()/24))
	}
	if q.BufferMinutes < 0 || q.BufferMinutes > maxBufferMinutes {
		return validationf("buffer_minutes must be between 0 and %d", maxBufferMinutes)
	}
	return nil
}

// AvailabilityAggregator merges booked appointments with an external calendar.
// External failures degrade to a warning.
type AvailabilityAggregator struct {
	store    Store
	staff    StaffDirectory
	calendar CalendarProvider
	cfg      settings
}

// NewAvailabilityAggregator builds an aggregator. calendar may be nil, in which case only
// internal bookings are reported.
func NewAvailabilityAggregator(store Store, staff StaffDirectory, calendar CalendarProvider, opts ...Option) *AvailabilityAggregator {
	if store == nil {
		panic("scheduling: store required")
	}
	if staff == nil {
		panic("scheduling: staff directory required")
	}
	return &AvailabilityAggregator{store: store, staff: staff, calendar: calendar, cfg: newSettings(opts)}
}

// GetAvailability returns padded internal busy slots followed by external ones.
// Slots are not merged or de-duplicated.
func (a *AvailabilityAggregator) GetAvailability(ctx context.Context, q AvailabilityQuery, who caller.Caller) (out *Availability, err error) {
	ctx, span := tracer.Start(ctx, "scheduling.get_availability")
	defer span.End()
	defer func() { a.cfg.finish(span, "get_availability", err) }()
	span.SetAttributes(attribute.String("casework.staff_id", q.StaffID))

	if err := requireAuthenticated(who); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}
	staff, err := a.staff.GetStaff(ctx, q.StaffID)
	if err != nil {
		if errors.Is(err, ErrStaffNotFound) {
			return nil, ErrStaffNotFound
		}
		return nil, fmt.Errorf("scheduling: load staff: %w", err)
	}
	if staff == nil {
		return nil, ErrStaffNotFound
	}

	from, to := q.From.UTC(), q.To.UTC()
	buffer := time.Duration(q.BufferMinutes) * time.Minute
	// Widen the lookup so a booking just outside the window still shows its buffer inside it.
	appts, err := a.store.ListStaffAppointments(ctx, staff.ID, from.Add(-buffer), to.Add(buffer))
	if err != nil {
		return nil, fmt.Errorf("scheduling: list staff appointments: %w", err)
	}

	out = &Availability{StaffID: staff.ID, From: from, To: to, BusySlots: []BusySlot{}, Warnings: []string{}}
	for _, appt := range appts {
		if appt.Status == StatusCancelled {
			continue
		}
		out.BusySlots = append(out.BusySlots, BusySlot{
			Start:  appt.StartAt.Add(-buffer),
			End:    appt.EndAt.Add(buffer),
			Source: SourceAppointment,
			Reason: "booked consultation",
		})
	}

	if a.calendar == nil {
		return out, nil
	}
	external, err := a.fetchExternal(ctx, staff.Email, from, to)
	if err != nil {
		a.cfg.logger.Warn("external calendar unavailable", "staff_id", staff.ID, "error", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("external calendar unavailable: %v", err))
		span.SetAttributes(attribute.Bool("casework.calendar_degraded", true))
		return out, nil
	}
	for _, slot := range external {
		if slot.Source == "" {
			slot.Source = SourceExternalCalendar
		}
		out.BusySlots = append(out.BusySlots, slot)
	}
	return out, nil
}

func (a *AvailabilityAggregator) fetchExternal(ctx context.Context, email string, from, to time.Time) ([]BusySlot, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.calendarTimeout)
	defer cancel()

	started := time.Now()
	slots, err := a.calendar.GetBusySlots(callCtx, email, from, to)
	a.cfg.metrics.ObserveCalendarFetch(err == nil, time.Since(started).Seconds())
	return slots, err
}

// DefaultBufferMinutes is the buffer used when a query does not name one.
func (a *AvailabilityAggregator) DefaultBufferMinutes() int {
	return int(a.cfg.buffer / time.Minute)
}
