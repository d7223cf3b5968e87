package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wolfman30/immigration-casework/internal/scheduling"
)

// GoogleProvider reads busy time from the Google Calendar free/busy API.
// Calendars are addressed by the staff member's email.
type GoogleProvider struct {
	service *gcal.Service
}

// NewGoogleProvider builds a provider. Pass option.WithCredentialsFile in production
// and option.WithEndpoint/option.WithoutAuthentication against a fake server in tests.
func NewGoogleProvider(ctx context.Context, opts ...option.ClientOption) (*GoogleProvider, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: init google service: %w", err)
	}
	return &GoogleProvider{service: svc}, nil
}

func (p *GoogleProvider) GetBusySlots(ctx context.Context, staffEmail string, from, to time.Time) ([]scheduling.BusySlot, error) {
	staffEmail = strings.TrimSpace(staffEmail)
	if staffEmail == "" {
		return nil, errors.New("calendar: staff email required")
	}
	req := &gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: staffEmail}},
	}
	resp, err := p.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[staffEmail]
	if !ok {
		return nil, fmt.Errorf("calendar: no free/busy data for %s", staffEmail)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: free/busy error for %s: %s", staffEmail, cal.Errors[0].Reason)
	}

	slots := make([]scheduling.BusySlot, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse busy end: %w", err)
		}
		slots = append(slots, scheduling.BusySlot{
			Start:  start.UTC(),
			End:    end.UTC(),
			Source: scheduling.SourceExternalCalendar,
			Reason: "calendar event",
		})
	}
	return slots, nil
}

var _ scheduling.CalendarProvider = (*GoogleProvider)(nil)
