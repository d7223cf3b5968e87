package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/immigration-casework/internal/events"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

const consumerName = "notify"

// CaseLookup resolves the client behind a case.
type CaseLookup interface {
	GetCase(ctx context.Context, caseID string) (*scheduling.Case, error)
}

// StaffLookup resolves a staff member's contact details.
type StaffLookup interface {
	GetStaff(ctx context.Context, staffID string) (*scheduling.StaffRef, error)
}

// Deduper tracks which outbox events were already handled.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// Service turns scheduling events into emails for the client and the assigned staff member.
type Service struct {
	email  EmailSender
	cases  CaseLookup
	staff  StaffLookup
	dedupe Deduper
	logger *logging.Logger
}

// NewService creates a notification service. dedupe may be nil.
func NewService(email EmailSender, cases CaseLookup, staff StaffLookup, dedupe Deduper, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:  email,
		cases:  cases,
		staff:  staff,
		dedupe: dedupe,
		logger: logger,
	}
}

type recipient struct {
	email string
	name  string
	side  scheduling.Side
}

// Handle implements events.DeliveryHandler. An error leaves the outbox row pending so it is retried.
func (s *Service) Handle(ctx context.Context, entry events.OutboxEntry) error {
	env, err := entry.Envelope()
	if err != nil {
		// Undecodable rows would fail forever; drop them.
		s.logger.Error("notify: skipping malformed outbox entry", "error", err, "outbox_id", entry.ID)
		return nil
	}
	eventID := env.EventID.String()

	if s.dedupe != nil {
		done, err := s.dedupe.AlreadyProcessed(ctx, consumerName, eventID)
		if err != nil {
			return err
		}
		if done {
			s.logger.Debug("notify: event already processed", "event_id", eventID)
			return nil
		}
	}

	var payload scheduling.EventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Error("notify: skipping undecodable payload", "error", err, "event_id", eventID, "event_type", env.EventType)
		return nil
	}

	if err := s.notify(ctx, env.EventType, payload); err != nil {
		return err
	}

	if s.dedupe != nil {
		if _, err := s.dedupe.MarkProcessed(ctx, consumerName, eventID); err != nil {
			s.logger.Warn("notify: failed to mark event processed", "error", err, "event_id", eventID)
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, eventType string, p scheduling.EventPayload) error {
	audience, ok := audienceFor(eventType, p)
	if !ok || s.email == nil {
		return nil
	}

	recipients, err := s.resolve(ctx, p, audience)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range recipients {
		msg := compose(eventType, p, r)
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "to", r.email, "event_type", eventType)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("notify: scheduling email sent", "to", r.email, "event_type", eventType, "appointment_id", p.AppointmentID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d emails failed: %w", len(errs), len(recipients), errors.Join(errs...))
	}
	return nil
}

// audienceFor returns which sides hear about an event.
func audienceFor(eventType string, p scheduling.EventPayload) ([]scheduling.Side, bool) {
	both := []scheduling.Side{scheduling.SideClient, scheduling.SideStaff}
	switch eventType {
	case scheduling.EventAppointmentBooked,
		scheduling.EventAppointmentCancelled,
		scheduling.EventAppointmentConfirmed,
		scheduling.EventRescheduleAccepted,
		scheduling.EventRescheduleExpired:
		return both, true
	case scheduling.EventRescheduleProposed:
		if p.InitiatedBy == "" {
			return both, true
		}
		return []scheduling.Side{p.InitiatedBy.Opposite()}, true
	case scheduling.EventRescheduleRejected:
		if p.InitiatedBy == "" {
			return both, true
		}
		return []scheduling.Side{p.InitiatedBy}, true
	default:
		return nil, false
	}
}

func (s *Service) resolve(ctx context.Context, p scheduling.EventPayload, sides []scheduling.Side) ([]recipient, error) {
	var out []recipient
	for _, side := range sides {
		switch side {
		case scheduling.SideClient:
			if s.cases == nil {
				continue
			}
			c, err := s.cases.GetCase(ctx, p.CaseID)
			if err != nil {
				if scheduling.KindOf(err) == scheduling.KindNotFound {
					s.logger.Warn("notify: case missing, skipping client email", "case_id", p.CaseID)
					continue
				}
				return nil, fmt.Errorf("notify: load case: %w", err)
			}
			if strings.TrimSpace(c.OwnerEmail) == "" {
				continue
			}
			out = append(out, recipient{email: c.OwnerEmail, name: c.OwnerName, side: side})
		case scheduling.SideStaff:
			if s.staff == nil || p.StaffID == "" {
				continue
			}
			member, err := s.staff.GetStaff(ctx, p.StaffID)
			if err != nil {
				if scheduling.KindOf(err) == scheduling.KindNotFound {
					s.logger.Warn("notify: staff missing, skipping staff email", "staff_id", p.StaffID)
					continue
				}
				return nil, fmt.Errorf("notify: load staff: %w", err)
			}
			if strings.TrimSpace(member.Email) == "" {
				continue
			}
			out = append(out, recipient{email: member.Email, name: member.Name, side: side})
		}
	}
	return out, nil
}

func compose(eventType string, p scheduling.EventPayload, r recipient) EmailMessage {
	when := formatWhen(p.StartAt, p.Timezone)
	var subject, lead string
	var lines []string

	switch eventType {
	case scheduling.EventAppointmentBooked:
		subject = "Consultation booked"
		lead = "A consultation has been booked."
		lines = append(lines, "When: "+when)
	case scheduling.EventAppointmentCancelled:
		subject = "Consultation cancelled"
		lead = "The consultation scheduled for " + when + " has been cancelled."
		if p.Reason != "" {
			lines = append(lines, "Reason: "+p.Reason)
		}
	case scheduling.EventAppointmentConfirmed:
		subject = "Consultation confirmed"
		lead = "Your consultation is confirmed."
		lines = append(lines, "When: "+when)
	case scheduling.EventRescheduleProposed:
		subject = "New times proposed for your consultation"
		lead = "New times have been proposed for your consultation. Please choose one:"
		for i, opt := range p.Options {
			lines = append(lines, fmt.Sprintf("Option %d: %s", i+1, formatWhen(opt, p.Timezone)))
		}
		if p.ExpiresAt != nil {
			lines = append(lines, "Respond by: "+formatWhen(*p.ExpiresAt, p.Timezone))
		}
	case scheduling.EventRescheduleAccepted:
		subject = "Consultation rescheduled"
		lead = "Your consultation has been moved."
		lines = append(lines, "New time: "+when)
	case scheduling.EventRescheduleRejected:
		subject = "Proposed times declined"
		lead = "The times you proposed were declined. The original appointment stays in place."
		lines = append(lines, "When: "+when)
		if p.Reason != "" {
			lines = append(lines, "Reason: "+p.Reason)
		}
	case scheduling.EventRescheduleExpired:
		subject = "Reschedule request expired"
		lead = "The reschedule request expired without a choice. The original appointment stays in place."
		lines = append(lines, "When: "+when)
	}

	greeting := "Hello,"
	if r.name != "" {
		greeting = fmt.Sprintf("Hello %s,", r.name)
	}

	body := greeting + "\n\n" + lead + "\n"
	if len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n") + "\n"
	}

	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, "<p>%s</p><p>%s</p>", html.EscapeString(greeting), html.EscapeString(lead))
	if len(lines) > 0 {
		b.WriteString("<ul>")
		for _, l := range lines {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(l))
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</div>")

	return EmailMessage{
		To:       r.email,
		ToName:   r.name,
		Subject:  subject,
		Body:     body,
		HTML:     b.String(),
		Category: strings.TrimSuffix(eventType, ".v1"),
	}
}

func formatWhen(t time.Time, zone string) string {
	if t.IsZero() {
		return "an unscheduled time"
	}
	loc := time.UTC
	if zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
}

var _ events.DeliveryHandler = (*Service)(nil)
