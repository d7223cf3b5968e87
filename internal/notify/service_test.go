package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/immigration-casework/internal/events"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
)

type mockEmailSender struct {
	sent   []EmailMessage
	failOn string
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockEmailSender) recipients() []string {
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.To)
	}
	return out
}

type mockCases struct {
	cases map[string]*scheduling.Case
	err   error
}

func (m *mockCases) GetCase(_ context.Context, id string) (*scheduling.Case, error) {
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.cases[id]; ok {
		return c, nil
	}
	return nil, scheduling.ErrCaseNotFound
}

type mockStaff struct {
	members map[string]*scheduling.StaffRef
}

func (m *mockStaff) GetStaff(_ context.Context, id string) (*scheduling.StaffRef, error) {
	if s, ok := m.members[id]; ok {
		return s, nil
	}
	return nil, scheduling.ErrStaffNotFound
}

type mockDeduper struct {
	seen map[string]bool
}

func (m *mockDeduper) AlreadyProcessed(_ context.Context, consumer, id string) (bool, error) {
	return m.seen[consumer+":"+id], nil
}

func (m *mockDeduper) MarkProcessed(_ context.Context, consumer, id string) (bool, error) {
	key := consumer + ":" + id
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func newTestService(sender EmailSender) (*Service, *mockDeduper) {
	cases := &mockCases{cases: map[string]*scheduling.Case{
		"case-1": {ID: "case-1", OwnerUserID: "client-1", OwnerEmail: "client@example.com", OwnerName: "Ana"},
	}}
	staff := &mockStaff{members: map[string]*scheduling.StaffRef{
		"staff-1": {ID: "staff-1", Email: "attorney@example.com", Name: "Jordan"},
	}}
	dedupe := &mockDeduper{seen: map[string]bool{}}
	return NewService(sender, cases, staff, dedupe, nil), dedupe
}

func outboxEntry(t *testing.T, eventType string, p scheduling.EventPayload) events.OutboxEntry {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	env := events.Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		Aggregate:       p.AppointmentID,
		TimestampMicros: p.OccurredAt.UnixMicro(),
		Payload:         body,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return events.OutboxEntry{ID: uuid.New(), Aggregate: p.AppointmentID, Type: eventType, Payload: raw}
}

func basePayload() scheduling.EventPayload {
	start := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	return scheduling.EventPayload{
		AppointmentID: "appt-1",
		CaseID:        "case-1",
		StaffID:       "staff-1",
		ClientUserID:  "client-1",
		Status:        scheduling.StatusScheduled,
		StartAt:       start,
		EndAt:         start.Add(time.Hour),
		Timezone:      "America/New_York",
		OccurredAt:    start.Add(-24 * time.Hour),
	}
}

func TestHandleBookedNotifiesBothSides(t *testing.T) {
	sender := &mockEmailSender{}
	svc, _ := newTestService(sender)

	err := svc.Handle(context.Background(), outboxEntry(t, scheduling.EventAppointmentBooked, basePayload()))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"client@example.com", "attorney@example.com"}, sender.recipients())
	msg := sender.sent[0]
	assert.Equal(t, "Consultation booked", msg.Subject)
	assert.Contains(t, msg.Body, "Tuesday, March 3, 2026 at 10:00 AM EST")
	assert.Equal(t, "appointment.booked", msg.Category)
}

func TestHandleProposalTargetsCounterparty(t *testing.T) {
	expires := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		eventType string
		initiator scheduling.Side
		want      []string
	}{
		{"client proposes, staff hears", scheduling.EventRescheduleProposed, scheduling.SideClient, []string{"attorney@example.com"}},
		{"staff proposes, client hears", scheduling.EventRescheduleProposed, scheduling.SideStaff, []string{"client@example.com"}},
		{"rejection goes back to initiator", scheduling.EventRescheduleRejected, scheduling.SideClient, []string{"client@example.com"}},
		{"accepted goes to both", scheduling.EventRescheduleAccepted, scheduling.SideClient, []string{"client@example.com", "attorney@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockEmailSender{}
			svc, _ := newTestService(sender)
			p := basePayload()
			p.ProposalID = "prop-1"
			p.InitiatedBy = tt.initiator
			p.ExpiresAt = &expires
			p.Options = []time.Time{p.StartAt.Add(24 * time.Hour), p.StartAt.Add(48 * time.Hour), p.StartAt.Add(72 * time.Hour)}

			require.NoError(t, svc.Handle(context.Background(), outboxEntry(t, tt.eventType, p)))
			assert.ElementsMatch(t, tt.want, sender.recipients())
		})
	}
}

func TestHandleProposalListsOptions(t *testing.T) {
	sender := &mockEmailSender{}
	svc, _ := newTestService(sender)
	p := basePayload()
	p.InitiatedBy = scheduling.SideStaff
	p.Options = []time.Time{p.StartAt.Add(24 * time.Hour), p.StartAt.Add(48 * time.Hour), p.StartAt.Add(72 * time.Hour)}

	require.NoError(t, svc.Handle(context.Background(), outboxEntry(t, scheduling.EventRescheduleProposed, p)))
	require.Len(t, sender.sent, 1)
	body := sender.sent[0].Body
	assert.Contains(t, body, "Option 1: Wednesday, March 4")
	assert.Contains(t, body, "Option 3: Friday, March 6")
	assert.True(t, strings.HasPrefix(body, "Hello Ana,"))
}

func TestHandleSkipsDuplicates(t *testing.T) {
	sender := &mockEmailSender{}
	svc, _ := newTestService(sender)
	entry := outboxEntry(t, scheduling.EventAppointmentCancelled, basePayload())

	require.NoError(t, svc.Handle(context.Background(), entry))
	require.NoError(t, svc.Handle(context.Background(), entry))
	assert.Len(t, sender.sent, 2)
}

func TestHandleFailureLeavesEventUnprocessed(t *testing.T) {
	sender := &mockEmailSender{failOn: "attorney@example.com"}
	svc, dedupe := newTestService(sender)
	entry := outboxEntry(t, scheduling.EventAppointmentConfirmed, basePayload())

	err := svc.Handle(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 emails failed")
	assert.Empty(t, dedupe.seen)
}

func TestHandleIgnoresSilentEvents(t *testing.T) {
	sender := &mockEmailSender{}
	svc, dedupe := newTestService(sender)

	require.NoError(t, svc.Handle(context.Background(), outboxEntry(t, scheduling.EventAppointmentCompleted, basePayload())))
	require.NoError(t, svc.Handle(context.Background(), outboxEntry(t, scheduling.EventConsentRecorded, basePayload())))
	assert.Empty(t, sender.sent)
	assert.Len(t, dedupe.seen, 2)
}

func TestHandleMissingCaseStillNotifiesStaff(t *testing.T) {
	sender := &mockEmailSender{}
	svc, _ := newTestService(sender)
	p := basePayload()
	p.CaseID = "case-404"

	require.NoError(t, svc.Handle(context.Background(), outboxEntry(t, scheduling.EventAppointmentBooked, p)))
	assert.Equal(t, []string{"attorney@example.com"}, sender.recipients())
}

func TestHandleCaseLookupFailureIsRetried(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, &mockCases{err: errors.New("db down")}, &mockStaff{}, nil, nil)

	err := svc.Handle(context.Background(), outboxEntry(t, scheduling.EventAppointmentBooked, basePayload()))
	require.Error(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleMalformedEntryIsDropped(t *testing.T) {
	sender := &mockEmailSender{}
	svc, _ := newTestService(sender)

	err := svc.Handle(context.Background(), events.OutboxEntry{ID: uuid.New(), Payload: json.RawMessage(`not json`)})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestComposeEscapesHTML(t *testing.T) {
	p := basePayload()
	p.Reason = "<script>alert(1)</script>"
	msg := compose(scheduling.EventAppointmentCancelled, p, recipient{email: "client@example.com", name: "Ana"})

	assert.Contains(t, msg.Body, "Reason: <script>alert(1)</script>")
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestFormatWhenFallsBackToUTC(t *testing.T) {
	ts := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "Tuesday, March 3, 2026 at 3:00 PM UTC", formatWhen(ts, "Not/AZone"))
	assert.Equal(t, "an unscheduled time", formatWhen(time.Time{}, ""))
}
