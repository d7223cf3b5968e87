package scheduling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/immigration-casework/internal/caller"
)

func TestCreateAppointmentBooksAndLocksInterview(t *testing.T) {
	f := newFixture()
	start := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

	appt, err := f.book("case-1", ownerCaller, start)
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, "staff-1", appt.StaffID)
	assert.Equal(t, "client-1", appt.ClientUserID)
	assert.Equal(t, start.Add(time.Hour), appt.EndAt)
	assert.Equal(t, -300, appt.OffsetMinutes)
	assert.False(t, appt.OffsetResolutionFailed)
	assert.True(t, f.cases.locked("case-1"))
	assert.Equal(t, 1, f.cases.touched["case-1"])
	assert.Equal(t, []string{EventAppointmentBooked}, f.eventTypes())
	assert.Equal(t, []string{"appointment.created"}, f.audit.actions())
}

func TestCreateAppointmentDefaultsDuration(t *testing.T) {
	f := newFixture(WithDefaultDuration(45))
	start := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

	appt, err := f.service.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CaseID:         "case-1",
		PreferredStart: start,
	}, ownerCaller)
	require.NoError(t, err)
	assert.Equal(t, 45, appt.DurationMinutes())
	assert.True(t, appt.OffsetResolutionFailed)
	assert.Zero(t, appt.OffsetMinutes)
}

func TestCreateAppointmentBufferConflicts(t *testing.T) {
	f := newFixture(WithBuffer(30 * time.Minute))
	first := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	_, err := f.book("case-1", ownerCaller, first)
	require.NoError(t, err)

	// 11:15 starts inside the 30 minute buffer after the 10:00-11:00 booking.
	_, err = f.book("case-2", staffCaller, first.Add(75*time.Minute))
	assert.ErrorIs(t, err, ErrSchedulingConflict)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.False(t, f.cases.locked("case-2"))

	// 11:30 pads back to exactly 11:00, which only touches the earlier booking.
	appt, err := f.book("case-2", staffCaller, first.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "client-2", appt.ClientUserID)
}

func TestCreateAppointmentRejectsSecondActive(t *testing.T) {
	f := newFixture()
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	_, err := f.book("case-1", ownerCaller, start)
	require.NoError(t, err)
	_, err = f.book("case-1", ownerCaller, start.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrActiveAppointmentExists)
}

func TestCreateAppointmentFailures(t *testing.T) {
	start := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		setup func(*fixture)
		req   CreateAppointmentRequest
		who   caller.Caller
		want  error
		kind  Kind
	}{
		{
			name: "unauthenticated",
			req:  CreateAppointmentRequest{CaseID: "case-1", PreferredStart: start},
			who:  caller.Caller{},
			want: ErrUnauthenticated,
		},
		{
			name: "missing case id",
			req:  CreateAppointmentRequest{PreferredStart: start},
			who:  ownerCaller,
			kind: KindValidation,
		},
		{
			name: "duration too long",
			req:  CreateAppointmentRequest{CaseID: "case-1", PreferredStart: start, DurationMinutes: 600},
			who:  ownerCaller,
			kind: KindValidation,
		},
		{
			name: "unknown case",
			req:  CreateAppointmentRequest{CaseID: "case-404", PreferredStart: start},
			who:  ownerCaller,
			want: ErrCaseNotFound,
		},
		{
			name: "other client",
			req:  CreateAppointmentRequest{CaseID: "case-1", PreferredStart: start},
			who:  strangerCli,
			want: ErrForbidden,
		},
		{
			name:  "no staff",
			setup: func(f *fixture) { f.staff.members = nil },
			req:   CreateAppointmentRequest{CaseID: "case-1", PreferredStart: start},
			who:   ownerCaller,
			want:  ErrNoStaffAvailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.service.CreateAppointment(context.Background(), tc.req, tc.who)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			if tc.kind != "" {
				assert.Equal(t, tc.kind, KindOf(err))
			}
			assert.Empty(t, f.store.Events())
		})
	}
}

func TestCreateAppointmentRollsBackOnCaseStoreFailure(t *testing.T) {
	f := newFixture()
	f.cases.lockErr = errBoom

	_, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, KindOf(err))

	active, err := f.store.FindActiveAppointmentForCase(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Empty(t, f.store.Events())
	assert.Empty(t, f.audit.actions())
}

func TestCancelAppointmentCascadesPendingProposal(t *testing.T) {
	f := newFixture()
	appt, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	p, err := f.negotiator.ProposeReschedule(context.Background(), appt.ID, ProposeRequest{
		Side:     SideStaff,
		Options:  [OptionCount]time.Time{testNow.Add(48 * time.Hour), testNow.Add(72 * time.Hour), testNow.Add(96 * time.Hour)},
		Timezone: "America/New_York",
	}, staffCaller)
	require.NoError(t, err)

	cancelled, err := f.service.CancelAppointment(context.Background(), appt.ID, "  moved abroad ", ownerCaller)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "moved abroad", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)
	assert.False(t, f.cases.locked("case-1"))

	stored, err := f.store.GetProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProposalCancelled, stored.Status)

	assert.Equal(t, []string{
		EventAppointmentBooked,
		EventRescheduleProposed,
		EventRescheduleCancelled,
		EventAppointmentCancelled,
	}, f.eventTypes())

	_, err = f.service.CancelAppointment(context.Background(), appt.ID, "", ownerCaller)
	assert.ErrorIs(t, err, ErrTerminalState)

	// The case is free for a new booking.
	_, err = f.book("case-1", ownerCaller, time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestCancelAppointmentPermissions(t *testing.T) {
	f := newFixture()
	appt, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = f.service.CancelAppointment(context.Background(), appt.ID, "", strangerCli)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.CancelAppointment(context.Background(), appt.ID, "", otherStaff)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.CancelAppointment(context.Background(), "nope", "", ownerCaller)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = f.service.CancelAppointment(context.Background(), appt.ID, "conflict", adminCaller)
	assert.NoError(t, err)
}

func TestConfirmAndCompleteLifecycle(t *testing.T) {
	f := newFixture()
	appt, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = f.service.ConfirmAppointment(context.Background(), appt.ID, ownerCaller)
	assert.ErrorIs(t, err, ErrForbidden)

	confirmed, err := f.service.ConfirmAppointment(context.Background(), appt.ID, staffCaller)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	_, err = f.service.ConfirmAppointment(context.Background(), appt.ID, staffCaller)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.clock.Advance(26 * time.Hour)
	completed, err := f.service.CompleteAppointment(context.Background(), appt.ID, staffCaller)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = f.service.CompleteAppointment(context.Background(), appt.ID, staffCaller)
	assert.ErrorIs(t, err, ErrTerminalState)
	_, err = f.service.CancelAppointment(context.Background(), appt.ID, "", ownerCaller)
	assert.ErrorIs(t, err, ErrTerminalState)
}

func TestGiveRecordingConsentIsIdempotent(t *testing.T) {
	f := newFixture()
	appt, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = f.service.GiveRecordingConsent(context.Background(), appt.ID, staffCaller)
	assert.ErrorIs(t, err, ErrForbidden)

	first, err := f.service.GiveRecordingConsent(context.Background(), appt.ID, ownerCaller)
	require.NoError(t, err)
	require.NotNil(t, first.ConsentGivenAt)
	givenAt := *first.ConsentGivenAt

	f.clock.Advance(time.Hour)
	second, err := f.service.GiveRecordingConsent(context.Background(), appt.ID, ownerCaller)
	require.NoError(t, err)
	assert.True(t, second.RecordingConsent)
	assert.Equal(t, givenAt, *second.ConsentGivenAt)
	assert.Equal(t, []string{EventAppointmentBooked, EventConsentRecorded}, f.eventTypes())
}

func TestGetAppointmentAndHistory(t *testing.T) {
	f := newFixture()
	appt, err := f.book("case-1", ownerCaller, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	got, err := f.service.GetAppointment(context.Background(), appt.ID, otherStaff)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.service.GetAppointment(context.Background(), appt.ID, strangerCli)
	assert.ErrorIs(t, err, ErrForbidden)

	history, err := f.service.GetAppointmentHistory(context.Background(), "case-1", ownerCaller)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, err = f.service.GetAppointmentHistory(context.Background(), "case-1", strangerCli)
	assert.ErrorIs(t, err, ErrForbidden)

	mine, err := f.service.GetAppointmentHistory(context.Background(), "", ownerCaller)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	assigned, err := f.service.GetAppointmentHistory(context.Background(), "", staffCaller)
	require.NoError(t, err)
	assert.Len(t, assigned, 1)

	none, err := f.service.GetAppointmentHistory(context.Background(), "", strangerCli)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateAppointmentOverlappingShortBookings(t *testing.T) {
	f := newFixture(WithBuffer(30 * time.Minute))
	ten := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	_, err := f.service.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CaseID: "case-1", PreferredStart: ten, DurationMinutes: 30,
	}, ownerCaller)
	require.NoError(t, err)

	_, err = f.service.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CaseID: "case-2", PreferredStart: ten.Add(25 * time.Minute), DurationMinutes: 30,
	}, staffCaller)
	require.Error(t, err)
	assert.Equal(t, "conflict: scheduling conflict", err.Error())
}

type fakeAuditLog struct {
	targets []string
}

func (f *fakeAuditLog) ListForTargets(_ context.Context, targetIDs []string, _ int) ([]AuditRecord, error) {
	f.targets = targetIDs
	return []AuditRecord{{ID: "1", Action: "appointment.created", TargetID: targetIDs[0]}}, nil
}

func TestAuditTrailIsStaffOnly(t *testing.T) {
	log := &fakeAuditLog{}
	f := newFixture(WithAuditLog(log))
	appt, err := f.book("case-1", ownerCaller, day1)
	require.NoError(t, err)
	p, err := f.propose(t, appt.ID, SideClient, ownerCaller, freeOptions())
	require.NoError(t, err)

	_, err = f.service.AuditTrail(context.Background(), appt.ID, ownerCaller)
	assert.ErrorIs(t, err, ErrForbidden)

	records, err := f.service.AuditTrail(context.Background(), appt.ID, otherStaff)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{appt.ID, p.ID}, log.targets)
}

func TestCreateAppointmentConcurrentOverlapsBookOnce(t *testing.T) {
	const workers = 8
	buffer := 30 * time.Minute
	f := newFixture(WithBuffer(buffer))
	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("case-c%d", i)
		f.cases.cases[id] = &Case{ID: id, OwnerUserID: fmt.Sprintf("client-c%d", i), Status: "open"}
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = f.book(fmt.Sprintf("case-c%d", i), staffCaller, base.Add(time.Duration(i)*10*time.Minute))
		}(i)
	}
	close(start)
	wg.Wait()

	booked := 0
	for i, err := range results {
		if err == nil {
			booked++
			continue
		}
		assert.ErrorIs(t, err, ErrSchedulingConflict, "worker %d", i)
	}
	assert.Equal(t, 1, booked)

	appts, err := f.store.ListStaffAppointments(context.Background(), "staff-1", base.Add(-24*time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, appts, 1)
	for i := range appts {
		for j := range appts {
			if i == j {
				continue
			}
			padStart, padEnd := padded(appts[i].StartAt, appts[i].DurationMinutes(), buffer)
			assert.False(t, overlaps(padStart, padEnd, appts[j].StartAt, appts[j].EndAt),
				"%s and %s overlap within the buffer", appts[i].ID, appts[j].ID)
		}
	}
}
