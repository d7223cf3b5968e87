package scheduling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/immigration-casework/internal/caller"
	"github.com/wolfman30/immigration-casework/internal/clock"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeCases struct {
	mu       sync.Mutex
	cases    map[string]*Case
	touched  map[string]int
	lockErr  error
	getCalls int
}

func newFakeCases(cs ...*Case) *fakeCases {
	f := &fakeCases{cases: map[string]*Case{}, touched: map[string]int{}}
	for _, c := range cs {
		f.cases[c.ID] = c
	}
	return f
}

func (f *fakeCases) GetCase(_ context.Context, caseID string) (*Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	c, ok := f.cases[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCases) SetInterviewLocked(_ context.Context, caseID string, locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lockErr != nil {
		return f.lockErr
	}
	if c, ok := f.cases[caseID]; ok {
		c.InterviewLocked = locked
	}
	return nil
}

func (f *fakeCases) TouchActivity(_ context.Context, caseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[caseID]++
	return nil
}

func (f *fakeCases) locked(caseID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cases[caseID].InterviewLocked
}

type fakeStaff struct {
	members []*StaffRef
	err     error
}

func (f *fakeStaff) FindEligibleStaff(context.Context, StaffCriteria) (*StaffRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.members) == 0 {
		return nil, nil
	}
	return f.members[0], nil
}

func (f *fakeStaff) GetStaff(_ context.Context, staffID string) (*StaffRef, error) {
	for _, m := range f.members {
		if m.ID == staffID {
			return m, nil
		}
	}
	return nil, ErrStaffNotFound
}

type fakeCalendar struct {
	slots []BusySlot
	err   error
	calls int
}

func (f *fakeCalendar) GetBusySlots(context.Context, string, time.Time, time.Time) ([]BusySlot, error) {
	f.calls++
	return f.slots, f.err
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, e AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

var (
	ownerCaller = caller.New("client-1", "client@example.com", "client")
	staffCaller = caller.New("staff-1", "attorney@example.com", "staff")
	otherStaff  = caller.New("staff-2", "paralegal@example.com", "staff")
	adminCaller = caller.New("admin-1", "admin@example.com", "admin")
	strangerCli = caller.New("client-9", "someone@example.com", "client")
)

type fixture struct {
	store      *MemoryStore
	cases      *fakeCases
	staff      *fakeStaff
	calendar   *fakeCalendar
	audit      *recordingAudit
	clock      *clock.Manual
	service    *Service
	negotiator *Negotiator
	avail      *AvailabilityAggregator
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		store: NewMemoryStore(),
		cases: newFakeCases(
			&Case{ID: "case-1", OwnerUserID: "client-1", OwnerEmail: "client@example.com", Status: "open"},
			&Case{ID: "case-2", OwnerUserID: "client-2", OwnerEmail: "second@example.com", Status: "open"},
		),
		staff:    &fakeStaff{members: []*StaffRef{{ID: "staff-1", Email: "attorney@example.com", Name: "Dana Attorney"}}},
		calendar: &fakeCalendar{},
		audit:    &recordingAudit{},
		clock:    clock.NewManual(testNow),
	}
	all := append([]Option{WithClock(f.clock), WithAuditSink(f.audit)}, opts...)
	f.service = NewService(f.store, f.cases, f.staff, all...)
	f.negotiator = NewNegotiator(f.store, f.cases, all...)
	f.avail = NewAvailabilityAggregator(f.store, f.staff, f.calendar, all...)
	return f
}

func (f *fixture) book(caseID string, who caller.Caller, start time.Time) (*Appointment, error) {
	return f.service.CreateAppointment(context.Background(), CreateAppointmentRequest{
		CaseID:          caseID,
		PreferredStart:  start,
		DurationMinutes: 60,
		Timezone:        "America/New_York",
	}, who)
}

func (f *fixture) eventTypes() []string {
	evts := f.store.Events()
	out := make([]string, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
