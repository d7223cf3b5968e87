package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
// WithTx holds a store-wide lock and restores a snapshot when fn fails.
type MemoryStore struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	appointments map[string]Appointment
	proposals    map[string]RescheduleProposal
	events       []Event
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments: make(map[string]Appointment),
		proposals:    make(map[string]RescheduleProposal),
	}
}

type memTxKey struct{}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// LockStaff is a no-op; WithTx already serialises every transaction.
func (s *MemoryStore) LockStaff(context.Context, string) error {
	return nil
}

type memSnapshot struct {
	appointments map[string]Appointment
	proposals    map[string]RescheduleProposal
	events       int
}

func (s *MemoryStore) snapshot() memSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memSnapshot{
		appointments: make(map[string]Appointment, len(s.appointments)),
		proposals:    make(map[string]RescheduleProposal, len(s.proposals)),
		events:       len(s.events),
	}
	for k, v := range s.appointments {
		snap.appointments[k] = v
	}
	for k, v := range s.proposals {
		snap.proposals[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = snap.appointments
	s.proposals = snap.proposals
	s.events = s.events[:snap.events]
}

func (s *MemoryStore) CreateAppointment(_ context.Context, appt *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if appt.Status.IsActive() {
		for _, other := range s.appointments {
			if other.CaseID == appt.CaseID && other.Status.IsActive() {
				return ErrActiveAppointmentExists
			}
		}
	}
	s.appointments[appt.ID] = *appt
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &appt, nil
}

func (s *MemoryStore) UpdateAppointment(_ context.Context, appt *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[appt.ID]; !ok {
		return ErrAppointmentNotFound
	}
	s.appointments[appt.ID] = *appt
	return nil
}

func (s *MemoryStore) FindActiveAppointmentForCase(_ context.Context, caseID string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, appt := range s.appointments {
		if appt.CaseID == caseID && appt.Status.IsActive() {
			found := appt
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListStaffAppointments(_ context.Context, staffID string, from, to time.Time) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, appt := range s.appointments {
		if appt.StaffID != staffID || appt.Status == StatusCancelled {
			continue
		}
		if overlaps(from, to, appt.StartAt, appt.EndAt) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, filter AppointmentFilter) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Appointment
	for _, appt := range s.appointments {
		if filter.CaseID != "" && appt.CaseID != filter.CaseID {
			continue
		}
		if filter.StaffID != "" && appt.StaffID != filter.StaffID {
			continue
		}
		if filter.ClientUserID != "" && appt.ClientUserID != filter.ClientUserID {
			continue
		}
		out = append(out, appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateProposal(_ context.Context, p *RescheduleProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == ProposalPending {
		for _, other := range s.proposals {
			if other.AppointmentID == p.AppointmentID && other.Status == ProposalPending {
				return ErrPendingProposalExists
			}
		}
	}
	s.proposals[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*RescheduleProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpdateProposal(_ context.Context, p *RescheduleProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; !ok {
		return ErrProposalNotFound
	}
	s.proposals[p.ID] = *p
	return nil
}

func (s *MemoryStore) FindPendingProposal(_ context.Context, appointmentID string) (*RescheduleProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.proposals {
		if p.AppointmentID == appointmentID && p.Status == ProposalPending {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CountProposalsBySide(_ context.Context, appointmentID string, side Side) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.proposals {
		if p.AppointmentID == appointmentID && p.InitiatedBy == side {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListProposals(_ context.Context, appointmentID string) ([]RescheduleProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RescheduleProposal
	for _, p := range s.proposals {
		if p.AppointmentID == appointmentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListExpiredPending(_ context.Context, asOf time.Time, limit int) ([]RescheduleProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RescheduleProposal
	for _, p := range s.proposals {
		if p.IsExpired(asOf) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordEvent(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// Events returns a copy of every recorded event in order.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

var _ Store = (*MemoryStore)(nil)
