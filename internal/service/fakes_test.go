package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"mentorship/internal/model"
	"mentorship/internal/repository"

	"github.com/google/uuid"
)

// memBookings is an in-memory BookingRepository with the same conditional
// update rules as the SQL one.
type memBookings struct {
	mu       sync.Mutex
	rows     map[string]*model.SessionBooking
	seq      int
	failOn   map[string]error // booking id -> error returned by Transition
	listErr  error
	onUpdate func(id string) // runs before a Transition is applied
}

func newMemBookings(rows ...model.SessionBooking) *memBookings {
	m := &memBookings{rows: map[string]*model.SessionBooking{}, failOn: map[string]error{}}
	for i := range rows {
		b := rows[i]
		m.rows[b.ID] = &b
	}
	return m
}

func (m *memBookings) Create(_ context.Context, b *model.SessionBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	b.ID = "new-" + strconv.Itoa(m.seq)
	b.Status = model.SessionScheduled
	c := *b
	m.rows[b.ID] = &c
	return nil
}

func (m *memBookings) GetByID(_ context.Context, id string) (*model.SessionBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *memBookings) ListActive(_ context.Context, f repository.BookingFilter) ([]model.SessionBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.SessionBooking
	for _, b := range m.rows {
		if b.Status.Terminal() {
			continue
		}
		if !f.From.IsZero() && b.ScheduledStart.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !b.ScheduledStart.Before(f.To) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (m *memBookings) Transition(_ context.Context, id string, from model.SessionStatus, t repository.Transition) (*model.SessionBooking, error) {
	if m.onUpdate != nil {
		m.onUpdate(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[id]; err != nil {
		return nil, err
	}
	if !from.CanTransition(t.To) {
		return nil, errors.New("transition not allowed")
	}
	b, ok := m.rows[id]
	if !ok || b.Status != from {
		return nil, repository.ErrStaleState
	}
	b.Status = t.To
	if t.IsDelayed != nil {
		b.IsDelayed = *t.IsDelayed
	}
	if t.ManualStartTime != nil {
		v := *t.ManualStartTime
		b.ManualStartTime = &v
	}
	if t.ActualEndTime != nil && b.ActualEndTime == nil {
		v := *t.ActualEndTime
		b.ActualEndTime = &v
	}
	b.UpdatedAt = t.At
	c := *b
	return &c, nil
}

func (m *memBookings) ListByMentor(_ context.Context, mentorID string, statuses []model.SessionStatus) ([]model.SessionBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionBooking
	for _, b := range m.rows {
		if b.MentorID == mentorID && statusIn(b.Status, statuses) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookings) ListByUser(_ context.Context, userID string, limit int) ([]model.SessionBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionBooking
	for _, b := range m.rows {
		if b.UserID == userID && len(out) < limit {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookings) CountByStatus(context.Context) (map[model.SessionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.SessionStatus]int{}
	for _, b := range m.rows {
		out[b.Status]++
	}
	return out, nil
}

func (m *memBookings) get(id string) model.SessionBooking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

// memUsers is an in-memory UserRepository.
type memUsers struct {
	mu   sync.Mutex
	rows map[string]*model.User
	// writes counts every mutation of subscription fields, for asserting
	// that a record was left untouched.
	writes map[string]int
}

func newMemUsers(users ...model.User) *memUsers {
	m := &memUsers{rows: map[string]*model.User{}, writes: map[string]int{}}
	for i := range users {
		u := users[i]
		m.rows[u.UserID] = &u
	}
	return m
}

func (m *memUsers) get(id string) model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) CountBySubscriptionStatus(context.Context) (map[model.SubscriptionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, u := range m.rows {
		out[u.Subscription.Status]++
	}
	return out, nil
}

func due(u *model.User, now time.Time) bool {
	s := u.Subscription
	return s.Status == model.SubscriptionActive && s.AutoRenewal && !s.IsTrialActive &&
		s.NextBillingDate != nil && !s.NextBillingDate.After(now)
}

func (m *memUsers) ListDueForRenewal(_ context.Context, now time.Time) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.rows {
		if due(u, now) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memUsers) ClaimRenewal(_ context.Context, userID string, owner uuid.UUID, now time.Time, ttl time.Duration) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok || !due(u, now) || (u.RenewalLeaseUntil != nil && !u.RenewalLeaseUntil.Before(now)) {
		return nil, repository.ErrLeaseHeld
	}
	until := now.Add(ttl)
	u.RenewalLeaseOwner = &owner
	u.RenewalLeaseUntil = &until
	c := *u
	return &c, nil
}

func (m *memUsers) owned(userID string, owner uuid.UUID) (*model.User, error) {
	u, ok := m.rows[userID]
	if !ok || u.RenewalLeaseOwner == nil || *u.RenewalLeaseOwner != owner {
		return nil, repository.ErrLeaseHeld
	}
	return u, nil
}

func (m *memUsers) CompleteRenewal(_ context.Context, userID string, owner uuid.UUID, nextBilling, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.owned(userID, owner)
	if err != nil {
		return err
	}
	u.Subscription.NextBillingDate = &nextBilling
	u.Subscription.LastPaymentDate = &paidAt
	u.Subscription.Status = model.SubscriptionActive
	u.RenewalLeaseOwner, u.RenewalLeaseUntil = nil, nil
	m.writes[userID]++
	return nil
}

func (m *memUsers) EndSubscription(_ context.Context, userID string, owner uuid.UUID, status model.SubscriptionStatus, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.owned(userID, owner)
	if err != nil {
		return err
	}
	u.Subscription.Status = status
	u.Subscription.AutoRenewal = false
	u.RenewalLeaseOwner, u.RenewalLeaseUntil = nil, nil
	m.writes[userID]++
	return nil
}

func (m *memUsers) ReleaseRenewal(_ context.Context, userID string, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, err := m.owned(userID, owner); err == nil {
		u.RenewalLeaseOwner, u.RenewalLeaseUntil = nil, nil
	}
	return nil
}

func (m *memUsers) ListExpiredTrials(_ context.Context, now time.Time) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.rows {
		s := u.Subscription
		if s.IsTrialActive && s.TrialEndDate != nil && !s.TrialEndDate.After(now) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memUsers) ExpireTrial(_ context.Context, userID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok || !u.Subscription.IsTrialActive || u.Subscription.TrialEndDate.After(now) {
		return repository.ErrStaleState
	}
	u.Subscription = model.Subscription{Status: model.SubscriptionInactive, TrialUsed: true, TrialEndDate: u.Subscription.TrialEndDate}
	m.writes[userID]++
	return nil
}

func (m *memUsers) StartTrial(_ context.Context, userID string, plan model.Plan, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok || u.Subscription.TrialUsed || u.Subscription.Status == model.SubscriptionActive {
		return repository.ErrStaleState
	}
	monthly := model.BillingMonthly
	u.Subscription = model.Subscription{
		Plan:            &plan,
		Status:          model.SubscriptionActive,
		BillingPeriod:   &monthly,
		NextBillingDate: &end,
		AutoRenewal:     true,
		IsTrialActive:   true,
		TrialEndDate:    &end,
		TrialUsed:       true,
	}
	m.writes[userID]++
	return nil
}

func (m *memUsers) DisableAutoRenewal(_ context.Context, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.rows[userID]
	if !ok || u.Subscription.Status != model.SubscriptionActive {
		return repository.ErrStaleState
	}
	u.Subscription.AutoRenewal = false
	m.writes[userID]++
	return nil
}

// fakeProvider answers FetchState from a table keyed by subscription ref.
type fakeProvider struct {
	mu        sync.Mutex
	states    map[string]ProviderState
	errs      map[string]error
	block     map[string]bool // refs whose call waits for ctx to end
	cancelErr error
	cancelled []string
	calls     int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{states: map[string]ProviderState{}, errs: map[string]error{}, block: map[string]bool{}}
}

func (p *fakeProvider) FetchState(ctx context.Context, ref string) (ProviderState, string, error) {
	p.mu.Lock()
	p.calls++
	state, err, block := p.states[ref], p.errs[ref], p.block[ref]
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if err != nil {
		return "", "", err
	}
	return state, string(state), nil
}

func (p *fakeProvider) CancelAtPeriodEnd(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, ref)
	return nil
}

// recordingPublisher keeps every published payload.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, payload)
	return strconv.Itoa(len(p.msgs)), nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func ptr[T any](v T) *T { return &v }
