package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu         sync.RWMutex
	businesses map[string]*Business
	policies   []Policy
	faqs       []FAQ
	bookings   []*Booking
	calls      map[string]*Call
	now        func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		businesses: make(map[string]*Business),
		calls:      make(map[string]*Call),
		now:        time.Now,
	}
}

// PutBusiness inserts or replaces a business. An empty ID is assigned.
func (m *Memory) PutBusiness(b Business) *Business {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	stored := b
	m.businesses[b.ID] = &stored
	return &b
}

// AddPolicy stores a policy.
func (m *Memory) AddPolicy(p Policy) Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now()
	}
	m.policies = append(m.policies, p)
	return p
}

// AddFAQ stores an FAQ.
func (m *Memory) AddFAQ(f FAQ) FAQ {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = m.now()
	}
	m.faqs = append(m.faqs, f)
	return f
}

func (m *Memory) GetBusiness(_ context.Context, id string) (*Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) GetBusinessByNumber(_ context.Context, phone string) (*Business, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.businesses {
		if b.TwilioNumber == phone {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindPolicies(_ context.Context, businessID, topic string, limit int) ([]Policy, error) {
	normalized, candidates := TopicCandidates(topic)
	m.mu.RLock()
	var out []Policy
	for _, p := range m.policies {
		if p.BusinessID == businessID && topicMatches(p.Topic, normalized, candidates) {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (m *Memory) FindFAQs(_ context.Context, businessID, topic string, limit int) ([]FAQ, error) {
	normalized, candidates := TopicCandidates(topic)
	m.mu.RLock()
	var out []FAQ
	for _, f := range m.faqs {
		if f.BusinessID == businessID && topicMatches(f.Topic, normalized, candidates) {
			out = append(out, f)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func (m *Memory) CreateBooking(_ context.Context, b *Booking) error {
	if b == nil || b.BusinessID == "" {
		return fmt.Errorf("store: booking requires business id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	cp := *b
	m.bookings = append(m.bookings, &cp)
	return nil
}

func (m *Memory) GetBooking(_ context.Context, businessID, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.ID == id && b.BusinessID == businessID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) LatestBookingByPhone(_ context.Context, businessID, phone string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Booking
	for _, b := range m.bookings {
		if b.BusinessID != businessID || b.CustomerPhone != phone {
			continue
		}
		if latest == nil || b.BookingDatetime.After(latest.BookingDatetime) {
			latest = b
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

// AllBookings returns a snapshot of every stored booking.
func (m *Memory) AllBookings() []Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Booking, len(m.bookings))
	for i, b := range m.bookings {
		out[i] = *b
	}
	return out
}

func (m *Memory) CreateCall(_ context.Context, c *Call) error {
	if c == nil {
		return fmt.Errorf("store: nil call")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = m.now()
	}
	cp := *c
	m.calls[c.ID] = &cp
	return nil
}

func (m *Memory) GetCall(_ context.Context, id string) (*Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateCall(_ context.Context, id string, u CallUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return ErrNotFound
	}
	if u.AppendTranscript != nil && *u.AppendTranscript != "" {
		if c.Transcript != "" {
			c.Transcript += "\n"
		}
		c.Transcript += *u.AppendTranscript
	}
	if u.Intent != nil {
		c.Intent = *u.Intent
	}
	if u.Outcome != nil {
		c.Outcome = *u.Outcome
	}
	if u.EndedAt != nil {
		ended := *u.EndedAt
		c.EndedAt = &ended
		c.DurationSeconds = int(ended.Sub(c.StartedAt).Seconds())
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}
