// Package store defines the receptionist's data-layer records and the narrow
// interfaces the call path consumes, with in-memory and Postgres backends.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a record does not exist (or is not visible to
// the requesting business).
var ErrNotFound = errors.New("store: not found")

// Business is a tenant: one receptionist number and its configuration.
type Business struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Industry     string       `json:"industry"`
	Phone        string       `json:"phone"`
	Email        string       `json:"email"`
	TwilioNumber string       `json:"twilio_number"`
	AIConfig     AIConfig     `json:"ai_config"`
	Services     []Service    `json:"services"`
	WorkingHours WorkingHours `json:"working_hours"`
}

// Location returns the business time zone.
func (b *Business) Location() *time.Location {
	return b.AIConfig.WithDefaults().Location()
}

// ServiceNames lists configured service names in order.
func (b *Business) ServiceNames() []string {
	names := make([]string, 0, len(b.Services))
	for _, s := range b.Services {
		if name := strings.TrimSpace(s.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Service is one bookable offering.
type Service struct {
	Name            string   `json:"name"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Price           *float64 `json:"price,omitempty"`
}

// WorkingHours maps a lowercase weekday name to a free-form hours string,
// e.g. {"monday": "7am-5pm"}.
type WorkingHours map[string]string

var weekdayOrder = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayHours is one entry of WorkingHours.
type DayHours struct {
	Day   string
	Hours string
}

// Ordered returns entries Monday first; unknown keys sort after Sunday.
func (w WorkingHours) Ordered() []DayHours {
	rank := func(day string) int {
		for i, d := range weekdayOrder {
			if d == strings.ToLower(day) {
				return i
			}
		}
		return len(weekdayOrder)
	}
	out := make([]DayHours, 0, len(w))
	for day, hours := range w {
		out = append(out, DayHours{Day: day, Hours: hours})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Day), rank(out[j].Day)
		if ri != rj {
			return ri < rj
		}
		return out[i].Day < out[j].Day
	})
	return out
}

// Policy is a saved business policy keyed by topic.
type Policy struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Topic      string    `json:"topic"`
	Content    string    `json:"content"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FAQ is a saved question and answer keyed by topic.
type FAQ struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Topic      string    `json:"topic"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Tags       []string  `json:"tags"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

// Booking is a created appointment.
type Booking struct {
	ID              string     `json:"id"`
	BusinessID      string     `json:"business_id"`
	CallID          string     `json:"call_id,omitempty"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	CustomerEmail   string     `json:"customer_email,omitempty"`
	Service         string     `json:"service"`
	BookingDatetime time.Time  `json:"booking_datetime"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CustomerNotes   string     `json:"customer_notes,omitempty"`
	InternalNotes   string     `json:"internal_notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Call outcomes.
const (
	OutcomeBooked         = "booked"
	OutcomeInquiryHandled = "inquiry_handled"
	OutcomeAbandoned      = "abandoned"
)

// Call is the persisted record of one phone call.
type Call struct {
	ID              string     `json:"id"`
	BusinessID      string     `json:"business_id"`
	CallSID         string     `json:"call_sid"`
	CallerPhone     string     `json:"caller_phone"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	Intent          string     `json:"intent,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
}

// CallUpdate carries optional call-record changes; nil fields are untouched.
type CallUpdate struct {
	AppendTranscript *string
	Intent           *string
	Outcome          *string
	EndedAt          *time.Time
}

// Businesses resolves tenant configuration.
type Businesses interface {
	GetBusiness(ctx context.Context, id string) (*Business, error)
	GetBusinessByNumber(ctx context.Context, phone string) (*Business, error)
}

// Knowledge looks up policies and FAQs by topic.
type Knowledge interface {
	FindPolicies(ctx context.Context, businessID, topic string, limit int) ([]Policy, error)
	FindFAQs(ctx context.Context, businessID, topic string, limit int) ([]FAQ, error)
}

// Bookings reads and creates bookings.
type Bookings interface {
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, businessID, id string) (*Booking, error)
	LatestBookingByPhone(ctx context.Context, businessID, phone string) (*Booking, error)
}

// Calls persists call records.
type Calls interface {
	CreateCall(ctx context.Context, c *Call) error
	GetCall(ctx context.Context, id string) (*Call, error)
	UpdateCall(ctx context.Context, id string, u CallUpdate) error
}

// Store is the full data layer.
type Store interface {
	Businesses
	Knowledge
	Bookings
	Calls
	Ping(ctx context.Context) error
	Close()
}
