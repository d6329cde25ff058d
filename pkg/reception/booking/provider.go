package booking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-reception/pkg/store"
)

// Customer identifies the person being booked.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// Context is what a provider sees of a booking request.
type Context struct {
	BusinessID   string
	BusinessName string
	Service      string
	When         time.Time
	Customer     Customer
	Settings     map[string]string
}

// Availability is a provider's answer to a slot check.
type Availability struct {
	Available bool
	Reason    string
}

// Provider result statuses.
const (
	StatusConfirmed = store.BookingConfirmed
	StatusPending   = store.BookingPending
	StatusDeclined  = "declined"
)

// Result is a provider's booking decision.
type Result struct {
	Status            string
	MessageOverride   string
	ExternalReference string
}

// Provider is a pluggable scheduling back end.
type Provider interface {
	Name() string
	CheckAvailability(ctx context.Context, bc Context) (Availability, error)
	CreateBooking(ctx context.Context, bc Context) (Result, error)
	AfterBooking(ctx context.Context, bc Context, bookingID string) error
}

// Native accepts every request and confirms immediately.
type Native struct{}

func (Native) Name() string { return "native" }

func (Native) CheckAvailability(context.Context, Context) (Availability, error) {
	return Availability{Available: true}, nil
}

func (Native) CreateBooking(context.Context, Context) (Result, error) {
	return Result{Status: StatusConfirmed}, nil
}

func (Native) AfterBooking(context.Context, Context, string) error { return nil }

// Registry resolves providers by name, falling back to native.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns a registry holding the native provider.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(Native{})
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

// Resolve returns the configured provider or native.
func (r *Registry) Resolve(cfg store.Integrations) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[strings.ToLower(cfg.Provider)]; ok {
		return p
	}
	return r.providers["native"]
}
