package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/store"
	"github.com/vango-go/vai-reception/pkg/telephony"
)

// Outcome reasons, in the order the preconditions are checked.
const (
	ReasonAlreadyCreated       = "already_created"
	ReasonMissingCallID        = "missing_call_id"
	ReasonAwaitingConfirmation = "waiting_for_user_confirmation"
	ReasonMissingDatetime      = "missing_datetime"
	ReasonMissingNameOrPhone   = "missing_name_or_phone"
	ReasonProviderUnavailable  = "provider_unavailable"
	ReasonProviderDeclined     = "provider_declined"
	ReasonCreated              = "created"
)

const (
	defaultServiceLabel         = "General"
	defaultDurationMinutes      = 60
	defaultNameExtractorTimeout = 3 * time.Second
)

// DisplayLayout renders booking times in messages.
const DisplayLayout = "Monday 02 Jan 2006 at 03:04 PM"

// NameExtractor is the model-backed last resort for finding the caller's
// name in free text.
type NameExtractor interface {
	ExtractName(ctx context.Context, utterances []string) (string, error)
}

// Request is one booking attempt.
type Request struct {
	Business       *store.Business
	CallID         string
	CallerPhone    string
	History        []types.Message
	UserText       string
	ModelText      string
	State          *State
	AlreadyCreated bool
}

// Outcome reports what MaybeCreate did. Blocked attempts carry a Reason and
// never an error.
type Outcome struct {
	Created          bool
	Reason           string
	Booking          *store.Booking
	ConfirmationText string
}

// Err classifies a blocked outcome as a core error; nil when created.
func (o Outcome) Err() error {
	switch o.Reason {
	case ReasonCreated, ReasonAlreadyCreated:
		return nil
	case ReasonProviderUnavailable, ReasonProviderDeclined:
		return core.NewProviderDecline("booking", o.Reason)
	default:
		return core.NewDomainBlock("booking", o.Reason)
	}
}

// Creator runs the ordered booking preconditions and, when they all hold,
// books through the business's provider.
type Creator struct {
	bookings    store.Bookings
	sms         telephony.SMSSender
	providers   *Registry
	names       NameExtractor
	nameTimeout time.Duration
	defaultFrom string
	logger      *slog.Logger
	now         func() time.Time
}

// CreatorOption configures a Creator.
type CreatorOption func(*Creator)

func WithProviders(r *Registry) CreatorOption {
	return func(c *Creator) {
		if r != nil {
			c.providers = r
		}
	}
}

func WithNameExtractor(n NameExtractor, timeout time.Duration) CreatorOption {
	return func(c *Creator) {
		c.names = n
		if timeout > 0 {
			c.nameTimeout = timeout
		}
	}
}

// WithDefaultFrom sets the SMS sender number used when a business has none.
func WithDefaultFrom(number string) CreatorOption {
	return func(c *Creator) { c.defaultFrom = number }
}

func WithLogger(l *slog.Logger) CreatorOption {
	return func(c *Creator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) CreatorOption {
	return func(c *Creator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCreator builds a Creator. sms may be nil.
func NewCreator(bookings store.Bookings, sms telephony.SMSSender, opts ...CreatorOption) *Creator {
	c := &Creator{
		bookings:    bookings,
		sms:         sms,
		providers:   NewRegistry(),
		nameTimeout: defaultNameExtractorTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current time in the business location.
func (c *Creator) Now(biz *store.Business) time.Time {
	if biz == nil {
		return c.now()
	}
	return c.now().In(biz.Location())
}

// MaybeCreate books the call's appointment if every precondition holds.
// Errors are reserved for provider and persistence failures.
func (c *Creator) MaybeCreate(ctx context.Context, req Request) (Outcome, error) {
	logger := c.logger.With("call_id", req.CallID)
	if req.Business != nil {
		logger = logger.With("business_id", req.Business.ID)
	}
	block := func(reason string, args ...any) (Outcome, error) {
		logger.Info("booking blocked", append([]any{"reason", reason}, args...)...)
		return Outcome{Reason: reason}, nil
	}

	if req.AlreadyCreated {
		return Outcome{Created: true, Reason: ReasonAlreadyCreated}, nil
	}
	if req.CallID == "" || req.Business == nil {
		return block(ReasonMissingCallID)
	}
	if !UserConfirms(req.UserText) {
		return block(ReasonAwaitingConfirmation)
	}

	state := req.State
	if state == nil {
		state = &State{}
	}
	now := c.Now(req.Business)

	// The newest spoken time wins over the slot-fill so a caller can change
	// their mind before confirming.
	when := ExtractDatetime(req.History, now)
	if when == nil {
		when = state.When
	}
	if when == nil {
		when = DatetimeFromText(req.ModelText, now)
	}
	if when == nil {
		return block(ReasonMissingDatetime)
	}

	name := c.resolveName(ctx, state, req.History)
	phone := firstNonEmpty(state.Phone, ExtractPhone(req.History), req.CallerPhone)
	if name == "" || phone == "" {
		return block(ReasonMissingNameOrPhone, "name_ok", name != "", "phone_ok", phone != "")
	}

	summary := IssueSummary(req.History)
	service := firstNonEmpty(state.Service, ExtractService(req.Business.ServiceNames(), req.History), summary, defaultServiceLabel)

	integrations := req.Business.AIConfig.WithDefaults().Integrations
	provider := c.providers.Resolve(integrations)
	bc := Context{
		BusinessID:   req.Business.ID,
		BusinessName: req.Business.Name,
		Service:      service,
		When:         *when,
		Customer:     Customer{Name: name, Phone: phone},
		Settings:     integrations.Settings,
	}

	var res Result
	if a := state.Accepted; a != nil && a.Provider == provider.Name() {
		// The provider already took this booking; only persistence is retried.
		bc, res = a.Context, a.Result
		logger.Info("retrying accepted booking", "provider", provider.Name())
	} else {
		avail, err := provider.CheckAvailability(ctx, bc)
		if err != nil {
			return Outcome{}, fmt.Errorf("check availability (%s): %w", provider.Name(), err)
		}
		if !avail.Available {
			return block(ReasonProviderUnavailable, "provider", provider.Name(), "detail", avail.Reason)
		}
		res, err = provider.CreateBooking(ctx, bc)
		if err != nil {
			return Outcome{}, fmt.Errorf("create booking (%s): %w", provider.Name(), err)
		}
		if res.Status == StatusDeclined {
			return block(ReasonProviderDeclined, "provider", provider.Name())
		}
		if res.Status == "" {
			res.Status = StatusConfirmed
		}
		state.Accepted = &Accepted{Provider: provider.Name(), Context: bc, Result: res}
	}
	when, service = &bc.When, bc.Service

	b := &store.Booking{
		BusinessID:      req.Business.ID,
		CallID:          req.CallID,
		CustomerName:    bc.Customer.Name,
		CustomerPhone:   bc.Customer.Phone,
		Service:         service,
		BookingDatetime: bc.When,
		DurationMinutes: durationFor(req.Business, service),
		Status:          res.Status,
		CustomerNotes:   summary,
	}
	if res.Status == StatusConfirmed {
		confirmedAt := c.now().UTC()
		b.ConfirmedAt = &confirmedAt
	}
	if res.ExternalReference != "" {
		b.InternalNotes = "Provider reference: " + res.ExternalReference
	}
	if err := c.bookings.CreateBooking(ctx, b); err != nil {
		return Outcome{}, fmt.Errorf("persist booking: %w", err)
	}
	state.Accepted = nil

	display := when.Format(DisplayLayout)
	c.notify(ctx, logger, req.Business, b, display, res.MessageOverride)

	if err := provider.AfterBooking(ctx, bc, b.ID); err != nil {
		logger.Warn("after-booking hook failed", "provider", provider.Name(), "err", err)
	}

	logger.Info("booking created", "booking_id", b.ID, "service", service, "when", display)
	return Outcome{
		Created:          true,
		Reason:           ReasonCreated,
		Booking:          b,
		ConfirmationText: fmt.Sprintf("Your appointment is confirmed for %s. You'll receive a confirmation message shortly.", display),
	}, nil
}

func (c *Creator) resolveName(ctx context.Context, state *State, history []types.Message) string {
	if state.Name != "" {
		return state.Name
	}
	if name := ExtractName(history); name != "" {
		return name
	}
	if c.names == nil {
		return ""
	}
	turns := userTurns(history)
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > 6 {
		turns = turns[:6]
	}
	// userTurns is newest first; the model reads oldest first.
	ordered := make([]string, len(turns))
	for i, t := range turns {
		ordered[len(turns)-1-i] = t
	}
	nctx, cancel := context.WithTimeout(ctx, c.nameTimeout)
	defer cancel()
	name, err := c.names.ExtractName(nctx, ordered)
	if err != nil {
		c.logger.Warn("name extraction failed", "err", err)
		return ""
	}
	return CleanNameToken(firstField(name))
}

func (c *Creator) notify(ctx context.Context, logger *slog.Logger, biz *store.Business, b *store.Booking, display, override string) {
	if c.sms == nil {
		return
	}
	from := firstNonEmpty(biz.TwilioNumber, c.defaultFrom)
	body := override
	if body == "" {
		body = fmt.Sprintf("Hi %s! Your %s appointment at %s is confirmed for %s.", b.CustomerName, b.Service, biz.Name, display)
	}
	if err := c.sms.SendSMS(ctx, b.CustomerPhone, from, body); err != nil {
		logger.Warn("confirmation sms failed", "booking_id", b.ID, "err", err)
	}
}

func durationFor(biz *store.Business, service string) int {
	for _, s := range biz.Services {
		if strings.EqualFold(s.Name, service) && s.DurationMinutes > 0 {
			return s.DurationMinutes
		}
	}
	return defaultDurationMinutes
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
