package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/reception/booking"
	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/store"
)

// ServiceClassifier maps the caller's description of their problem to one of
// the business's configured services. It returns "" when none fits.
type ServiceClassifier interface {
	ClassifyService(ctx context.Context, biz *store.Business, utterances []string) (string, error)
}

const (
	classifierUtterances     = 12
	defaultClassifierTimeout = 3 * time.Second
)

// Booking drives slot filling and booking creation once the caller has asked
// to book.
type Booking struct {
	creator           *booking.Creator
	classifier        ServiceClassifier
	classifierTimeout time.Duration
	logger            *slog.Logger
}

// BookingOption configures a Booking handler.
type BookingOption func(*Booking)

// WithServiceClassifier enables the model-backed service fallback, bounded
// by timeout.
func WithServiceClassifier(c ServiceClassifier, timeout time.Duration) BookingOption {
	return func(b *Booking) {
		b.classifier = c
		if timeout > 0 {
			b.classifierTimeout = timeout
		}
	}
}

func WithBookingLogger(l *slog.Logger) BookingOption {
	return func(b *Booking) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBooking(creator *booking.Creator, opts ...BookingOption) *Booking {
	b := &Booking{
		creator:           creator,
		classifierTimeout: defaultClassifierTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (*Booking) Name() string { return "booking" }

func (h *Booking) HandleTurn(ctx context.Context, turn Turn) (Result, error) {
	var res Result
	if turn.Effective != intent.Booking || turn.Business == nil {
		return res, nil
	}
	p := turn.Progress
	model := turn.ModelText

	asksFinalization := booking.RequestsFinalization(model)
	if asksFinalization {
		p.AwaitingFinalConfirmation = true
	}

	h.fillState(ctx, turn)
	now := h.creator.Now(turn.Business)

	created := false
	var outcome booking.Outcome
	if p.AwaitingFinalConfirmation && booking.UserConfirms(turn.UserText) {
		var err error
		outcome, err = h.creator.MaybeCreate(ctx, booking.Request{
			Business:       turn.Business,
			CallID:         turn.CallID,
			CallerPhone:    turn.CallerPhone,
			History:        turn.History,
			UserText:       turn.UserText,
			ModelText:      model,
			State:          &p.Booking,
			AlreadyCreated: p.BookingCreated,
		})
		if err != nil {
			return res, fmt.Errorf("create booking: %w", err)
		}
		created = outcome.Created
	}

	if created {
		p.BookingCreated = true
		p.AwaitingFinalConfirmation = false
		res.StateChanged = true
		if outcome.Booking != nil {
			p.Booking.Confirm(outcome.Booking.ID)
			res.Booking = outcome.Booking
		}
	}

	// The model sometimes claims success on its own; correct it.
	if !created && !p.BookingCreated && !asksFinalization && booking.SoundsConfirmed(model) && booking.UserConfirms(turn.UserText) {
		res.BackendMessages = append(res.BackendMessages,
			booking.MissingPrompt(&p.Booking, turn.History, model, turn.CallerPhone, now))
	}
	if created && outcome.ConfirmationText != "" && !booking.SoundsConfirmed(model) {
		res.BackendMessages = append(res.BackendMessages, outcome.ConfirmationText)
	}
	return res, nil
}

// fillState updates the slot-fill from the conversation so far.
func (h *Booking) fillState(ctx context.Context, turn Turn) {
	state := &turn.Progress.Booking
	services := turn.Business.ServiceNames()

	if state.Service == "" {
		state.FillService(booking.ExtractService(services, turn.History))
	}
	if state.Service == "" && len(services) > 0 && h.classifier != nil {
		state.FillService(h.classify(ctx, turn, services))
	}

	if state.When == nil {
		now := h.creator.Now(turn.Business)
		when := booking.ExtractDatetime(turn.History, now)
		if when == nil {
			when = booking.DatetimeFromText(turn.ModelText, now)
		}
		state.FillWhen(when)
	}
	state.FillName(booking.ExtractName(turn.History))
	// The caller id is only a fallback at creation time; a spoken number
	// given later must still win.
	state.FillPhone(booking.ExtractPhone(turn.History))
}

func (h *Booking) classify(ctx context.Context, turn Turn, services []string) string {
	var utterances []string
	for _, m := range turn.History {
		if m.Role != types.RoleUser {
			continue
		}
		if text := strings.TrimSpace(m.TextContent()); text != "" {
			utterances = append(utterances, text)
		}
	}
	if len(utterances) == 0 {
		return ""
	}
	if len(utterances) > classifierUtterances {
		utterances = utterances[len(utterances)-classifierUtterances:]
	}
	cctx, cancel := context.WithTimeout(ctx, h.classifierTimeout)
	defer cancel()
	name, err := h.classifier.ClassifyService(cctx, turn.Business, utterances)
	if err != nil {
		h.logger.Warn("service classification failed", "call_id", turn.CallID, "err", err)
		return ""
	}
	matched := booking.MatchService(services, name)
	if matched != "" {
		h.logger.Info("service classified", "call_id", turn.CallID, "service", matched)
	}
	return matched
}
