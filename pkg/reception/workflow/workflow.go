// Package workflow runs the deterministic per-turn handlers that follow the
// model's reply: policy lookups, opening-hours answers and booking creation.
package workflow

import (
	"context"
	"log/slog"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/reception/booking"
	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/store"
)

// Progress is the call state the handlers may change.
type Progress struct {
	Booking                   booking.State
	AwaitingFinalConfirmation bool
	BookingCreated            bool
}

// Turn is one completed exchange as the handlers see it. History already
// holds the caller's utterance and the model's reply.
type Turn struct {
	CallID      string
	CallerPhone string
	Business    *store.Business
	History     []types.Message
	UserText    string
	ModelText   string
	// Intent is this utterance's classification; Effective is the sticky
	// call intent, falling back to Intent.
	Intent    intent.Detected
	Effective intent.Intent
	Progress  *Progress
}

// Result is what a handler asks of the engine.
type Result struct {
	ShouldEndCall   bool
	StateChanged    bool
	BackendMessages []string
	// Booking is set on the turn that created one.
	Booking *store.Booking
}

func (r *Result) merge(o Result) {
	r.ShouldEndCall = r.ShouldEndCall || o.ShouldEndCall
	r.StateChanged = r.StateChanged || o.StateChanged
	r.BackendMessages = append(r.BackendMessages, o.BackendMessages...)
	if o.Booking != nil {
		r.Booking = o.Booking
	}
}

// Handler is one workflow step.
type Handler interface {
	Name() string
	HandleTurn(ctx context.Context, turn Turn) (Result, error)
}

// Pipeline runs handlers in order and merges their results.
type Pipeline struct {
	handlers []Handler
	logger   *slog.Logger
}

// NewPipeline keeps the given order. A nil logger uses slog.Default().
func NewPipeline(logger *slog.Logger, handlers ...Handler) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{logger: logger}
	for _, h := range handlers {
		if h != nil {
			p.handlers = append(p.handlers, h)
		}
	}
	return p
}

// Names lists handler names in run order.
func (p *Pipeline) Names() []string {
	out := make([]string, 0, len(p.handlers))
	for _, h := range p.handlers {
		out = append(out, h.Name())
	}
	return out
}

// Run executes every handler. A failing handler is logged and contributes
// nothing; the rest still run.
func (p *Pipeline) Run(ctx context.Context, turn Turn) Result {
	var out Result
	if turn.Progress == nil {
		turn.Progress = &Progress{}
	}
	for _, h := range p.handlers {
		res, err := h.HandleTurn(ctx, turn)
		if err != nil {
			p.logger.Warn("workflow failed", "workflow", h.Name(), "call_id", turn.CallID, "err", err)
			continue
		}
		out.merge(res)
	}
	return out
}
