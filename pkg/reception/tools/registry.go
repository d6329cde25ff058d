// Package tools exposes the read-only, tenant-scoped data lookups the model
// may call during a turn.
package tools

import (
	"context"
	"strings"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/store"
)

const (
	ToolLatestBooking    = "get_latest_booking"
	ToolBookingByID      = "get_booking_by_id"
	ToolBusinessServices = "get_business_services"
	ToolWorkingHours     = "get_working_hours"
	ToolPolicies         = "get_policies"
	ToolFAQs             = "get_faqs"
)

// Error codes returned to the model inside a result.
const (
	ErrMissingBusinessID    = "missing_business_id"
	ErrMissingCustomerPhone = "missing_customer_phone"
	ErrMissingBookingID     = "missing_booking_id"
	ErrMissingTopic         = "missing_topic"
	ErrUnknownTool          = "unknown_tool"
	ErrLookupFailed         = "lookup_failed"
)

// Scope pins every lookup to the call's tenant.
type Scope struct {
	BusinessID  string
	CallerPhone string
}

// Result is the JSON object handed back to the model.
type Result map[string]any

func errorResult(code string) Result { return Result{"error": code} }

// Executor runs one named tool.
type Executor interface {
	Name() string
	Definition() types.Tool
	Execute(ctx context.Context, scope Scope, input map[string]any) (Result, error)
}

// Router dispatches tool calls by name.
type Router struct {
	byName map[string]Executor
	order  []string
}

// NewRouter wires the standard lookups against s.
func NewRouter(s store.Store) *Router {
	return NewRegistry(
		latestBooking{s},
		bookingByID{s},
		businessServices{s},
		workingHours{s},
		policies{s},
		faqs{s},
	)
}

// NewRegistry builds a router from arbitrary executors, keeping their order
// for Definitions.
func NewRegistry(executors ...Executor) *Router {
	r := &Router{byName: make(map[string]Executor, len(executors))}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		if _, dup := r.byName[ex.Name()]; !dup {
			r.order = append(r.order, ex.Name())
		}
		r.byName[ex.Name()] = ex
	}
	return r
}

// Definitions lists tool definitions for the completion request.
func (r *Router) Definitions() []types.Tool {
	if r == nil {
		return nil
	}
	out := make([]types.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Definition())
	}
	return out
}

// Has reports whether a tool is registered.
func (r *Router) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

// Execute runs a tool. Domain problems (missing arguments, unknown tool) are
// reported inside the Result; the error is reserved for data-layer failures.
func (r *Router) Execute(ctx context.Context, scope Scope, name string, input map[string]any) (Result, error) {
	if scope.BusinessID == "" {
		return errorResult(ErrMissingBusinessID), nil
	}
	if r == nil {
		return errorResult(ErrUnknownTool), nil
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return errorResult(ErrUnknownTool), nil
	}
	if input == nil {
		input = map[string]any{}
	}
	return ex.Execute(ctx, scope, input)
}

// ClarifyingQuestion returns the spoken follow-up when a call is missing a
// required argument, or "" when the call may proceed. get_latest_booking
// never asks: the caller id stands in for the phone number.
func ClarifyingQuestion(name string, input map[string]any) string {
	switch name {
	case ToolPolicies, ToolFAQs:
		if stringArg(input, "topic") == "" {
			return "Which topic should I check? For example: cancellation, pricing, or parking."
		}
	case ToolBookingByID:
		if stringArg(input, "booking_id") == "" {
			return "Do you have the booking ID?"
		}
	}
	return ""
}

func stringArg(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
