package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/store"
)

func objectSchema(props map[string]types.JSONSchema, required ...string) *types.JSONSchema {
	no := false
	return &types.JSONSchema{Type: "object", Properties: props, Required: required, AdditionalProperties: &no}
}

func definition(name, description string, schema *types.JSONSchema) types.Tool {
	return types.Tool{Type: types.ToolTypeFunction, Name: name, Description: description, InputSchema: schema}
}

func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func bookingSummary(b *store.Booking, detailed bool) map[string]any {
	out := map[string]any{
		"booking_id":       b.ID,
		"status":           b.Status,
		"service":          b.Service,
		"booking_datetime": isoOrNil(b.BookingDatetime),
		"customer_name":    b.CustomerName,
	}
	if detailed {
		out["duration_minutes"] = b.DurationMinutes
		out["customer_phone"] = b.CustomerPhone
	}
	return out
}

type latestBooking struct{ s store.Bookings }

func (latestBooking) Name() string { return ToolLatestBooking }
func (latestBooking) Definition() types.Tool {
	return definition(ToolLatestBooking, "Get the most recent booking for a customer by phone number. Defaults to the caller's number.",
		objectSchema(map[string]types.JSONSchema{"customer_phone": {Type: "string"}}))
}
func (t latestBooking) Execute(ctx context.Context, scope Scope, input map[string]any) (Result, error) {
	phone := stringArg(input, "customer_phone")
	if phone == "" {
		phone = scope.CallerPhone
	}
	if phone == "" {
		return errorResult(ErrMissingCustomerPhone), nil
	}
	b, err := t.s.LatestBookingByPhone(ctx, scope.BusinessID, phone)
	if errors.Is(err, store.ErrNotFound) {
		return Result{"booking": nil}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest booking: %w", err)
	}
	return Result{"booking": bookingSummary(b, false)}, nil
}

type bookingByID struct{ s store.Bookings }

func (bookingByID) Name() string { return ToolBookingByID }
func (bookingByID) Definition() types.Tool {
	return definition(ToolBookingByID, "Get booking details by booking ID.",
		objectSchema(map[string]types.JSONSchema{"booking_id": {Type: "string"}}, "booking_id"))
}
func (t bookingByID) Execute(ctx context.Context, scope Scope, input map[string]any) (Result, error) {
	id := stringArg(input, "booking_id")
	if id == "" {
		return errorResult(ErrMissingBookingID), nil
	}
	b, err := t.s.GetBooking(ctx, scope.BusinessID, id)
	if errors.Is(err, store.ErrNotFound) {
		return Result{"booking": nil}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("booking by id: %w", err)
	}
	return Result{"booking": bookingSummary(b, true)}, nil
}

type businessServices struct{ s store.Businesses }

func (businessServices) Name() string { return ToolBusinessServices }
func (businessServices) Definition() types.Tool {
	return definition(ToolBusinessServices, "Get the list of services offered by the business.", objectSchema(nil))
}
func (t businessServices) Execute(ctx context.Context, scope Scope, _ map[string]any) (Result, error) {
	biz, err := t.s.GetBusiness(ctx, scope.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{"services": []store.Service{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("business services: %w", err)
	}
	services := biz.Services
	if services == nil {
		services = []store.Service{}
	}
	return Result{"services": services}, nil
}

type workingHours struct{ s store.Businesses }

func (workingHours) Name() string { return ToolWorkingHours }
func (workingHours) Definition() types.Tool {
	return definition(ToolWorkingHours, "Get working hours for the business.", objectSchema(nil))
}
func (t workingHours) Execute(ctx context.Context, scope Scope, _ map[string]any) (Result, error) {
	biz, err := t.s.GetBusiness(ctx, scope.BusinessID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{"working_hours": store.WorkingHours{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("working hours: %w", err)
	}
	hours := biz.WorkingHours
	if hours == nil {
		hours = store.WorkingHours{}
	}
	return Result{"working_hours": hours}, nil
}

// lookupLimit bounds policy and FAQ results returned to the model.
const lookupLimit = 10

type policies struct{ s store.Knowledge }

func (policies) Name() string { return ToolPolicies }
func (policies) Definition() types.Tool {
	return definition(ToolPolicies, "Get business policies by topic, e.g. cancellation, pricing, call_out_fee, parking.",
		objectSchema(map[string]types.JSONSchema{"topic": {Type: "string"}}, "topic"))
}
func (t policies) Execute(ctx context.Context, scope Scope, input map[string]any) (Result, error) {
	topic := stringArg(input, "topic")
	if topic == "" {
		return errorResult(ErrMissingTopic), nil
	}
	list, err := t.s.FindPolicies(ctx, scope.BusinessID, topic, lookupLimit)
	if err != nil {
		return nil, fmt.Errorf("policies: %w", err)
	}
	out := make([]map[string]any, 0, len(list))
	for _, p := range list {
		out = append(out, map[string]any{
			"id":         p.ID,
			"topic":      p.Topic,
			"content":    p.Content,
			"updated_at": isoOrNil(p.UpdatedAt),
		})
	}
	return Result{"topic": topic, "policies": out}, nil
}

type faqs struct{ s store.Knowledge }

func (faqs) Name() string { return ToolFAQs }
func (faqs) Definition() types.Tool {
	return definition(ToolFAQs, "Get frequently asked questions by topic.",
		objectSchema(map[string]types.JSONSchema{"topic": {Type: "string"}}, "topic"))
}
func (t faqs) Execute(ctx context.Context, scope Scope, input map[string]any) (Result, error) {
	topic := stringArg(input, "topic")
	if topic == "" {
		return errorResult(ErrMissingTopic), nil
	}
	list, err := t.s.FindFAQs(ctx, scope.BusinessID, topic, lookupLimit)
	if err != nil {
		return nil, fmt.Errorf("faqs: %w", err)
	}
	out := make([]map[string]any, 0, len(list))
	for _, f := range list {
		tags := f.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, map[string]any{
			"id":         f.ID,
			"topic":      f.Topic,
			"question":   f.Question,
			"answer":     f.Answer,
			"tags":       tags,
			"updated_at": isoOrNil(f.UpdatedAt),
		})
	}
	return Result{"topic": topic, "faqs": out}, nil
}
