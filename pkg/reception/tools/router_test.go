package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-reception/pkg/store"
)

func seeded(t *testing.T) (*store.Memory, *Router) {
	t.Helper()
	mem := store.NewMemory()
	mem.PutBusiness(store.Business{
		ID:           "biz-1",
		Name:         "Bondi Plumbing",
		Services:     []store.Service{{Name: "Blocked Drain", DurationMinutes: 90}},
		WorkingHours: store.WorkingHours{"monday": "7am-5pm"},
	})
	mem.PutBusiness(store.Business{ID: "biz-2", Name: "Other"})
	mem.AddPolicy(store.Policy{BusinessID: "biz-1", Topic: "callout_fee", Content: "$99 call-out fee."})
	mem.AddPolicy(store.Policy{BusinessID: "biz-2", Topic: "call_out_fee", Content: "other tenant"})
	mem.AddFAQ(store.FAQ{BusinessID: "biz-1", Topic: "parking", Question: "Where do I park?", Answer: "Street parking."})

	when := time.Date(2026, 10, 26, 10, 0, 0, 0, time.UTC)
	require.NoError(t, mem.CreateBooking(t.Context(), &store.Booking{
		ID: "b-1", BusinessID: "biz-1", CustomerName: "John", CustomerPhone: "0412000000",
		Service: "Blocked Drain", BookingDatetime: when, DurationMinutes: 90, Status: store.BookingConfirmed,
	}))
	require.NoError(t, mem.CreateBooking(t.Context(), &store.Booking{
		ID: "b-2", BusinessID: "biz-2", CustomerName: "Eve", CustomerPhone: "0412000000",
		Service: "Other", BookingDatetime: when.Add(time.Hour), Status: store.BookingConfirmed,
	}))
	return mem, NewRouter(mem)
}

func TestRouter_Definitions(t *testing.T) {
	t.Parallel()
	_, r := seeded(t)
	defs := r.Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		require.NotNil(t, d.InputSchema)
		assert.Equal(t, "object", d.InputSchema.Type)
		assert.NotContains(t, d.InputSchema.Properties, "business_id")
	}
	assert.Equal(t, []string{ToolLatestBooking, ToolBookingByID, ToolBusinessServices, ToolWorkingHours, ToolPolicies, ToolFAQs}, names)
}

func TestRouter_TenantScoping(t *testing.T) {
	t.Parallel()
	_, r := seeded(t)
	ctx := t.Context()

	res, err := r.Execute(ctx, Scope{}, ToolBusinessServices, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{"error": ErrMissingBusinessID}, res)

	// Another tenant's booking id is invisible.
	res, err = r.Execute(ctx, Scope{BusinessID: "biz-1"}, ToolBookingByID, map[string]any{"booking_id": "b-2"})
	require.NoError(t, err)
	assert.Equal(t, Result{"booking": nil}, res)

	res, err = r.Execute(ctx, Scope{BusinessID: "biz-1"}, ToolPolicies, map[string]any{"topic": "call-out fee"})
	require.NoError(t, err)
	pols := res["policies"].([]map[string]any)
	require.Len(t, pols, 1)
	assert.Equal(t, "$99 call-out fee.", pols[0]["content"])
}

func TestRouter_Lookups(t *testing.T) {
	t.Parallel()
	_, r := seeded(t)
	ctx := t.Context()
	scope := Scope{BusinessID: "biz-1", CallerPhone: "0412000000"}

	res, err := r.Execute(ctx, scope, ToolLatestBooking, nil)
	require.NoError(t, err)
	b := res["booking"].(map[string]any)
	assert.Equal(t, "b-1", b["booking_id"])
	assert.Equal(t, "2026-10-26T10:00:00Z", b["booking_datetime"])
	assert.NotContains(t, b, "customer_phone")

	res, err = r.Execute(ctx, Scope{BusinessID: "biz-1"}, ToolLatestBooking, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, Result{"error": ErrMissingCustomerPhone}, res)

	res, err = r.Execute(ctx, scope, ToolBookingByID, map[string]any{"booking_id": "b-1"})
	require.NoError(t, err)
	b = res["booking"].(map[string]any)
	assert.Equal(t, 90, b["duration_minutes"])
	assert.Equal(t, "0412000000", b["customer_phone"])

	res, err = r.Execute(ctx, scope, ToolBusinessServices, nil)
	require.NoError(t, err)
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"services":[{"name":"Blocked Drain","duration_minutes":90}]}`, string(raw))

	res, err = r.Execute(ctx, scope, ToolWorkingHours, nil)
	require.NoError(t, err)
	assert.Equal(t, store.WorkingHours{"monday": "7am-5pm"}, res["working_hours"])

	res, err = r.Execute(ctx, scope, ToolFAQs, map[string]any{"topic": "parking"})
	require.NoError(t, err)
	faqs := res["faqs"].([]map[string]any)
	require.Len(t, faqs, 1)
	assert.Equal(t, []string{}, faqs[0]["tags"])

	res, err = r.Execute(ctx, scope, ToolFAQs, map[string]any{"topic": "  "})
	require.NoError(t, err)
	assert.Equal(t, Result{"error": ErrMissingTopic}, res)

	res, err = r.Execute(ctx, scope, "delete_everything", nil)
	require.NoError(t, err)
	assert.Equal(t, Result{"error": ErrUnknownTool}, res)
}

type failingKnowledge struct{ store.Store }

func (failingKnowledge) FindPolicies(context.Context, string, string, int) ([]store.Policy, error) {
	return nil, errors.New("db down")
}

func TestRouter_StoreErrorPropagates(t *testing.T) {
	t.Parallel()
	mem, _ := seeded(t)
	r := NewRouter(failingKnowledge{mem})
	_, err := r.Execute(t.Context(), Scope{BusinessID: "biz-1"}, ToolPolicies, map[string]any{"topic": "pricing"})
	require.Error(t, err)
}

func TestClarifyingQuestion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Which topic should I check? For example: cancellation, pricing, or parking.", ClarifyingQuestion(ToolPolicies, nil))
	assert.Equal(t, "Which topic should I check? For example: cancellation, pricing, or parking.", ClarifyingQuestion(ToolFAQs, map[string]any{"topic": 3}))
	assert.Equal(t, "Do you have the booking ID?", ClarifyingQuestion(ToolBookingByID, map[string]any{}))
	assert.Empty(t, ClarifyingQuestion(ToolLatestBooking, nil))
	assert.Empty(t, ClarifyingQuestion(ToolPolicies, map[string]any{"topic": "pricing"}))
}
