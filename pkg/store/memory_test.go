package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTopic(t *testing.T) {
	cases := map[string]string{
		"Call-out Fee":  "callout_fee",
		"call out fee":  "callout_fee",
		" After Hours ": "after_hours",
		"Parking!":      "parking",
		"refund-policy": "refund_policy",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTopic(in), "NormalizeTopic(%q)", in)
	}
}

func TestTopicCandidates_IncludesAliases(t *testing.T) {
	normalized, candidates := TopicCandidates("call_out_fee")
	assert.Equal(t, "call_out_fee", normalized)
	assert.Equal(t, []string{"call_out_fee", "callout_fee"}, candidates)

	_, candidates = TopicCandidates("Refunds")
	assert.Equal(t, []string{"Refunds", "refunds", "refund_policy"}, candidates)
}

func TestMemory_FindPoliciesByTopicNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	biz := m.PutBusiness(Business{Name: "Drain Bros"})
	other := m.PutBusiness(Business{Name: "Other"})

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.AddPolicy(Policy{BusinessID: biz.ID, Topic: "callout_fee", Content: "old", UpdatedAt: base})
	m.AddPolicy(Policy{BusinessID: biz.ID, Topic: "call_out_fee", Content: "new", UpdatedAt: base.Add(time.Hour)})
	m.AddPolicy(Policy{BusinessID: biz.ID, Topic: "parking", Content: "street", UpdatedAt: base})
	m.AddPolicy(Policy{BusinessID: other.ID, Topic: "call_out_fee", Content: "not ours", UpdatedAt: base.Add(2 * time.Hour)})

	got, err := m.FindPolicies(ctx, biz.ID, "call_out_fee", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Content)
	assert.Equal(t, "old", got[1].Content)

	got, err = m.FindPolicies(ctx, biz.ID, "call_out_fee", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemory_FindFAQsContainsMatch(t *testing.T) {
	m := NewMemory()
	biz := m.PutBusiness(Business{Name: "Sparky"})
	m.AddFAQ(FAQ{BusinessID: biz.ID, Topic: "weekend_parking", Question: "Where do I park?", Answer: "Out front."})

	got, err := m.FindFAQs(context.Background(), biz.ID, "parking", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Out front.", got[0].Answer)
}

func TestMemory_BookingsScopedToBusiness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := &Booking{BusinessID: "biz-1", CustomerName: "John", CustomerPhone: "0412000000", Service: "Drain", BookingDatetime: time.Now()}
	require.NoError(t, m.CreateBooking(ctx, b))
	require.NotEmpty(t, b.ID)

	_, err := m.GetBooking(ctx, "biz-2", b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := m.LatestBookingByPhone(ctx, "biz-1", "0412000000")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestMemory_UpdateCallAppendsTranscript(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	call := &Call{BusinessID: "biz", CallSID: "CA1", StartedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, m.CreateCall(ctx, call))

	first, second := "Customer: hi\nAI: hello", "Customer: bye\nAI: bye"
	outcome := OutcomeInquiryHandled
	ended := time.Now()
	require.NoError(t, m.UpdateCall(ctx, call.ID, CallUpdate{AppendTranscript: &first}))
	require.NoError(t, m.UpdateCall(ctx, call.ID, CallUpdate{AppendTranscript: &second, Outcome: &outcome, EndedAt: &ended}))

	got, err := m.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, first+"\n"+second, got.Transcript)
	assert.Equal(t, OutcomeInquiryHandled, got.Outcome)
	assert.GreaterOrEqual(t, got.DurationSeconds, 59)

	assert.ErrorIs(t, m.UpdateCall(ctx, "missing", CallUpdate{}), ErrNotFound)
}

func TestAIConfig_WithDefaults(t *testing.T) {
	cfg := AIConfig{Greeting: "Hi from {name}"}.WithDefaults()
	assert.Equal(t, "native", cfg.Integrations.Provider)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, "Hi from Drain Bros", cfg.GreetingFor("Drain Bros"))
	assert.Equal(t, "G'day! Welcome to Sparky. How can I help you today?", AIConfig{}.GreetingFor("Sparky"))
	assert.Equal(t, "Australia/Sydney", AIConfig{Timezone: "Not/AZone"}.Location().String())
}

func TestWorkingHours_Ordered(t *testing.T) {
	hours := WorkingHours{"friday": "8-4", "monday": "7-5", "sunday": "closed"}
	got := hours.Ordered()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"monday", "friday", "sunday"}, []string{got[0].Day, got[1].Day, got[2].Day})
}
