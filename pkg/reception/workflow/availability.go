package workflow

import (
	"context"
	"fmt"
	"strings"
)

var availabilityKeywords = []string{
	"are you available",
	"availability",
	"what time can you",
	"what time are you",
	"what times do you have",
	"time slots",
	"what time works",
	"when are you open",
	"when do you open",
	"when do you close",
	"when can you come",
	"when could you come",
}

// NoHoursReply is spoken when a business has no structured hours saved.
const NoHoursReply = "Our hours can vary a little, so I'll note your preferred time and the team will confirm it with you."

// IsAvailabilityQuestion reports whether the caller asked about opening
// hours or time slots.
func IsAvailabilityQuestion(text string) bool {
	lower := strings.ToLower(text)
	if lower == "" {
		return false
	}
	for _, k := range availabilityKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Availability answers opening-hours questions from the saved weekly hours.
type Availability struct{}

func NewAvailability() *Availability { return &Availability{} }

func (*Availability) Name() string { return "availability" }

func (*Availability) HandleTurn(_ context.Context, turn Turn) (Result, error) {
	if !IsAvailabilityQuestion(turn.UserText) {
		return Result{}, nil
	}
	if turn.Business == nil || len(turn.Business.WorkingHours) == 0 {
		return Result{BackendMessages: []string{NoHoursReply}}, nil
	}
	parts := make([]string, 0, len(turn.Business.WorkingHours))
	for _, d := range turn.Business.WorkingHours.Ordered() {
		hours := strings.TrimSpace(d.Hours)
		if hours == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", topicTitle(d.Day), hours))
	}
	if len(parts) == 0 {
		return Result{BackendMessages: []string{NoHoursReply}}, nil
	}
	return Result{BackendMessages: []string{"Our hours are " + strings.Join(parts, ", ") + "."}}, nil
}
