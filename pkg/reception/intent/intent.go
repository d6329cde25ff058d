// Package intent classifies caller utterances. Detection is rule based and
// cheap: a fixed-priority keyword pass picks the coarse intent, and the
// configured issue profiles add an optional domain label.
package intent

import (
	"fmt"
	"strings"
)

// Intent is the coarse category of one utterance.
type Intent string

const (
	Booking    Intent = "booking"
	Cancel     Intent = "cancel"
	Reschedule Intent = "reschedule"
	Info       Intent = "info"
	Emergency  Intent = "emergency"
	Other      Intent = "other"
)

// priority is the tie-break order when several buckets match.
var priority = []Intent{Emergency, Cancel, Reschedule, Booking, Info, Other}

type bucket struct {
	intent     Intent
	confidence float64
	keywords   []string
}

var buckets = []bucket{
	{Booking, 0.8, []string{"book", "booking", "appointment", "schedule", "reserve"}},
	{Cancel, 0.9, []string{"cancel", "cancellation", "call it off", "can't make it"}},
	{Reschedule, 0.9, []string{"reschedule", "move my booking", "change my booking", "change the time", "different time"}},
	{Info, 0.7, []string{"price", "cost", "how much", "quote", "fee", "hours", "open", "close", "location", "where are you"}},
	{Emergency, 1.0, []string{"burst pipe", "flood", "flooding", "smell gas", "gas leak", "no power", "power outage", "emergency"}},
}

// shortUtteranceConfidence is assigned to short replies that matched nothing.
const shortUtteranceConfidence = 0.4

// Detected is the classification of one utterance.
type Detected struct {
	Intent     Intent
	Confidence float64
	Reason     string
	Scores     map[Intent]float64

	// Issue is the best matching profile, nil when none matched.
	Issue           *Profile
	IssueConfidence float64
}

// IssueID returns the matched profile id or "".
func (d Detected) IssueID() string {
	if d.Issue == nil {
		return ""
	}
	return d.Issue.ID
}

// Classify runs the keyword pass only.
func Classify(text string) Detected {
	lower := strings.ToLower(text)
	scores := make(map[Intent]float64, len(priority))
	for _, in := range priority {
		scores[in] = 0
	}
	for _, b := range buckets {
		if containsAny(lower, b.keywords) && b.confidence > scores[b.intent] {
			scores[b.intent] = b.confidence
		}
	}

	matched := false
	for _, s := range scores {
		if s > 0 {
			matched = true
			break
		}
	}
	if !matched && len(strings.Fields(lower)) <= 3 {
		scores[Info] = shortUtteranceConfidence
	}

	best, bestScore := Other, 0.0
	for _, in := range priority {
		if scores[in] > bestScore {
			best, bestScore = in, scores[in]
		}
	}

	d := Detected{Intent: best, Confidence: bestScore, Scores: scores, Reason: "no_match"}
	if bestScore > 0 {
		d.Reason = fmt.Sprintf("rule_match:%s", best)
	}
	return d
}

// Detector combines keyword classification with issue-profile matching.
type Detector struct {
	profiles *Profiles
}

// NewDetector returns a detector. profiles may be nil.
func NewDetector(profiles *Profiles) *Detector {
	return &Detector{profiles: profiles}
}

// Detect classifies one utterance.
func (d *Detector) Detect(text string) Detected {
	out := Classify(text)
	if d != nil && d.profiles != nil {
		out.Issue, out.IssueConfidence = d.profiles.Match(text)
	}
	return out
}

// Sticky updates the call-level primary intent. Booking, once entered, only
// yields to cancel, reschedule or emergency.
func Sticky(primary, current Intent) Intent {
	switch primary {
	case "":
		if current == Booking {
			return Booking
		}
		return ""
	case Booking:
		switch current {
		case Cancel, Reschedule, Emergency:
			return current
		}
	}
	return primary
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
