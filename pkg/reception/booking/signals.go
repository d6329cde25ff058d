package booking

import (
	"regexp"
	"strings"
	"time"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

var finalizationSignals = []string{
	"shall i go ahead",
	"go ahead and finalise",
	"finalize",
	"finalise",
	"confirm that booking",
	"go ahead and book",
	"should i book",
	"should i confirm",
	"can i confirm",
	"want me to book",
	"want me to confirm",
	"ready to book",
}

var soundsConfirmedSignals = []string{
	"confirmed",
	"all set",
	"you're all set",
	"appointment is set",
	"booked",
	"i've booked",
	"i have booked",
	"reserved",
	"your appointment is confirmed",
	"your booking is confirmed",
}

var (
	affirmative = regexp.MustCompile(`\b(yes|yep|yeah|yup|correct|that's correct|that is correct|right|sounds good|that's fine|that works|please book|go ahead|book it|confirm|please confirm|sure)\b`)
	// A reply that asks something or defers is not a confirmation even when
	// it contains an affirmative word.
	questionMarker = regexp.MustCompile(`\?|\b(but|before|what|how|is there|can you|could you|when|wait|hold on|actually)\b`)
	negation       = regexp.MustCompile(`\b(no|nope|don't|do not|not yet|not really)\b`)
	pleasantries   = strings.NewReplacer("no worries", "", "no problem", "", "no dramas", "")
)

// RequestsFinalization reports whether the model asked permission to
// finalize the booking.
func RequestsFinalization(modelText string) bool {
	return containsAny(strings.ToLower(modelText), finalizationSignals)
}

// SoundsConfirmed reports whether the model spoke as if the booking exists.
func SoundsConfirmed(modelText string) bool {
	return containsAny(strings.ToLower(modelText), soundsConfirmedSignals)
}

// UserConfirms reports an explicit, unqualified yes from the caller.
func UserConfirms(userText string) bool {
	lower := strings.ToLower(strings.TrimSpace(userText))
	if lower == "" {
		return false
	}
	if questionMarker.MatchString(lower) || negation.MatchString(pleasantries.Replace(lower)) {
		return false
	}
	return affirmative.MatchString(lower)
}

// Prompts spoken when the model sounded confirmed but no booking exists.
const (
	PromptMissingDatetime = "Before I can confirm, what day and time works best?"
	PromptMissingName     = "Before I can confirm, could I grab your name?"
	PromptMissingPhone    = "Before I can confirm, what's the best mobile number for confirmation?"
	PromptRetryTime       = "I couldn't confirm that just yet. What time would work instead?"
)

// MissingPrompt picks the clarifying question for the first essential field
// that is still missing.
func MissingPrompt(state *State, history []types.Message, modelText, callerPhone string, now time.Time) string {
	when := state.When
	if when == nil {
		when = ExtractDatetime(history, now)
	}
	if when == nil {
		when = DatetimeFromText(modelText, now)
	}
	if when == nil {
		return PromptMissingDatetime
	}

	name := state.Name
	if name == "" {
		name = ExtractName(history)
	}
	if name == "" {
		return PromptMissingName
	}

	phone := state.Phone
	if phone == "" {
		phone = ExtractPhone(history)
	}
	if phone == "" {
		phone = callerPhone
	}
	if phone == "" {
		return PromptMissingPhone
	}
	return PromptRetryTime
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
