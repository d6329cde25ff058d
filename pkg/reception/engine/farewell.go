package engine

import (
	"regexp"
	"strings"
)

var (
	// Unambiguous goodbyes end the call wherever they appear.
	userGoodbye = regexp.MustCompile(`\b(bye|goodbye|see you|see ya|that's all|have a good (day|one|night|arvo|weekend))\b`)
	// Thanks only closes the call when nothing else was said: "thanks,
	// Wednesday works" is still mid-conversation.
	userThanks  = regexp.MustCompile(`\b(thank you|thanks|cheers|ta|that's it)\b`)
	closingWord = regexp.MustCompile(`\b(thank you|thanks|cheers|ta|that's it|ok|okay|great|lovely|perfect|awesome|cool|alright|no worries|mate|so much|very much|heaps)\b`)
	nonLetters  = regexp.MustCompile(`[^a-z' ]+`)
	aiFarewells = []string{"goodbye", "bye!", "see you", "take care", "all sorted"}
)

// ShouldEndCall reports whether the call can wrap up: the caller said
// goodbye, or the assistant did so right after a booking was confirmed.
func ShouldEndCall(userText, aiText string, bookingConfirmed bool) bool {
	user := strings.ToLower(strings.TrimSpace(userText))
	ai := strings.ToLower(strings.TrimSpace(aiText))

	if userGoodbye.MatchString(user) {
		return true
	}
	if userThanks.MatchString(user) && !strings.HasSuffix(ai, "?") {
		rest := closingWord.ReplaceAllString(nonLetters.ReplaceAllString(user, " "), " ")
		if strings.TrimSpace(rest) == "" {
			return true
		}
	}
	if !bookingConfirmed {
		return false
	}
	for _, f := range aiFarewells {
		if strings.Contains(ai, f) {
			return true
		}
	}
	return false
}
