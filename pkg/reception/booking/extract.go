// Package booking holds the pure extraction heuristics that read booking
// details out of a call transcript, the confirmation detectors, the booking
// provider abstraction and the Creator that ties them together.
package booking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// userTurns yields user message texts newest first.
func userTurns(history []types.Message) []string {
	out := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != types.RoleUser {
			continue
		}
		if text := strings.TrimSpace(history[i].TextContent()); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// --- name -----------------------------------------------------------------

// nameStopwords are tokens that follow "I'm", "this is" and friends but are
// never names.
var nameStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "just": true, "not": true, "so": true,
	"yes": true, "yeah": true, "yep": true, "no": true, "nope": true, "ok": true,
	"okay": true, "sure": true, "hi": true, "hello": true, "hey": true,
	"thanks": true, "thank": true, "please": true, "um": true, "uh": true,
	"calling": true, "looking": true, "after": true, "having": true,
	"trying": true, "going": true, "wondering": true, "ringing": true,
	"here": true, "well": true, "good": true, "great": true, "fine": true,
	"sorry": true, "still": true, "also": true, "really": true, "about": true,
	"urgent": true, "available": true, "free": true, "interested": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true, "morning": true,
	"afternoon": true, "arvo": true, "evening": true, "tomorrow": true,
	"today": true, "next": true, "week": true, "correct": true, "right": true,
	"go": true, "book": true, "booking": true, "confirm": true,
}

// CleanNameToken keeps letters only and capitalizes the first.
func CleanNameToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	s := b.String()
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func firstName(text string) string {
	for _, raw := range strings.Fields(text) {
		cleaned := CleanNameToken(raw)
		if cleaned == "" {
			continue
		}
		if nameStopwords[strings.ToLower(cleaned)] {
			return ""
		}
		return cleaned
	}
	return ""
}

func nameAfter(content, lower, phrase string) string {
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return ""
	}
	return firstName(content[idx+len(phrase):])
}

var (
	selfIntro  = regexp.MustCompile(`\b(?:i'm|i’m|i am|im)\s+`)
	hasDigit   = regexp.MustCompile(`\d`)
	namePrompt = regexp.MustCompile(`\bname\b`)
)

// ExtractName scans user turns newest first for an introduced name. A bare
// one or two word reply only counts when the preceding assistant turn asked
// for a name. Returns "" when nothing usable is found.
func ExtractName(history []types.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != types.RoleUser {
			continue
		}
		content := strings.TrimSpace(msg.TextContent())
		if content == "" {
			continue
		}
		lower := strings.ToLower(content)

		if name := nameAfter(content, lower, "my name is"); name != "" {
			return name
		}
		if name := nameAfter(content, lower, "this is"); name != "" {
			return name
		}
		if idx := strings.Index(lower, " and my"); idx > 0 {
			// "John and my number is ..." keeps the last word before the marker.
			words := strings.Fields(content[:idx])
			if len(words) > 0 {
				if name := firstName(words[len(words)-1]); name != "" {
					return name
				}
			}
		}
		if loc := selfIntro.FindStringIndex(lower); loc != nil {
			if name := firstName(content[loc[1]:]); name != "" {
				return name
			}
		}
		if askedForName(history[:i]) {
			if name := bareName(content); name != "" {
				return name
			}
		}
	}
	return ""
}

func askedForName(before []types.Message) bool {
	for i := len(before) - 1; i >= 0; i-- {
		if before[i].Role == types.RoleAssistant {
			return namePrompt.MatchString(strings.ToLower(before[i].TextContent()))
		}
	}
	return false
}

// bareName accepts a comma separated segment of one or two words with no
// digits, e.g. "John, 0412 000 000".
func bareName(content string) string {
	for _, segment := range strings.Split(content, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" || hasDigit.MatchString(segment) {
			continue
		}
		var words []string
		for _, w := range strings.Fields(segment) {
			if strings.IndexFunc(w, unicode.IsLetter) >= 0 {
				words = append(words, w)
			}
		}
		if len(words) == 0 || len(words) > 2 {
			continue
		}
		if name := firstName(words[0]); name != "" {
			return name
		}
	}
	return ""
}

// --- phone ----------------------------------------------------------------

var phoneRun = regexp.MustCompile(`\+?\d[\d\s\-]{6,18}\d`)

// ExtractPhone returns the newest spoken phone number of 8 to 12 digits.
func ExtractPhone(history []types.Message) string {
	for _, text := range userTurns(history) {
		if p := PhoneFromText(text); p != "" {
			return p
		}
	}
	return ""
}

// PhoneFromText returns the first 8 to 12 digit number in text.
func PhoneFromText(text string) string {
	for _, run := range phoneRun.FindAllString(text, -1) {
		var b strings.Builder
		if strings.HasPrefix(run, "+") {
			b.WriteByte('+')
		}
		digits := 0
		for _, r := range run {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
				digits++
			}
		}
		if digits >= 8 && digits <= 12 {
			return b.String()
		}
	}
	return ""
}

// --- service / issue --------------------------------------------------------

// ExtractService returns the first configured service mentioned anywhere in
// the conversation.
func ExtractService(services []string, history []types.Message) string {
	if len(services) == 0 {
		return ""
	}
	var all strings.Builder
	for _, m := range history {
		all.WriteString(strings.ToLower(m.TextContent()))
		all.WriteByte(' ')
	}
	text := all.String()
	for _, s := range services {
		name := strings.ToLower(strings.TrimSpace(s))
		if name != "" && strings.Contains(text, name) {
			return s
		}
	}
	return ""
}

// MatchService maps a free-form name onto a configured one: exact
// (case-insensitive) first, then containment either way.
func MatchService(services []string, name string) string {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return ""
	}
	for _, s := range services {
		if strings.ToLower(s) == want {
			return s
		}
	}
	for _, s := range services {
		have := strings.ToLower(s)
		if have != "" && (strings.Contains(have, want) || strings.Contains(want, have)) {
			return s
		}
	}
	return ""
}

const maxIssueSummary = 500

// IssueSummary is the most recent user turn, capped at 500 characters.
func IssueSummary(history []types.Message) string {
	turns := userTurns(history)
	if len(turns) == 0 {
		return ""
	}
	s := turns[0]
	if r := []rune(s); len(r) > maxIssueSummary {
		s = string(r[:maxIssueSummary])
	}
	return s
}

// --- datetime ---------------------------------------------------------------

var (
	weekdayRe  = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?(?:\s*(am|pm|a\.m\.|p\.m\.)(?:[^a-z]|$)|\b)`)
	atRe       = regexp.MustCompile(`\bat\s+$`)
	tomorrowRe = regexp.MustCompile(`\btomorrow\b`)
	todayRe    = regexp.MustCompile(`\btoday\b`)
	nextWeekRe = regexp.MustCompile(`\bnext week\b`)
	morningRe  = regexp.MustCompile(`\bmorning\b`)
	arvoRe     = regexp.MustCompile(`\b(afternoon|arvo)\b`)
)

var weekdayIndex = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Default clock times when no explicit time is given.
const (
	defaultHour   = 9
	morningHour   = 10
	afternoonHour = 15
)

// ExtractDatetime scans user turns newest first and resolves the first one
// that names a day or a time. now fixes both the reference instant and the
// location.
func ExtractDatetime(history []types.Message, now time.Time) *time.Time {
	for _, text := range userTurns(history) {
		if t := DatetimeFromText(text, now); t != nil {
			return t
		}
	}
	return nil
}

// DatetimeFromText resolves a weekday/tomorrow plus time-of-day expression
// relative to now. Results are never before now.
func DatetimeFromText(text string, now time.Time) *time.Time {
	lower := strings.ToLower(text)
	if lower == "" {
		return nil
	}

	dayName := weekdayRe.FindString(lower)
	tomorrow := tomorrowRe.MatchString(lower)
	today := todayRe.MatchString(lower)
	hasDay := dayName != "" || tomorrow || today

	hour, minute, hasClock := findClock(lower, hasDay)
	if !hasDay && !hasClock {
		return nil
	}

	date := now
	switch {
	case tomorrow:
		date = now.AddDate(0, 0, 1)
	case dayName != "":
		ahead := (int(weekdayIndex[dayName]) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		if nextWeekRe.MatchString(lower) {
			ahead += 7
		}
		date = now.AddDate(0, 0, ahead)
	}

	if !hasClock {
		hour, minute = defaultHour, 0
		switch {
		case arvoRe.MatchString(lower):
			hour = afternoonHour
		case morningRe.MatchString(lower):
			hour = morningHour
		}
	}

	out := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, now.Location())
	if out.Before(now) {
		// A bare time that has already passed today means tomorrow.
		out = out.AddDate(0, 0, 1)
	}
	return &out
}

// findClock returns the first plausible clock time. A bare number only
// counts with day context, "at", or a meridiem/colon, so phone digits are
// not read as times.
func findClock(lower string, hasDay bool) (hour, minute int, ok bool) {
	for _, m := range clockRe.FindAllStringSubmatchIndex(lower, -1) {
		h, _ := strconv.Atoi(lower[m[2]:m[3]])
		mins := 0
		hasMinutes := m[4] >= 0
		if hasMinutes {
			mins, _ = strconv.Atoi(lower[m[4]:m[5]])
		}
		meridiem := ""
		if m[6] >= 0 {
			meridiem = strings.ReplaceAll(lower[m[6]:m[7]], ".", "")
		}
		if meridiem == "" && !hasMinutes && !hasDay && !atRe.MatchString(lower[:m[0]]) {
			continue
		}
		if mins > 59 {
			continue
		}
		switch meridiem {
		case "pm":
			if h < 1 || h > 12 {
				continue
			}
			if h < 12 {
				h += 12
			}
		case "am":
			if h < 1 || h > 12 {
				continue
			}
			if h == 12 {
				h = 0
			}
		default:
			if h > 23 {
				continue
			}
		}
		return h, mins, true
	}
	return 0, 0, false
}
