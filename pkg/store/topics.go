package store

import (
	"regexp"
	"strings"
)

var (
	topicStrip = regexp.MustCompile(`[^\w\s-]`)
	topicSep   = regexp.MustCompile(`[\s-]+`)
)

// NormalizeTopic lowercases a topic and folds separators to underscores:
// "Call-out Fee" -> "callout_fee".
func NormalizeTopic(topic string) string {
	t := strings.ToLower(strings.TrimSpace(topic))
	t = strings.ReplaceAll(t, "call out", "callout")
	t = strings.ReplaceAll(t, "call-out", "callout")
	t = topicStrip.ReplaceAllString(t, "")
	t = topicSep.ReplaceAllString(t, "_")
	return strings.Trim(t, "_")
}

var topicAliases = map[string][]string{
	"call_out_fee":       {"callout_fee"},
	"callout_fee":        {"call_out_fee"},
	"after_hours":        {"afterhours"},
	"late":               {"late_arrival"},
	"late_arrival":       {"late"},
	"emergency":          {"emergency_plumbing"},
	"emergency_plumbing": {"emergency"},
	"no_power":           {"power_outage"},
	"power_outage":       {"no_power"},
	"refund_policies":    {"refunds"},
	"refunds":            {"refund_policy"},
	"refund_policy":      {"refunds"},
}

// TopicCandidates returns the normalized topic and every exact-match
// candidate (raw, normalized, aliases), deduplicated, in that order.
func TopicCandidates(topic string) (string, []string) {
	normalized := NormalizeTopic(topic)
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(strings.TrimSpace(topic))
	add(normalized)
	for _, alias := range topicAliases[normalized] {
		add(alias)
	}
	return normalized, out
}

// topicMatches implements the lookup rule shared by all backends: exact match
// on any candidate, or the stored topic contains the normalized topic
// (case-insensitive).
func topicMatches(stored, normalized string, candidates []string) bool {
	for _, c := range candidates {
		if stored == c {
			return true
		}
	}
	return normalized != "" && strings.Contains(strings.ToLower(stored), normalized)
}
