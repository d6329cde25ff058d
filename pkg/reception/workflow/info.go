package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/store"
)

const (
	infoFetchLimit   = 5
	infoMaxPolicies  = 3
	infoMaxFAQs      = 2
	policySnippetMax = 180
	faqSnippetMax    = 160
)

type topicRule struct {
	topic    string
	keywords []string
}

// Checked in order; the first hit wins.
var topicRules = []topicRule{
	{"cancellation", []string{"cancel", "cancellation", "cancelled", "cancelling"}},
	{"refunds", []string{"refund"}},
	{"deposit", []string{"deposit"}},
	{"pricing", []string{"price", "pricing", "cost", "how much", "quote"}},
	{"call_out_fee", []string{"call out", "call-out", "callout"}},
	{"after_hours", []string{"after hours", "after-hours", "afterhours"}},
	{"parking", []string{"parking"}},
	{"access", []string{"access", "gate code", "entry code"}},
}

// InferTopic maps a caller question to a saved-policy topic, or "".
func InferTopic(text string) string {
	lower := strings.ToLower(text)
	for _, r := range topicRules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return r.topic
			}
		}
	}
	return ""
}

// InfoPolicy speaks saved policies and FAQs for information questions.
type InfoPolicy struct {
	knowledge store.Knowledge
}

func NewInfoPolicy(k store.Knowledge) *InfoPolicy { return &InfoPolicy{knowledge: k} }

func (*InfoPolicy) Name() string { return "info_policy" }

func (h *InfoPolicy) HandleTurn(ctx context.Context, turn Turn) (Result, error) {
	if turn.Intent.Intent != intent.Info && turn.Intent.Intent != intent.Other {
		return Result{}, nil
	}
	if turn.Business == nil {
		return Result{}, nil
	}
	topic := InferTopic(turn.UserText)
	if topic == "" {
		return Result{}, nil
	}
	policies, err := h.knowledge.FindPolicies(ctx, turn.Business.ID, topic, infoFetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("policies %q: %w", topic, err)
	}
	faqs, err := h.knowledge.FindFAQs(ctx, turn.Business.ID, topic, infoFetchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("faqs %q: %w", topic, err)
	}
	if len(policies) == 0 && len(faqs) == 0 {
		return Result{}, nil
	}
	return Result{BackendMessages: []string{summarize(policies, faqs)}}, nil
}

func summarize(policies []store.Policy, faqs []store.FAQ) string {
	var lines []string
	if len(policies) > 0 {
		lines = append(lines, "Here are some details from your saved policies:")
		for _, p := range policies[:min(len(policies), infoMaxPolicies)] {
			lines = append(lines, fmt.Sprintf("- %s: %s", topicTitle(p.Topic), clip(p.Content, policySnippetMax)))
		}
	}
	if len(faqs) > 0 {
		lines = append(lines, "Common questions we have on file:")
		for _, f := range faqs[:min(len(faqs), infoMaxFAQs)] {
			lines = append(lines, fmt.Sprintf("- Q: %s A: %s", strings.TrimSpace(f.Question), clip(f.Answer, faqSnippetMax)))
		}
	}
	return strings.Join(lines, "\n")
}

func clip(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

// topicTitle turns "call_out_fee" into "Call Out Fee".
func topicTitle(topic string) string {
	words := strings.Fields(strings.ReplaceAll(topic, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
