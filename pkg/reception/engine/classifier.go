package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-reception/pkg/core/types"
	"github.com/vango-go/vai-reception/pkg/reception/booking"
	"github.com/vango-go/vai-reception/pkg/store"
)

// Completer is the single-shot completion both the OpenAI and Gemini
// providers offer.
type Completer interface {
	CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error)
}

const (
	classifierMaxServices = 20
	classifierRecent      = 3
	classifierMaxTokens   = 64
)

const serviceClassifierSystem = `You are a classifier that maps a customer's plumbing or trade issue description to exactly ONE of the business's configured services.

Rules:
- Only choose from the provided services list.
- If more than one could fit, choose the *most* specific match.
- If none are appropriate, respond with null.
- Respond with STRICT JSON only, no explanation: {"service_name": "<name>"} or {"service_name": null}.`

const nameExtractorSystem = `You extract the caller's first name from a phone conversation transcript.

Rules:
- Only return a name the caller said is theirs.
- Respond with STRICT JSON only, no explanation: {"name": "<first name>"} or {"name": null}.`

// Classifier runs the short structured model calls used by the booking
// workflow: service classification and name extraction.
type Classifier struct {
	llm   Completer
	model string
}

// NewClassifier uses model on llm; an empty model lets the provider choose.
func NewClassifier(llm Completer, model string) *Classifier {
	return &Classifier{llm: llm, model: model}
}

// ClassifyService maps the caller's recent utterances to one configured
// service name, or "".
func (c *Classifier) ClassifyService(ctx context.Context, biz *store.Business, utterances []string) (string, error) {
	if biz == nil {
		return "", nil
	}
	services := biz.ServiceNames()
	if len(services) == 0 {
		return "", nil
	}
	if len(services) > classifierMaxServices {
		services = services[:classifierMaxServices]
	}
	var recent []string
	for _, u := range utterances {
		if u = strings.TrimSpace(u); u != "" {
			recent = append(recent, "Customer: "+u)
		}
	}
	if len(recent) == 0 {
		return "", nil
	}
	if len(recent) > classifierRecent {
		recent = recent[len(recent)-classifierRecent:]
	}

	var list strings.Builder
	for i, s := range services {
		if i > 0 {
			list.WriteByte('\n')
		}
		fmt.Fprintf(&list, "- %q", s)
	}
	prompt := fmt.Sprintf("Business: %s (%s)\n\nAvailable services:\n%s\n\nRecent customer conversation:\n%s\n\n"+
		"Based on this, choose the single best matching service from the list. If none apply, use null.",
		orDefault(biz.Name, "our business"), orDefault(biz.Industry, "business"), list.String(), strings.Join(recent, "\n"))

	text, err := c.complete(ctx, serviceClassifierSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("classify service: %w", err)
	}
	return booking.MatchService(services, parseField(text, "service_name")), nil
}

// ExtractName asks the model for the caller's first name.
func (c *Classifier) ExtractName(ctx context.Context, utterances []string) (string, error) {
	var lines []string
	for _, u := range utterances {
		if u = strings.TrimSpace(u); u != "" {
			lines = append(lines, "Customer: "+u)
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	text, err := c.complete(ctx, nameExtractorSystem, strings.Join(lines, "\n"))
	if err != nil {
		return "", fmt.Errorf("extract name: %w", err)
	}
	return parseField(text, "name"), nil
}

func (c *Classifier) complete(ctx context.Context, system, prompt string) (string, error) {
	temperature := 0.0
	resp, err := c.llm.CreateMessage(ctx, &types.MessageRequest{
		Model:       c.model,
		System:      system,
		Messages:    []types.Message{{Role: types.RoleUser, Content: prompt}},
		MaxTokens:   classifierMaxTokens,
		Temperature: &temperature,
		JSONOutput:  true,
	})
	if err != nil {
		return "", err
	}
	return resp.TextContent(), nil
}

// parseField reads key from a loosely formatted JSON answer. Code fences,
// surrounding prose, bare strings and null are all tolerated.
func parseField(text, key string) string {
	raw := stripFences(strings.TrimSpace(text))
	if raw == "" {
		return ""
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start == -1 || end <= start {
			return strings.Trim(raw, "`\" ")
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
			return ""
		}
	}
	switch v := parsed.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v[key].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
