// Package gemini implements a single-shot completion provider on the Google
// Gen AI SDK. The receptionist uses it as an alternate backend for short
// structured classification calls.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/core/types"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "gemini-2.0-flash"

// Provider wraps a genai client.
type Provider struct {
	client *genai.Client
	model  string
}

// Option configures the provider.
type Option func(*genai.ClientConfig, *Provider)

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig, _ *Provider) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(_ *genai.ClientConfig, p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New creates a Gemini API provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(cfg, p)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// CreateMessage sends a non-streaming generateContent request. Only text
// content is forwarded; tool blocks are not used by the callers of this
// provider.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
		if idx := strings.Index(model, "/"); idx != -1 {
			model = model[idx+1:]
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, toContents(req.Messages), cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.NewTimeoutError("gemini generate", err)
		}
		return nil, core.NewConnectivityError("gemini generate", err)
	}

	out := &types.MessageResponse{
		Model:      "gemini/" + model,
		StopReason: types.StopReasonEndTurn,
	}
	if text := resp.Text(); text != "" {
		out.Content = []types.ContentBlock{types.Text(text)}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func toContents(messages []types.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		text := messages[i].TextContent()
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if messages[i].Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}
