// Package openai implements the OpenAI Chat Completions API provider used for
// the receptionist dialogue. It translates between the core message format
// and OpenAI's chat format, including streamed tool calls.
package openai

import (
	"context"
	"net/http"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/core/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is the default max tokens if not specified.
	DefaultMaxTokens = 1024
)

// Provider implements the OpenAI Chat Completions API.
type Provider struct {
	apiKey              string
	baseURL             string
	chatCompletionsPath string
	httpClient          *http.Client
	extraHeaders        map[string]string
}

var _ core.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:              apiKey,
		baseURL:             DefaultBaseURL,
		chatCompletionsPath: "/chat/completions",
		httpClient:          &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// CreateMessage sends a non-streaming request to OpenAI.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	respBody, err := p.doRequest(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return p.parseResponse(respBody)
}

// StreamMessage sends a streaming request to OpenAI.
func (p *Provider) StreamMessage(ctx context.Context, req *types.MessageRequest) (core.EventStream, error) {
	openaiReq := p.buildRequest(req)
	openaiReq.Stream = true
	openaiReq.StreamOptions = &streamOptions{IncludeUsage: true}

	body, err := p.doStreamRequest(ctx, openaiReq)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}
