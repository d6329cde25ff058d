package core

import (
	"context"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// Provider is the interface that LLM providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai").
	Name() string

	// CreateMessage sends a non-streaming request.
	CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error)

	// StreamMessage sends a streaming request.
	StreamMessage(ctx context.Context, req *types.MessageRequest) (EventStream, error)
}

// EventStream is an iterator over streaming events.
type EventStream interface {
	// Next returns the next event. Returns nil, io.EOF when done.
	Next() (types.StreamEvent, error)

	// Close releases resources.
	Close() error
}
