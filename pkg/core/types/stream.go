package types

// StreamEvent is the interface for all streaming event types.
type StreamEvent interface {
	EventType() string
}

// Delta is the interface for all delta types in streaming.
type Delta interface {
	DeltaType() string
}

// ContentBlockStartEvent is sent when a new content block begins.
type ContentBlockStartEvent struct {
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

func (e ContentBlockStartEvent) EventType() string { return "content_block_start" }

// ContentBlockDeltaEvent is sent for incremental content updates.
type ContentBlockDeltaEvent struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

func (e ContentBlockDeltaEvent) EventType() string { return "content_block_delta" }

// MessageDeltaEvent carries the stop reason and usage at the end of a stream.
type MessageDeltaEvent struct {
	StopReason StopReason `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

func (e MessageDeltaEvent) EventType() string { return "message_delta" }

// TextDelta contains incremental text content.
type TextDelta struct {
	Text string `json:"text"`
}

func (d TextDelta) DeltaType() string { return "text_delta" }
