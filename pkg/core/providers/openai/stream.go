package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// eventStream implements core.EventStream for OpenAI SSE responses.
//
// Text arrives as ContentBlockDeltaEvent{TextDelta} as soon as it is received.
// Tool calls are accumulated across chunks and emitted as complete
// ContentBlockStartEvent{ToolUseBlock} values once the stream ends, followed
// by a single MessageDeltaEvent and then io.EOF.
type eventStream struct {
	reader      *bufio.Reader
	closer      io.Closer
	err         error
	accumulator streamAccumulator
	finished    bool
	pending     []types.StreamEvent
}

type streamAccumulator struct {
	textLen      int
	toolCalls    map[int]*toolCallAccumulator
	finishReason string
	inputTokens  int
	outputTokens int
}

type toolCallAccumulator struct {
	ID            string
	Name          string
	ArgumentsJSON strings.Builder
}

// chatChunk is the OpenAI streaming chunk format.
type chatChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string          `json:"content,omitempty"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReader(body),
		closer: body,
		accumulator: streamAccumulator{
			toolCalls: make(map[int]*toolCallAccumulator),
		},
	}
}

// Next returns the next event from the stream.
// Returns nil, io.EOF when the stream is complete.
func (s *eventStream) Next() (types.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}
	if s.finished {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			s.err = err
			return nil, err
		}
		atEOF := err == io.EOF

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return s.finish()
			}
			if event := s.consume(data); event != nil {
				return event, nil
			}
		}
		if atEOF {
			return s.finish()
		}
	}
}

// consume folds a chunk into the accumulator and returns a text event if the
// chunk carried text.
func (s *eventStream) consume(data string) types.StreamEvent {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil
	}
	if chunk.Usage != nil {
		s.accumulator.inputTokens = chunk.Usage.PromptTokens
		s.accumulator.outputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		s.accumulator.finishReason = choice.FinishReason
	}

	for _, tc := range choice.Delta.ToolCalls {
		acc, ok := s.accumulator.toolCalls[tc.Index]
		if !ok {
			acc = &toolCallAccumulator{}
			s.accumulator.toolCalls[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.ID = tc.ID
		}
		if tc.Function.Name != "" {
			acc.Name = tc.Function.Name
		}
		acc.ArgumentsJSON.WriteString(tc.Function.Arguments)
	}

	if choice.Delta.Content == "" {
		return nil
	}
	s.accumulator.textLen += len(choice.Delta.Content)
	return types.ContentBlockDeltaEvent{
		Index: 0,
		Delta: types.TextDelta{Text: choice.Delta.Content},
	}
}

// finish queues completed tool calls and the terminal message delta.
func (s *eventStream) finish() (types.StreamEvent, error) {
	s.finished = true

	indexes := make([]int, 0, len(s.accumulator.toolCalls))
	for idx := range s.accumulator.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	offset := 0
	if s.accumulator.textLen > 0 {
		offset = 1
	}
	for _, idx := range indexes {
		acc := s.accumulator.toolCalls[idx]
		if acc.Name == "" {
			continue
		}
		s.pending = append(s.pending, types.ContentBlockStartEvent{
			Index: idx + offset,
			ContentBlock: types.ToolUseBlock{
				Type:  "tool_use",
				ID:    acc.ID,
				Name:  acc.Name,
				Input: decodeArguments(acc.ArgumentsJSON.String()),
			},
		})
	}
	s.pending = append(s.pending, types.MessageDeltaEvent{
		StopReason: mapFinishReason(s.accumulator.finishReason),
		Usage: types.Usage{
			InputTokens:  s.accumulator.inputTokens,
			OutputTokens: s.accumulator.outputTokens,
			TotalTokens:  s.accumulator.inputTokens + s.accumulator.outputTokens,
		},
	})

	event := s.pending[0]
	s.pending = s.pending[1:]
	return event, nil
}

// Close releases resources associated with the stream.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
