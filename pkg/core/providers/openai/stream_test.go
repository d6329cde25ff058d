package openai

import (
	"io"
	"strings"
	"testing"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

func collect(t *testing.T, body string) []types.StreamEvent {
	t.Helper()
	stream := newEventStream(io.NopCloser(strings.NewReader(body)))
	var events []types.StreamEvent
	for i := 0; i < 100; i++ {
		event, err := stream.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		events = append(events, event)
	}
	t.Fatal("stream did not terminate")
	return nil
}

func TestEventStream_TextThenTerminalDelta(t *testing.T) {
	body := "" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi \"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"there.\"},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"id\":\"c1\",\"choices\":[],\"usage\":{\"prompt_tokens\":11,\"completion_tokens\":7}}\n\n" +
		"data: [DONE]\n\n"

	events := collect(t, body)
	if len(events) != 3 {
		t.Fatalf("len(events)=%d, want 3: %#v", len(events), events)
	}
	first := events[0].(types.ContentBlockDeltaEvent).Delta.(types.TextDelta)
	second := events[1].(types.ContentBlockDeltaEvent).Delta.(types.TextDelta)
	if first.Text+second.Text != "Hi there." {
		t.Fatalf("text=%q", first.Text+second.Text)
	}
	delta, ok := events[2].(types.MessageDeltaEvent)
	if !ok {
		t.Fatalf("last event type=%T, want MessageDeltaEvent", events[2])
	}
	if delta.StopReason != types.StopReasonEndTurn {
		t.Fatalf("stop reason=%q", delta.StopReason)
	}
	if delta.Usage.TotalTokens != 18 {
		t.Fatalf("usage=%+v", delta.Usage)
	}
}

func TestEventStream_AccumulatesToolCallArguments(t *testing.T) {
	body := "" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"get_policies\",\"arguments\":\"{\\\"top\"}}]}}]}\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ic\\\":\\\"parking\\\"}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n" +
		"data: [DONE]\n"

	events := collect(t, body)
	if len(events) != 2 {
		t.Fatalf("len(events)=%d, want 2: %#v", len(events), events)
	}
	start, ok := events[0].(types.ContentBlockStartEvent)
	if !ok {
		t.Fatalf("event type=%T, want ContentBlockStartEvent", events[0])
	}
	tu := start.ContentBlock.(types.ToolUseBlock)
	if tu.ID != "call_1" || tu.Name != "get_policies" || tu.Input["topic"] != "parking" {
		t.Fatalf("tool use=%#v", tu)
	}
	if events[1].(types.MessageDeltaEvent).StopReason != types.StopReasonToolUse {
		t.Fatalf("stop reason=%v", events[1])
	}
}

func TestEventStream_EOFWithoutDone(t *testing.T) {
	events := collect(t, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}")
	if len(events) != 2 {
		t.Fatalf("len(events)=%d, want 2", len(events))
	}
}
