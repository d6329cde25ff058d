package openai

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-reception/pkg/core"
	"github.com/vango-go/vai-reception/pkg/core/types"
)

func TestStreamMessage_SendsToolsAndHistory(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Sure.\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	temp := 0.7
	p := New("test-key", WithBaseURL(server.URL))
	stream, err := p.StreamMessage(t.Context(), &types.MessageRequest{
		Model:       "openai/gpt-4o-mini",
		System:      "be brief",
		MaxTokens:   150,
		Temperature: &temp,
		Messages: []types.Message{
			{Role: types.RoleAssistant, Content: "G'day!"},
			{Role: types.RoleUser, Content: "what's your parking like?"},
			{Role: types.RoleAssistant, Content: []types.ContentBlock{
				types.ToolUseBlock{Type: "tool_use", ID: "prefetch_0", Name: "get_policies", Input: map[string]any{"topic": "parking"}},
			}},
			{Role: types.RoleUser, Content: []types.ContentBlock{
				types.ToolResultBlock{Type: "tool_result", ToolUseID: "prefetch_0", Content: `{"policies":[]}`},
			}},
		},
		Tools: []types.Tool{{
			Type:        types.ToolTypeFunction,
			Name:        "get_policies",
			InputSchema: &types.JSONSchema{Type: "object"},
		}},
		ToolChoice: types.ToolChoiceAuto(),
	})
	if err != nil {
		t.Fatalf("StreamMessage() error = %v", err)
	}
	defer stream.Close()
	for {
		if _, err := stream.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
	}

	if gotAuth != "Bearer test-key" {
		t.Fatalf("Authorization=%q", gotAuth)
	}
	if gotBody["model"] != "gpt-4o-mini" || gotBody["stream"] != true || gotBody["tool_choice"] != "auto" {
		t.Fatalf("body=%#v", gotBody)
	}
	msgs := gotBody["messages"].([]any)
	if len(msgs) != 5 {
		t.Fatalf("len(messages)=%d, want 5", len(msgs))
	}
	if msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("first message=%#v", msgs[0])
	}
	toolMsg := msgs[4].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_call_id"] != "prefetch_0" {
		t.Fatalf("tool message=%#v", toolMsg)
	}
	calls := msgs[3].(map[string]any)["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("tool_calls=%#v", calls)
	}
}

func TestCreateMessage_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
			t.Errorf("response_format=%#v", body["response_format"])
		}
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"service_name\":\"Blocked drain\"}"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer server.Close()

	p := New("k", WithBaseURL(server.URL))
	resp, err := p.CreateMessage(t.Context(), &types.MessageRequest{
		Model:      "gpt-4o-mini",
		Messages:   []types.Message{{Role: types.RoleUser, Content: "hi"}},
		JSONOutput: true,
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if resp.TextContent() != `{"service_name":"Blocked drain"}` {
		t.Fatalf("text=%q", resp.TextContent())
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
}

func TestCreateMessage_MapsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer server.Close()

	_, err := New("k", WithBaseURL(server.URL)).CreateMessage(t.Context(), &types.MessageRequest{Model: "m"})
	if !core.IsType(err, core.ErrAPI) {
		t.Fatalf("err=%v, want api error", err)
	}
}
