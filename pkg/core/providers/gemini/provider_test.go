package gemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

func TestCreateMessage_GenerateContent(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"service_name\":\"Hot water repair\"}"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":6,"totalTokenCount":18}}`)
	}))
	defer server.Close()

	p, err := New(t.Context(), "test-key", WithBaseURL(server.URL), WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	temp := 0.0
	resp, err := p.CreateMessage(t.Context(), &types.MessageRequest{
		System:      "classify",
		Temperature: &temp,
		MaxTokens:   64,
		JSONOutput:  true,
		Messages:    []types.Message{{Role: types.RoleUser, Content: "my hot water is out"}},
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if !strings.HasSuffix(gotPath, "models/gemini-test:generateContent") {
		t.Fatalf("path=%q", gotPath)
	}
	if _, ok := gotBody["systemInstruction"]; !ok {
		t.Fatalf("request missing systemInstruction: %#v", gotBody)
	}
	if resp.TextContent() != `{"service_name":"Hot water repair"}` {
		t.Fatalf("text=%q", resp.TextContent())
	}
	if resp.Usage.TotalTokens != 18 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(t.Context(), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
}
