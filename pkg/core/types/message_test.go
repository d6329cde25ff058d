package types

import (
	"encoding/json"
	"testing"
)

func TestMessage_UnmarshalStringContent(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi there"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Role != RoleUser || m.TextContent() != "hi there" {
		t.Fatalf("message=%+v", m)
	}
}

func TestMessage_UnmarshalBlocks(t *testing.T) {
	raw := `{"role":"assistant","content":[{"type":"text","text":"checking"},{"type":"tool_use","id":"t1","name":"get_faqs","input":{"topic":"parking"}}]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	blocks := m.ContentBlocks()
	if len(blocks) != 2 {
		t.Fatalf("len(blocks)=%d, want 2", len(blocks))
	}
	tu, ok := blocks[1].(ToolUseBlock)
	if !ok || tu.Name != "get_faqs" || tu.Input["topic"] != "parking" {
		t.Fatalf("tool block=%#v", blocks[1])
	}
	if m.TextContent() != "checking" {
		t.Fatalf("TextContent=%q", m.TextContent())
	}
}

func TestUnmarshalContentBlock_UnknownType(t *testing.T) {
	if _, err := UnmarshalContentBlock([]byte(`{"type":"hologram"}`)); err == nil {
		t.Fatal("expected error for unknown block type")
	}
}
