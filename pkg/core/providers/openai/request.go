package openai

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// chatRequest is the OpenAI Chat Completions API request format.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Tools          []chatTool      `json:"tools,omitempty"`
	ToolChoice     any             `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
}

// chatMessage is a single message in OpenAI format.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// chatTool is a tool definition in OpenAI format.
type chatTool struct {
	Type     string       `json:"type"` // "function"
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// toolCall represents a tool call in OpenAI format.
type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responseFormat struct {
	Type string `json:"type"` // "json_object"
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// buildRequest converts a core request to an OpenAI request.
func (p *Provider) buildRequest(req *types.MessageRequest) *chatRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	openaiReq := &chatRequest{
		Model:       stripProviderPrefix(req.Model),
		MaxTokens:   &maxTokens,
		Temperature: req.Temperature,
		Messages:    translateMessages(req.Messages, req.System),
	}
	if len(req.Tools) > 0 {
		openaiReq.Tools = translateTools(req.Tools)
		if req.ToolChoice != nil {
			openaiReq.ToolChoice = translateToolChoice(req.ToolChoice)
		}
	}
	if req.JSONOutput {
		openaiReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return openaiReq
}

// translateMessages converts core messages to OpenAI format. Tool results
// become individual "tool" role messages and assistant tool_use blocks become
// tool_calls.
func translateMessages(messages []types.Message, system string) []chatMessage {
	result := make([]chatMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, chatMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		blocks := msg.ContentBlocks()

		hasToolResults := false
		for _, block := range blocks {
			if tr, ok := block.(types.ToolResultBlock); ok {
				hasToolResults = true
				result = append(result, chatMessage{
					Role:       "tool",
					ToolCallID: tr.ToolUseID,
					Content:    tr.Content,
				})
			}
		}
		if hasToolResults {
			continue
		}

		openaiMsg := chatMessage{Role: msg.Role}
		var text strings.Builder
		for _, block := range blocks {
			switch b := block.(type) {
			case types.TextBlock:
				text.WriteString(b.Text)
			case types.ToolUseBlock:
				if msg.Role != types.RoleAssistant {
					continue
				}
				inputJSON, _ := json.Marshal(b.Input)
				openaiMsg.ToolCalls = append(openaiMsg.ToolCalls, toolCall{
					ID:       b.ID,
					Type:     "function",
					Function: functionCall{Name: b.Name, Arguments: string(inputJSON)},
				})
			}
		}
		if text.Len() > 0 || len(openaiMsg.ToolCalls) == 0 {
			openaiMsg.Content = text.String()
		}
		result = append(result, openaiMsg)
	}
	return result
}

func translateTools(tools []types.Tool) []chatTool {
	result := make([]chatTool, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != types.ToolTypeFunction {
			continue
		}
		schemaBytes, _ := json.Marshal(tool.InputSchema)
		result = append(result, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaBytes,
			},
		})
	}
	return result
}

func translateToolChoice(tc *types.ToolChoice) any {
	switch tc.Type {
	case "none":
		return "none"
	case "any":
		return "required"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		}
	}
	return "auto"
}

// stripProviderPrefix removes the provider prefix from a model string.
// "openai/gpt-4o-mini" -> "gpt-4o-mini"
func stripProviderPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx != -1 {
		return model[idx+1:]
	}
	return model
}
