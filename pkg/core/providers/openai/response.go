package openai

import (
	"encoding/json"
	"fmt"

	"github.com/vango-go/vai-reception/pkg/core/types"
)

// chatResponse is the OpenAI Chat Completions response format.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   *string    `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// parseResponse parses an OpenAI response into a core response.
func (p *Provider) parseResponse(body []byte) (*types.MessageResponse, error) {
	var openaiResp chatResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(openaiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	choice := openaiResp.Choices[0]

	content := make([]types.ContentBlock, 0, 1+len(choice.Message.ToolCalls))
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		content = append(content, types.Text(*choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, types.ToolUseBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: decodeArguments(tc.Function.Arguments),
		})
	}

	return &types.MessageResponse{
		ID:         openaiResp.ID,
		Model:      "openai/" + openaiResp.Model,
		Content:    content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage: types.Usage{
			InputTokens:  openaiResp.Usage.PromptTokens,
			OutputTokens: openaiResp.Usage.CompletionTokens,
			TotalTokens:  openaiResp.Usage.TotalTokens,
		},
	}, nil
}

// decodeArguments parses tool-call arguments; malformed JSON yields an empty map.
func decodeArguments(raw string) map[string]any {
	input := make(map[string]any)
	if raw == "" {
		return input
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return make(map[string]any)
	}
	return input
}

// mapFinishReason converts OpenAI finish_reason to a core stop reason.
func mapFinishReason(reason string) types.StopReason {
	switch reason {
	case "length":
		return types.StopReasonMaxTokens
	case "tool_calls":
		return types.StopReasonToolUse
	default:
		return types.StopReasonEndTurn
	}
}
