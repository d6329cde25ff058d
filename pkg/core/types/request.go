package types

// MessageRequest is the request structure sent to a Provider.
type MessageRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	System      string   `json:"system,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	// JSONOutput asks the provider for a single JSON object response.
	JSONOutput bool `json:"json_output,omitempty"`
}
