package llm

import "time"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries
// (anthropic.go, openai.go).
type ChatResponse struct {
	Model   string
	Message Message

	// StopReason is the provider's reason for ending output, normalized
	// to lower case ("end_turn", "max_tokens", "stop", "length").
	StopReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	Duration time.Duration
}

// Truncated reports whether the model stopped because it hit the
// output token ceiling.
func (r *ChatResponse) Truncated() bool {
	return r.StopReason == "max_tokens" || r.StopReason == "length"
}
