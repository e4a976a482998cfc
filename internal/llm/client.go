// Package llm provides clients for hosted text-generation providers.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
// A Client is bound to one credential at construction time.
type Client interface {
	// Chat sends a single non-streaming request and returns the full
	// response. System messages are lifted into the provider's system
	// field where the wire format has one.
	Chat(ctx context.Context, model string, messages []Message, maxTokens int) (*ChatResponse, error)

	// Ping checks that the provider is reachable and accepts the credential.
	Ping(ctx context.Context) error
}
