package llm

import "context"

// Client is the reasoning-model boundary. One call, one model; model
// selection across a preference list lives in Fallback.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// Tools are OpenAI-format definitions; providers convert.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable with the configured key.
	Ping(ctx context.Context) error
}
