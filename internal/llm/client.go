package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a completion request and returns the response.
	Chat(ctx context.Context, req *Request) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
