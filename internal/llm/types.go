// Package llm wraps the external model service: an OpenAI-compatible HTTP
// client with streaming and JSON-only request modes, a retry decorator, and
// an endpoint pool with per-endpoint circuit breakers.
package llm

import "context"

// Message is one turn of model input.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// CompletionRequest describes one model call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONOnly asks the endpoint for a single JSON object response.
	JSONOnly bool
	// Metadata is carried through for request correlation in logs.
	Metadata map[string]any
}

// TokenUsage reports token accounting from the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the terminal result of one model call.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// ContentDelta is one streamed increment of model output.
type ContentDelta struct {
	Delta string
	// Final marks the last delta of the stream; Delta is empty then.
	Final bool
}

// StreamCallbacks receives streamed output. Only OnContentDelta is required.
type StreamCallbacks struct {
	OnContentDelta func(delta ContentDelta)
}

// Client is the minimal completion contract.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// StreamingClient extends Client with incremental delivery. Streaming
// requests are never retried mid-stream; callers that need retries wrap the
// whole turn.
type StreamingClient interface {
	Client
	StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error)
}
