package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scripted StreamingClient for tests. Responses are consumed
// in order; errors queued via FailWith are returned before responses.
type MockClient struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	errs      []error
	requests  []CompletionRequest
	// StreamChunks controls how streamed content is split into deltas. Zero
	// means one delta for the whole content.
	StreamChunks int
}

// NewMockClient builds an empty mock; script it with Respond / FailWith.
func NewMockClient() *MockClient { return &MockClient{} }

// Respond queues a plain-text completion.
func (m *MockClient) Respond(content string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, &CompletionResponse{Content: content, StopReason: "stop"})
	return m
}

// FailWith queues an error ahead of any remaining responses.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// Requests returns every request seen so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

func (m *MockClient) Model() string { return "mock-model" }

func (m *MockClient) next(req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock client: no scripted response")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(req)
}

func (m *MockClient) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := m.StreamChunks
	if chunks <= 0 {
		chunks = 1
	}
	content := resp.Content
	size := (len(content) + chunks - 1) / chunks
	if size == 0 {
		size = 1
	}
	for start := 0; start < len(content); start += size {
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		if callbacks.OnContentDelta != nil {
			callbacks.OnContentDelta(ContentDelta{Delta: content[start:end]})
		}
	}
	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}
	return resp, nil
}
