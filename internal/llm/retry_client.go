package llm

import (
	"context"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// retryClient decorates a StreamingClient with retry on transient failures.
// Only Complete is retried; a stream that breaks mid-flight is surfaced to
// the caller, which owns turn-level resumption.
type retryClient struct {
	inner  StreamingClient
	config scouterrors.RetryConfig
	logger logging.Logger
}

// WithRetry wraps a client so non-streaming calls survive transient faults.
func WithRetry(inner StreamingClient, config scouterrors.RetryConfig) StreamingClient {
	return &retryClient{
		inner:  inner,
		config: config,
		logger: logging.NewComponentLogger("LLMRetry"),
	}
}

func (r *retryClient) Model() string { return r.inner.Model() }

func (r *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return scouterrors.RetryWithResultAndLog(ctx, r.config,
		func(ctx context.Context) (*CompletionResponse, error) {
			return r.inner.Complete(ctx, req)
		}, r.logger)
}

func (r *retryClient) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	return r.inner.StreamComplete(ctx, req, callbacks)
}
