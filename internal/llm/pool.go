package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// endpoint pairs one upstream client with its own circuit breaker, so one
// failing base URL never poisons the others.
type endpoint struct {
	client  StreamingClient
	breaker *scouterrors.CircuitBreaker
	url     string
}

// Pool distributes calls across several OpenAI-compatible endpoints. The
// selection is round-robin over endpoints whose breaker admits traffic; when
// every breaker is open the pool reports the model service as unavailable.
type Pool struct {
	endpoints []*endpoint
	cursor    atomic.Uint64
	model     string
	logger    logging.Logger
}

// NewPool builds a pool over baseURLs. All endpoints share the credentials
// and model; at least one URL is required.
func NewPool(baseURLs []string, apiKey, model string, timeout time.Duration) (*Pool, error) {
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("at least one endpoint url is required")
	}
	pool := &Pool{model: model, logger: logging.NewComponentLogger("LLMPool")}
	for _, url := range baseURLs {
		pool.endpoints = append(pool.endpoints, &endpoint{
			client:  NewHTTPClient(url, apiKey, model, timeout),
			breaker: scouterrors.NewCircuitBreaker("llm:"+url, scouterrors.DefaultCircuitBreakerConfig()),
			url:     url,
		})
	}
	return pool, nil
}

func (p *Pool) Model() string { return p.model }

// Complete tries each endpoint at most once, starting from the round-robin
// cursor, skipping open breakers.
func (p *Pool) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return dispatch(p, ctx, func(ctx context.Context, ep *endpoint) (*CompletionResponse, error) {
		return ep.client.Complete(ctx, req)
	})
}

// StreamComplete selects one endpoint and streams through it. A stream that
// already delivered deltas is not failed over, because the caller has seen
// partial output; the error propagates instead.
func (p *Pool) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	delivered := false
	wrapped := StreamCallbacks{OnContentDelta: func(delta ContentDelta) {
		if !delta.Final {
			delivered = true
		}
		if callbacks.OnContentDelta != nil {
			callbacks.OnContentDelta(delta)
		}
	}}
	return dispatch(p, ctx, func(ctx context.Context, ep *endpoint) (*CompletionResponse, error) {
		resp, err := ep.client.StreamComplete(ctx, req, wrapped)
		if err != nil && delivered {
			return nil, &sticky{err}
		}
		return resp, err
	})
}

// sticky marks an error that must not trigger endpoint failover.
type sticky struct{ err error }

func (s *sticky) Error() string { return s.err.Error() }
func (s *sticky) Unwrap() error { return s.err }

func dispatch(p *Pool, ctx context.Context, call func(ctx context.Context, ep *endpoint) (*CompletionResponse, error)) (*CompletionResponse, error) {
	start := int(p.cursor.Add(1) - 1)
	var lastErr error
	for i := 0; i < len(p.endpoints); i++ {
		ep := p.endpoints[(start+i)%len(p.endpoints)]
		resp, err := scouterrors.ExecuteFunc(ep.breaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			return call(ctx, ep)
		})
		if err == nil {
			return resp, nil
		}
		var st *sticky
		if scouterrors.IsKind(err, scouterrors.KindCancelled) || ctx.Err() != nil {
			return nil, err
		}
		if errors.As(err, &st) {
			return nil, st.err
		}
		p.logger.Warn("Endpoint %s failed: %v", ep.url, err)
		lastErr = err
	}
	return nil, scouterrors.Wrap(scouterrors.KindLLMUnavailable, "all model endpoints failed", lastErr)
}
