package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/shared/jsonx"
)

// httpClient talks to one OpenAI-compatible chat-completions endpoint.
type httpClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  logging.Logger
}

// NewHTTPClient builds a client for a single endpoint. baseURL is the API
// root, e.g. "https://api.openai.com/v1".
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) StreamingClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger("LLMClient"),
	}
}

func (c *httpClient) Model() string { return c.model }

// wire types for the chat-completions protocol.

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
	Error *apiError  `json:"error,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (c *httpClient) buildRequestBody(req CompletionRequest, stream bool) map[string]any {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": req.Temperature,
		"stream":      stream,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.JSONOnly {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if stream {
		body["stream_options"] = map[string]bool{"include_usage": true}
	}
	return body
}

func (c *httpClient) newRequest(ctx context.Context, body map[string]any) (*http.Request, error) {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

// Complete performs one non-streaming model call.
func (c *httpClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	httpReq, err := c.newRequest(ctx, c.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.mapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scouterrors.NewTransientError(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, scouterrors.NewTransientError(err, "decode response")
	}
	if parsed.Error != nil {
		return nil, scouterrors.NewPermanentError(fmt.Errorf("api error: %s", parsed.Error.Message), "provider rejected request")
	}
	if len(parsed.Choices) == 0 {
		return nil, scouterrors.NewTransientError(fmt.Errorf("empty choices"), "provider returned no completion")
	}

	choice := parsed.Choices[0]
	c.logger.Debug("Completion finished in %s, reason=%s, tokens=%d",
		time.Since(start).Round(time.Millisecond), choice.FinishReason, parsed.Usage.TotalTokens)
	return &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage:      parsed.Usage,
	}, nil
}

// StreamComplete performs one streaming model call, invoking callbacks as
// deltas arrive and returning the assembled response. The transport is never
// retried mid-stream; a broken connection surfaces as a transient error.
func (c *httpClient) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	httpReq, err := c.newRequest(ctx, c.buildRequestBody(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.mapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, data)
	}

	var content strings.Builder
	var usage TokenUsage
	stopReason := ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := jsonx.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn("Skipping malformed stream chunk: %v", err)
			continue
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
			if callbacks.OnContentDelta != nil {
				callbacks.OnContentDelta(ContentDelta{Delta: choice.Delta.Content})
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			stopReason = *choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, scouterrors.New(scouterrors.KindCancelled, "stream cancelled")
		}
		return nil, scouterrors.NewTransientError(err, "stream interrupted")
	}

	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}
	if content.Len() == 0 && stopReason == "" {
		return nil, scouterrors.NewTransientError(fmt.Errorf("no content"), "stream ended without content")
	}
	return &CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (c *httpClient) mapTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return scouterrors.New(scouterrors.KindCancelled, "request cancelled")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return scouterrors.Wrap(scouterrors.KindTimeout, "request deadline exceeded", err)
	}
	return scouterrors.NewTransientError(err, "transport failure")
}

// mapHTTPError classifies provider status codes: rate limits and server
// faults are retryable, auth and validation faults are not.
func mapHTTPError(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 300 {
		snippet = snippet[:300]
	}
	err := fmt.Errorf("http %d: %s", status, snippet)
	switch {
	case status == http.StatusTooManyRequests:
		return scouterrors.NewTransientError(err, "rate limited")
	case status >= 500:
		return scouterrors.NewTransientError(err, "provider server fault")
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusBadRequest:
		return scouterrors.NewPermanentError(err, "provider rejected request")
	default:
		return scouterrors.NewTransientError(err, "unexpected provider status")
	}
}
