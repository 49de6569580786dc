package vector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/shared/jsonx"
)

// Embedder maps text to fixed-dimension unit vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// maxBatchSize bounds how many inputs go into one embeddings request.
const maxBatchSize = 100

// httpEmbedder calls an OpenAI-compatible /embeddings endpoint with an LRU
// result cache. Network failure after retries surfaces as
// EmbeddingUnavailable.
type httpEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	cache     *lru.Cache[string, []float32]
	retry     scouterrors.RetryConfig
	logger    logging.Logger
}

// EmbedderConfig configures the HTTP embedding client.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	CacheSize int
	Timeout   time.Duration
	Retry     scouterrors.RetryConfig
}

// NewEmbedder builds the HTTP embedding client.
func NewEmbedder(config EmbedderConfig) (Embedder, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 10000
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = scouterrors.DefaultRetryConfig()
	}
	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &httpEmbedder{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		model:     config.Model,
		dimension: config.Dimension,
		client:    &http.Client{Timeout: config.Timeout},
		cache:     cache,
		retry:     config.Retry,
		logger:    logging.NewComponentLogger("Embedder"),
	}, nil
}

func (e *httpEmbedder) Dimension() int { return e.dimension }

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts preserving input order. Cached entries are served
// locally; only misses go over the wire, chunked to the provider batch limit.
func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
			continue
		}
		missing = append(missing, i)
	}

	for start := 0; start < len(missing); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		chunk := missing[start:end]
		inputs := make([]string, len(chunk))
		for j, idx := range chunk {
			inputs[j] = texts[idx]
		}

		vectors, err := scouterrors.RetryWithResultAndLog(ctx, e.retry,
			func(ctx context.Context) ([][]float32, error) {
				return e.request(ctx, inputs)
			}, e.logger)
		if err != nil {
			return nil, scouterrors.Wrap(scouterrors.KindEmbeddingUnavailable, "embedding request failed", err)
		}
		for j, idx := range chunk {
			results[idx] = vectors[j]
			e.cache.Add(texts[idx], vectors[j])
		}
	}
	return results, nil
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *httpEmbedder) request(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := jsonx.Marshal(map[string]any{"model": e.model, "input": inputs})
	if err != nil {
		return nil, scouterrors.NewPermanentError(err, "encode embedding request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, scouterrors.NewPermanentError(err, "create embedding request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, scouterrors.New(scouterrors.KindCancelled, "embedding cancelled")
		}
		return nil, scouterrors.NewTransientError(err, "embedding transport")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scouterrors.NewTransientError(err, "read embedding response")
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http %d: %.200s", resp.StatusCode, data)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, scouterrors.NewTransientError(err, "embedding provider fault")
		}
		return nil, scouterrors.NewPermanentError(err, "embedding request rejected")
	}

	var parsed embeddingResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, scouterrors.NewTransientError(err, "decode embedding response")
	}
	if parsed.Error != nil {
		return nil, scouterrors.NewPermanentError(fmt.Errorf("api error: %s", parsed.Error.Message), "embedding rejected")
	}
	if len(parsed.Data) != len(inputs) {
		return nil, scouterrors.NewTransientError(
			fmt.Errorf("got %d embeddings for %d inputs", len(parsed.Data), len(inputs)), "embedding count mismatch")
	}

	// Providers may reorder; the index field restores input order.
	vectors := make([][]float32, len(inputs))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, scouterrors.NewTransientError(fmt.Errorf("embedding index %d out of range", item.Index), "embedding order")
		}
		if len(item.Embedding) != e.dimension {
			return nil, scouterrors.NewPermanentError(
				fmt.Errorf("dimension %d, expected %d", len(item.Embedding), e.dimension), "embedding dimension mismatch")
		}
		vectors[item.Index] = Normalize(item.Embedding)
	}
	for i, v := range vectors {
		if v == nil {
			return nil, scouterrors.NewTransientError(fmt.Errorf("missing embedding for input %d", i), "embedding order")
		}
	}
	return vectors, nil
}
