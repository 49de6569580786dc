package vector

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scouterrors "scout/internal/errors"
	"scout/internal/shared/jsonx"
)

func embeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// echoEmbeddings returns a deterministic 3-dim vector per input, reversed in
// order to exercise index-based reassembly.
func echoEmbeddings(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		Input []string `json:"input"`
	}
	_ = jsonx.Unmarshal(body, &req)

	type item struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	items := make([]item, 0, len(req.Input))
	for i := len(req.Input) - 1; i >= 0; i-- {
		items = append(items, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1, 0}})
	}
	data, _ := jsonx.Marshal(map[string]any{"data": items})
	_, _ = w.Write(data)
}

func newTestEmbedder(t *testing.T, url string) Embedder {
	t.Helper()
	embedder, err := NewEmbedder(EmbedderConfig{
		BaseURL:   url,
		Model:     "embed-test",
		Dimension: 3,
		Retry:     scouterrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	require.NoError(t, err)
	return embedder
}

func TestEmbedBatchPreservesOrderAndNormalises(t *testing.T) {
	server := embeddingServer(t, echoEmbeddings)
	embedder := newTestEmbedder(t, server.URL)

	vectors, err := embedder.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, v := range vectors {
		require.Len(t, v, 3)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
		// First component grows with input length: order was preserved.
		expected := float32(i+1) / float32(math.Sqrt(float64((i+1)*(i+1)+1)))
		assert.InDelta(t, float64(expected), float64(v[0]), 1e-5)
	}
}

func TestEmbedCachesRepeats(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		echoEmbeddings(w, r)
	})
	embedder := newTestEmbedder(t, server.URL)

	first, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := embedder.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedRetriesThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	embedder := newTestEmbedder(t, server.URL)

	_, err := embedder.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindEmbeddingUnavailable))
	assert.Greater(t, calls.Load(), int32(1))
}

func TestEmbedRecoversFromTransient(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		echoEmbeddings(w, r)
	})
	embedder := newTestEmbedder(t, server.URL)

	v, err := embedder.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestEmbedBatchChunksLargeInput(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		echoEmbeddings(w, r)
	})
	embedder := newTestEmbedder(t, server.URL)

	inputs := make([]string, maxBatchSize+5)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("text-%03d", i)
	}
	vectors, err := embedder.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)
	assert.Len(t, vectors, len(inputs))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedRejectsDimensionMismatch(t *testing.T) {
	server := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1.0,0.0]}]}`)
	})
	embedder := newTestEmbedder(t, server.URL)

	_, err := embedder.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "dimension") ||
		scouterrors.IsKind(err, scouterrors.KindEmbeddingUnavailable))
}
