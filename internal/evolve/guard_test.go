package evolve

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/config"
	"scout/internal/memory"
	"scout/internal/vector"
)

// stubEmbedder maps exact texts to fixed vectors.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    error
}

func (s *stubEmbedder) Dimension() int { return 3 }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return v, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func evolveConfig() config.EvolveConfig {
	return config.EvolveConfig{
		QuestionsPerCycle:    5,
		MaxDailyQuestions:    3,
		DuplicateThreshold:   0.85,
		MaxConsecutiveErrors: 2,
		BaseBackoff:          time.Minute,
		MaxBackoff:           8 * time.Minute,
	}
}

func TestGuardDailyQuota(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	guard := NewGuard(evolveConfig(), memStore, nil, nil, nil)

	for i := 0; i < 3; i++ {
		allowed, _ := guard.Allow(context.Background(), "proj", "q")
		require.True(t, allowed, "question %d inside quota", i)
		require.NoError(t, guard.CountQuestion("proj"))
	}

	allowed, reason := guard.Allow(context.Background(), "proj", "q")
	assert.False(t, allowed)
	assert.Contains(t, reason, "quota")
}

func TestGuardQuotaRollsOverAtUTCDay(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	guard := NewGuard(evolveConfig(), memStore, nil, nil, nil)

	day1 := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return day1 }
	for i := 0; i < 3; i++ {
		require.NoError(t, guard.CountQuestion("proj"))
	}
	allowed, _ := guard.Allow(context.Background(), "proj", "q")
	require.False(t, allowed)

	guard.now = func() time.Time { return day1.Add(2 * time.Hour) } // next UTC day
	allowed, _ = guard.Allow(context.Background(), "proj", "q")
	assert.True(t, allowed)

	// The first question of the new day resets the counter to 1.
	require.NoError(t, guard.CountQuestion("proj"))
	mem, err := memStore.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.EvolutionStatus.QuestionsGeneratedToday)
}

func TestGuardLifetimeCounterMovesOnSuccessOnly(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	guard := NewGuard(evolveConfig(), memStore, nil, nil, nil)

	// Two admitted questions: one exploration fails, one succeeds.
	require.NoError(t, guard.CountQuestion("proj"))
	guard.RecordFailure("proj")
	require.NoError(t, guard.CountQuestion("proj"))
	guard.RecordSuccess("proj")

	mem, err := memStore.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, 2, mem.EvolutionStatus.QuestionsGeneratedToday)
	assert.Equal(t, 1, mem.EvolutionStatus.TotalQuestionsExplored)
}

func TestGuardBackoffAfterConsecutiveFailures(t *testing.T) {
	guard := NewGuard(evolveConfig(), memory.NewStore(t.TempDir()), nil, nil, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	guard.RecordFailure("proj")
	allowed, _ := guard.Allow(context.Background(), "proj", "q")
	assert.True(t, allowed, "one failure is below the threshold")

	guard.RecordFailure("proj")
	allowed, reason := guard.Allow(context.Background(), "proj", "q")
	assert.False(t, allowed)
	assert.Contains(t, reason, "backoff")

	// Backoff expires.
	guard.now = func() time.Time { return now.Add(2 * time.Minute) }
	allowed, _ = guard.Allow(context.Background(), "proj", "q")
	assert.True(t, allowed)

	// A success clears the streak entirely.
	guard.RecordSuccess("proj")
	guard.RecordFailure("proj")
	allowed, _ = guard.Allow(context.Background(), "proj", "q")
	assert.True(t, allowed)
}

func TestGuardBackoffDoubles(t *testing.T) {
	guard := NewGuard(evolveConfig(), memory.NewStore(t.TempDir()), nil, nil, nil)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		guard.RecordFailure("proj")
	}
	// 2 failures over the threshold: base*2^2 = 4 minutes.
	guard.now = func() time.Time { return now.Add(3 * time.Minute) }
	allowed, _ := guard.Allow(context.Background(), "proj", "q")
	assert.False(t, allowed)
	guard.now = func() time.Time { return now.Add(5 * time.Minute) }
	allowed, _ = guard.Allow(context.Background(), "proj", "q")
	assert.True(t, allowed)
}

func TestGuardSemanticDeduplication(t *testing.T) {
	store, err := vector.NewStore(vector.StoreConfig{Dir: t.TempDir(), Dimension: 3})
	require.NoError(t, err)
	store.Add(&vector.Fragment{
		ID:      "learning:record_1:question",
		Content: "How is the config loaded?",
		Vector:  []float32{1, 0, 0},
	})
	store.Add(&vector.Fragment{
		ID:      "doc:unrelated",
		Content: "something else",
		Vector:  []float32{0.99, 0.1, 0},
	})

	embedder := &stubEmbedder{vectors: map[string][]float32{
		"How does config loading work?": {1, 0, 0},
		"Where are tools registered?":   {0, 1, 0},
	}}
	guard := NewGuard(evolveConfig(), memory.NewStore(t.TempDir()), store, embedder, nil)

	allowed, reason := guard.Allow(context.Background(), "proj", "How does config loading work?")
	assert.False(t, allowed)
	assert.Contains(t, reason, "How is the config loaded?")

	allowed, _ = guard.Allow(context.Background(), "proj", "Where are tools registered?")
	assert.True(t, allowed)
}

func TestGuardFailsOpenWhenEmbedderDown(t *testing.T) {
	store, err := vector.NewStore(vector.StoreConfig{Dir: t.TempDir(), Dimension: 3})
	require.NoError(t, err)
	guard := NewGuard(evolveConfig(), memory.NewStore(t.TempDir()), store,
		&stubEmbedder{fail: fmt.Errorf("embedding service down")}, nil)

	allowed, _ := guard.Allow(context.Background(), "proj", "anything")
	assert.True(t, allowed, "dedup is best effort")
}
