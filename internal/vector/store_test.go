package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Dir: dir, Dimension: 3, L1MaxBytes: 1 << 20, Model: "embed-test"})
	require.NoError(t, err)
	return store
}

func frag(id string, vec []float32) *Fragment {
	return &Fragment{ID: id, Content: "content of " + id, Vector: vec}
}

func TestAddThenGetHitsHotTier(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.Add(frag("a", []float32{1, 0, 0}))

	got := store.Get("a")
	require.NotNil(t, got)
	assert.Equal(t, "content of a", got.Content)

	// Returned copies are isolated from the stored fragment.
	got.Content = "mutated"
	assert.Equal(t, "content of a", store.Get("a").Content)
}

func TestGetPromotesFromDisk(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Add(frag("learning:r1:question", []float32{1, 0, 0}))
	store.Flush()

	// A fresh store sees only disk; the first Get promotes.
	reopened := newTestStore(t, dir)
	got := reopened.Get("learning:r1:question")
	require.NotNil(t, got)
	assert.Equal(t, "content of learning:r1:question", got.Content)
}

func TestDottedIDMapsToNestedPath(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Add(frag("docs.readme.0", []float32{0, 1, 0}))
	store.Flush()

	path := filepath.Join(dir, "fragments", "docs", "readme", "0.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	reopened := newTestStore(t, dir)
	assert.NotNil(t, reopened.Get("docs.readme.0"))
}

func TestSearchRanksAndFilters(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.Add(frag("exact", []float32{1, 0, 0}))
	store.Add(frag("close", []float32{0.9, 0.1, 0}))
	store.Add(frag("orthogonal", []float32{0, 0, 1}))
	store.Add(&Fragment{ID: "no-vector", Content: "unsearchable"})

	results := store.Search([]float32{1, 0, 0}, 10)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Fragment.ID)
	assert.Equal(t, "close", results[1].Fragment.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestSearchBreaksTiesLexicographically(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.Add(frag("b", []float32{1, 0, 0}))
	store.Add(frag("a", []float32{1, 0, 0}))
	store.Add(frag("c", []float32{1, 0, 0}))

	results := store.Search([]float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Fragment.ID)
	assert.Equal(t, "b", results[1].Fragment.ID)
}

func TestDeleteByPrefixClearsAllTiers(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Add(frag("learning:r1:question", []float32{1, 0, 0}))
	store.Add(frag("learning:r1:answer", []float32{0, 1, 0}))
	store.Add(frag("learning:r2:question", []float32{0, 0, 1}))
	store.Flush()

	removed := store.Delete("learning:r1:")
	assert.Equal(t, 2, removed)
	assert.Nil(t, store.Get("learning:r1:question"))
	assert.Nil(t, store.Get("learning:r1:answer"))
	assert.NotNil(t, store.Get("learning:r2:question"))

	// Gone from disk too.
	reopened := newTestStore(t, dir)
	assert.Nil(t, reopened.Get("learning:r1:question"))
}

func TestCleanupMdVectors(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	md := frag("docs.guide.0", []float32{1, 0, 0})
	md.Metadata = map[string]string{"sourceType": "markdown"}
	store.Add(md)
	store.Add(frag("learning:r1:question", []float32{0, 1, 0}))
	store.Flush()

	removed := store.CleanupMdVectors()
	assert.Equal(t, 1, removed)
	assert.Nil(t, store.Get("docs.guide.0"))
	assert.NotNil(t, store.Get("learning:r1:question"))
}

func TestL1EvictsUnderByteBudget(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(StoreConfig{Dir: dir, Dimension: 3, L1MaxBytes: 600})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		store.Add(frag(fmt.Sprintf("f%02d", i), []float32{1, 0, 0}))
	}
	store.Flush()
	assert.Less(t, store.l1.Len(), 10)
	// Evicted fragments remain reachable through the slower tiers.
	for i := 0; i < 10; i++ {
		assert.NotNil(t, store.Get(fmt.Sprintf("f%02d", i)))
	}
}

func TestSnapshotRoundTripKeepsSearchStable(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Add(frag("a", []float32{1, 0, 0}))
	store.Add(frag("b", []float32{0.8, 0.2, 0}))
	store.Add(frag("c", []float32{0, 1, 0}))
	store.Flush()
	require.NoError(t, store.WriteSnapshot())

	query := []float32{1, 0, 0}
	before := store.Search(query, 3)

	// Remove fragment files so the reopened store can only see the snapshot.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "fragments")))
	reopened := newTestStore(t, dir)
	after := reopened.Search(query, 3)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Fragment.ID, after[i].Fragment.ID)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
	}
}

func TestSnapshotMismatchShorterWins(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	store.Add(frag("a", []float32{1, 0, 0}))
	store.Add(frag("b", []float32{0, 1, 0}))
	store.Flush()
	require.NoError(t, store.WriteSnapshot())

	// Truncate the vector file to one row; docs still lists two entries.
	vecPath := filepath.Join(dir, vecFileName)
	require.NoError(t, os.WriteFile(vecPath, make([]byte, 3*4), 0644))
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "fragments")))

	reopened := newTestStore(t, dir)
	assert.Equal(t, 1, reopened.Count())
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{3, 4}, []float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
