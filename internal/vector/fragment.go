// Package vector implements the tiered fragment store and its embedding
// client: a hot byte-bounded LRU, a warm concurrent map, and a cold
// one-file-per-fragment JSON layout, plus a compacted snapshot used to warm
// the search index at startup.
package vector

import "math"

// Fragment is one searchable unit. Vector is unit-normalised float32 of the
// store's fixed dimension; a nil vector means the fragment is retrievable by
// id but invisible to similarity search.
type Fragment struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	FullContent string            `json:"fullContent,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Vector      []float32         `json:"vector,omitempty"`
}

// Clone returns an independent copy.
func (f *Fragment) Clone() *Fragment {
	clone := *f
	if f.Tags != nil {
		clone.Tags = append([]string(nil), f.Tags...)
	}
	if f.Metadata != nil {
		clone.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			clone.Metadata[k] = v
		}
	}
	if f.Vector != nil {
		clone.Vector = append([]float32(nil), f.Vector...)
	}
	return &clone
}

// sizeBytes approximates the in-memory footprint for L1 accounting.
func (f *Fragment) sizeBytes() int {
	size := len(f.ID) + len(f.Title) + len(f.Content) + len(f.FullContent)
	for _, tag := range f.Tags {
		size += len(tag)
	}
	for k, v := range f.Metadata {
		size += len(k) + len(v)
	}
	size += 4 * len(f.Vector)
	return size + 64
}

// CosineSimilarity computes the cosine between two vectors, 0 when either is
// empty or lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales a vector to unit length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
