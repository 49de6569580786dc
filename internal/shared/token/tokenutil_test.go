package tokenutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateFast(t *testing.T) {
	assert.Equal(t, 0, EstimateFast(""))
	assert.Equal(t, 0, EstimateFast("   "))
	assert.Equal(t, 1, EstimateFast("a"))

	// Word count dominates for short texts with many words.
	got := EstimateFast("a b c d e f")
	assert.GreaterOrEqual(t, got, 6)
}

func TestCountTokensPositive(t *testing.T) {
	assert.Greater(t, CountTokens("hello world"), 0)
	assert.Equal(t, 0, CountTokens(""))
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("one two three four five ", 200)
	truncated := TruncateToTokens(text, 10)
	assert.Less(t, len(truncated), len(text))
	assert.True(t, strings.HasSuffix(truncated, "..."))

	short := "tiny"
	assert.Equal(t, short, TruncateToTokens(short, 100))
	assert.Equal(t, text, TruncateToTokens(text, 0))
}
