package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.85, cfg.Evolve.DuplicateThreshold)
	assert.Equal(t, 0.3, cfg.Vector.ScoreThreshold)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLM.BaseURLs = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Evolve.DuplicateThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestProjectDirSanitizesKey(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/scout"

	assert.Equal(t, filepath.Join("/tmp/scout", "p1"), cfg.ProjectDir("p1"))
	dir := cfg.ProjectDir("../evil/key")
	assert.NotContains(t, dir, "..")
	assert.Equal(t, filepath.Join("/tmp/scout", "default"), cfg.ProjectDir(""))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SCOUT_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("HOME", t.TempDir()) // avoid picking up a real config file

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}
