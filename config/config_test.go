// ABOUTME: Tests for configuration loading
// ABOUTME: Defaults, file values and environment overrides
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ROLODEX_OWNER", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 15*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 10*time.Minute, cfg.SyncLeaseTTL)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.NotEmpty(t, cfg.OwnerID)
	assert.False(t, cfg.AIEnabled())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"owner_id": "harper",
		"llm_model": "gpt-4o",
		"batch_concurrency": 8,
		"redis_url": "redis://localhost:6379/0"
	}`), 0600))

	t.Setenv("ROLODEX_OWNER", "")
	t.Setenv("ROLODEX_LLM_MODEL", "local-model")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ROLODEX_SYNC_LEASE_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "harper", cfg.OwnerID)
	assert.Equal(t, "local-model", cfg.LLMModel)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 90*time.Second, cfg.SyncLeaseTTL)
	assert.True(t, cfg.AIEnabled())
	assert.Equal(t, 2000, cfg.LLMMaxInputChars, "unset file fields keep defaults")
}

func TestLoadErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("ROLODEX_LLM_TIMEOUT", "soon")
	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "ROLODEX_LLM_TIMEOUT")
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("ROLODEX_OWNER", "")
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.OwnerID = "saved-owner"
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-owner", loaded.OwnerID)
}
