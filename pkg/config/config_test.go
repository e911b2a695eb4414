package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 10, cfg.Memory.HistoryCapacity)
	require.Equal(t, 5, cfg.Memory.ReflectionCapacity)
	require.Equal(t, 5, cfg.Loop.PlanningInterval)
	require.Equal(t, 0.5, cfg.Memory.EmbedThreshold)
	require.Equal(t, 0.8, cfg.Memory.TagThreshold)
}

func TestLoadExpandsEnvAndMergesOverDefaults(t *testing.T) {
	t.Setenv("TEST_MODEL_API_KEY", "secret-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
model:
  base_url: https://api.example.com/v1
  api_key: ${TEST_MODEL_API_KEY}
  model: test-vlm
loop:
  max_steps: 12
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com/v1", cfg.Model.BaseURL)
	require.Equal(t, "secret-123", cfg.Model.APIKey)
	require.Equal(t, 12, cfg.Loop.MaxSteps)
	// Untouched defaults survive the merge.
	require.Equal(t, 5, cfg.Loop.PlanningInterval)
	require.Equal(t, "./memory", cfg.Memory.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRequiresModelAndMemory(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Model.BaseURL = "https://api.example.com/v1"
	cfg.Model.Model = "test-vlm"
	require.NoError(t, cfg.Validate())

	cfg.Loop.MaxSteps = 0
	require.Error(t, cfg.Validate())
}

func TestExpandEnvWithDefaultFallback(t *testing.T) {
	os.Unsetenv("UNSET_TEST_VAR")
	got := expandEnv("value: ${UNSET_TEST_VAR:-fallback}")
	require.Equal(t, "value: fallback", got)
}
