package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	t.Setenv("BABYSITTER_BASE_PATH", base)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 8192, cfg.MaxTokens)
	assert.Equal(t, DefaultRetryConfig, cfg.Retry)
	assert.Equal(t, base, cfg.BasePath)
	assert.Equal(t, filepath.Join(base, "storage.db"), cfg.DBPath)
	assert.Equal(t, []string{filepath.Join(".babysitter", "processes"), filepath.Join(base, "processes")}, cfg.ProcessDirs)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.Equal(t, BreakpointInteractive, cfg.Breakpoints.Mode)
	assert.Equal(t, 8765, cfg.Server.Port)
}

func TestInitReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BABYSITTER_BASE_PATH", dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: openai
model: gpt-4.1
process_dirs:
  - ./processes
retry:
  attempts: 5
  backoff_type: fixed
breakpoints:
  mode: deferred
skills:
  allowed: ["data/*"]
`), 0o644))

	v := viper.New()
	require.NoError(t, Init(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-4.1", cfg.Model)
	assert.Equal(t, []string{"./processes"}, cfg.ProcessDirs)
	assert.Equal(t, 5, cfg.Retry.Attempts)
	assert.Equal(t, "fixed", cfg.Retry.BackoffType)
	assert.Equal(t, BreakpointDeferred, cfg.Breakpoints.Mode)
	assert.Equal(t, []string{"data/*"}, cfg.Skills.Allowed)
}

func TestInitEnvironmentOverride(t *testing.T) {
	t.Setenv("BABYSITTER_BASE_PATH", t.TempDir())
	t.Setenv("BABYSITTER_MODEL", "gemini-2.5-pro")

	v := viper.New()
	require.NoError(t, Init(v, ""))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
}

func TestInitMissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := Init(v, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{Breakpoints: BreakpointConfig{Mode: "sometimes"}}
	assert.ErrorContains(t, cfg.Validate(), "breakpoints.mode")

	cfg = Config{Breakpoints: BreakpointConfig{Mode: BreakpointAuto}, Retry: RetryConfig{BackoffType: "linear"}}
	assert.ErrorContains(t, cfg.Validate(), "backoff_type")

	cfg = Config{Breakpoints: BreakpointConfig{Mode: BreakpointAuto}, MaxTokens: -1}
	assert.ErrorContains(t, cfg.Validate(), "max_tokens")
}
