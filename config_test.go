package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-core/workflow/internal/agent/model"
	"github.com/chative-core/workflow/internal/core"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, model.DefaultLimits(), cfg.WorkflowLimits)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"APP_ENV=prod\n"+
			"MODEL_NAME=gpt-4o-mini\n"+
			"SUMMARY_MODEL=gpt-4o-mini\n"+
			"WORKFLOW_EXECUTION_TIMEOUT=90s\n"+
			"WORKFLOW_MAX_CONCURRENT=2\n"+
			"REDIS_URL=redis://localhost:6379/0\n",
	), 0o600))
	t.Cleanup(func() {
		for _, k := range []string{"APP_ENV", "MODEL_NAME", "SUMMARY_MODEL", "WORKFLOW_EXECUTION_TIMEOUT", "WORKFLOW_MAX_CONCURRENT", "REDIS_URL"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, core.Production, cfg.Env)
	assert.Equal(t, "gpt-4o-mini", cfg.ModelConfig.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.SummaryConfig.Model)
	assert.Equal(t, 90*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadConfigMissingEnvFileIsIgnored(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoadConfigRejectsInvalidLimits(t *testing.T) {
	t.Setenv("WORKFLOW_MAX_TOKENS", "0")
	_, err := loadConfig("")
	assert.Error(t, err)
}

func TestNewRegistryUsesOverrideFile(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	registry, err := newRegistry(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, cfg.WorkflowLimits, registry.Limits())

	_, err = newRegistry(cfg, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
