package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Gateway.HTTPBaseURL)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Reasoning.MaxCycles)
	assert.Equal(t, "query_metrics", cfg.Reasoning.PrimaryTool)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
gateway:
  http_base_url: http://gateway:8080
  grpc_address: gateway:50051
  timeout: 5
reasoning:
  max_cycles: 8
  primary_tool: query_logs
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://gateway:8080", cfg.Gateway.HTTPBaseURL)
	assert.Equal(t, "gateway:50051", cfg.Gateway.GRPCAddress)
	assert.Equal(t, 5, cfg.Gateway.Timeout)
	assert.Equal(t, 8, cfg.Reasoning.MaxCycles)
	assert.Equal(t, "query_logs", cfg.Reasoning.PrimaryTool)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Reasoning.MaxHypotheses)
}

func TestEnvVarOverridesFile(t *testing.T) {
	t.Setenv("FAULTLINE_SERVER_PORT", "7070")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 7070, mgr.Get(ctx).Server.Port)
}

func TestAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, "sk-ant-test", cfg.LLM.Anthropic["api_key"])
	assert.True(t, cfg.LLM.Configured)
}

func TestMissingCredentialsAreNotFatal(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	mgr, err := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.NoError(t, mgr.Validate(ctx))
	assert.False(t, mgr.Get(ctx).LLM.Configured)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Gateway.GRPCAddress = "no-port"
	cfg.LLM.Provider = "cohere"
	cfg.Reasoning.MaxCycles = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	require.NotEmpty(t, errs)

	fields := map[string]bool{}
	for _, err := range errs {
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		fields[verr.Field] = true
	}
	assert.True(t, fields["server.port"])
	assert.True(t, fields["gateway.grpc_address"])
	assert.True(t, fields["llm.provider"])
	assert.True(t, fields["reasoning.max_cycles"])
	assert.True(t, fields["logging.level"])
}

func TestReloadPicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	mgr, err := NewConfigManager(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	require.Equal(t, 9090, mgr.Get(ctx).Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 9191, mgr.Get(ctx).Server.Port)
}
