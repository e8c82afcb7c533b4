package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 5, cfg.Retrieval.DocsTopK)
	require.Equal(t, 4, cfg.Orchestrator.MaxToolSteps)
	require.Equal(t, 2, cfg.Orchestrator.WindowRadius)
	require.Equal(t, 20480, cfg.Proxy.MaxTextBytes)
	require.Equal(t, "balanced", cfg.Safety.PolicyMode)
	require.True(t, cfg.MockMode)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
orchestrator:
  max_tool_steps: 2
`), 0o644))
	t.Setenv("ORION_CONFIG", path)
	t.Setenv("ORCH_MAX_TOOL_STEPS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 7, cfg.Orchestrator.MaxToolSteps)
}

func TestLoadLegacyWindowAliases(t *testing.T) {
	t.Setenv("ORION_CONFIG", "")
	t.Setenv("ORCH_MAX_CHUNK_WINDOW", "7")
	cfg, err := Load()
	require.NoError(t, err)
	// R = (total-1)/2
	require.Equal(t, 3, cfg.Orchestrator.WindowRadius)
	require.Zero(t, cfg.Orchestrator.MaxChunkWindow)

	t.Setenv("ORCH_MAX_CHUNK_WINDOW", "")
	t.Setenv("ORCH_WINDOW_MAX", "4")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Orchestrator.WindowRadius)
}

func TestLoadProxyWindowAlias(t *testing.T) {
	t.Setenv("MCP_MAX_CHUNK_WINDOW", "5")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Proxy.MaxWindowRadius)
}

func TestLoadBlocklistCSV(t *testing.T) {
	t.Setenv("SAFETY_BLOCKLIST", "foo, bar ,baz")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"foo", "bar", "baz"}, cfg.Safety.Blocklist)
}

func TestRadiusNeverBelowOne(t *testing.T) {
	t.Setenv("ORCH_WINDOW_RADIUS", "0")
	t.Setenv("MCP_MAX_WINDOW_RADIUS", "-3")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Orchestrator.WindowRadius)
	require.Equal(t, 1, cfg.Proxy.MaxWindowRadius)
}
