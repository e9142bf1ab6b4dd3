package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Runner.MaxIterations)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
log:
  level: debug
  format: json
model:
  provider: anthropic
  name: claude-sonnet
runner:
  max_iterations: 8
  memory: window
  window_size: 12
store:
  backend: sqlite
  sqlite:
    path: /tmp/loom-test.db
agents:
  assistant:
    name: Assistant
    description: answers questions
    tools: [get_time]
tools:
  get_time:
    name: get_time
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 8, cfg.Runner.MaxIterations)
	assert.Equal(t, "window", cfg.Runner.Memory)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/loom-test.db", cfg.Store.SQLite.Path)

	require.Contains(t, cfg.Agents, "assistant")
	assert.Equal(t, []string{"get_time"}, cfg.Agents["assistant"].Tools)
	require.Contains(t, cfg.Tools, "get_time")
}

func TestLoad_AgentExtendsDeclaration(t *testing.T) {
	path := writeConfig(t, `
agents:
  base:
    description: shared behavior
    tools: [a]
  child:
    extends: base
    tools: [b]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "base", cfg.Agents["child"].Extends)
	assert.Equal(t, []string{"b"}, cfg.Agents["child"].Tools)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOOM_SERVER_ADDR", ":7777")
	t.Setenv("LOOM_MODEL_API_KEY", "sk-test")
	t.Setenv("LOOM_REDIS_DB", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: cassandra\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestLoad_RejectsUnknownMemory(t *testing.T) {
	path := writeConfig(t, "runner:\n  memory: vector\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
