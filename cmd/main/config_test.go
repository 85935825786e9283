package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigJSONOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "server_config": {"api_addr": ":9999"},
  "chain_config": {"order": 1, "generation": {"max_generations": 3}},
  "persist_config": {"backend": "sqlite", "path": "chains.db"}
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.ApiAddr)
	assert.Equal(t, "info", cfg.Server.LogLevel, "unset fields keep their defaults")
	assert.Equal(t, 60, cfg.Server.ReadTimeout)
	assert.Equal(t, 60, cfg.Server.WriteTimeout)
	assert.Equal(t, 1, cfg.Chain.Order)
	assert.Equal(t, 3, cfg.Chain.Generation.MaxGenerations)
	assert.Equal(t, 10, cfg.Chain.Generation.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Persist.Backend)
	assert.Equal(t, "@every 1m", cfg.Persist.FlushSchedule)
}

func TestLoadConfigYAMLWithEnv(t *testing.T) {
	t.Setenv("TALKLIKE_TEST_ADDR", ":8123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server_config:
  api_addr: ${TALKLIKE_TEST_ADDR}
  log_level: ${TALKLIKE_TEST_UNSET_LEVEL:-debug}
chain_config:
  order: 3
  generation:
    save_every_message: true
    filter:
      bot_id: 42
      command_prefixes: ["?"]
persist_config:
  backend: json
  path: ./store.json
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8123", cfg.Server.ApiAddr)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 3, cfg.Chain.Order)
	assert.True(t, cfg.Chain.Generation.SaveEveryMessage)
	assert.EqualValues(t, 42, cfg.Chain.Generation.Filter.BotID)
	assert.Equal(t, []string{"?"}, cfg.Chain.Generation.Filter.CommandPrefixes)
	assert.Equal(t, "json", cfg.Persist.Backend)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "malformed json", file: "bad.json", data: "{"},
		{name: "zero order", file: "order.json", data: `{"chain_config": {"order": 0}}`},
		{name: "unknown backend", file: "backend.json", data: `{"persist_config": {"backend": "redis", "path": "x"}}`},
		{name: "empty path", file: "path.json", data: `{"persist_config": {"backend": "dir", "path": ""}}`},
		{name: "unresolved variable", file: "env.yaml", data: "server_config:\n  api_addr: ${TALKLIKE_TEST_DEFINITELY_UNSET}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigNullSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server_config": null}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg.Server)
}

func TestSecondsOr(t *testing.T) {
	assert.Equal(t, 30*time.Second, secondsOr(30, 60))
	assert.Equal(t, 60*time.Second, secondsOr(0, 60))
	assert.Equal(t, 10*time.Second, secondsOr(-5, 10))
}
