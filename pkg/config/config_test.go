package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) Getenv(key string) string { return m[key] }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MC_HOST", "MC_PORT", "MC_VERSION", "BOT_PASSWORD", "FLEET_OPERATOR", "RECONNECT_DELAY_SECONDS",
		"HANDSHAKE_DELAY_MS", "SPAWN_COUNT", "CONNECT_RATE", "CONNECT_BURST", "STORE_DRIVER", "STORE_PATH",
		"LOG_RETENTION", "BRIDGE_URL", "LOG_LEVEL", "LOG_JSON", "INTERPRETER_ENABLED", "INTERPRETER_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Fleet.Host)
	assert.Equal(t, 25569, cfg.Fleet.Port)
	assert.Equal(t, "1.20.1", cfg.Fleet.Version)
	assert.Equal(t, "rabbit0009", cfg.Fleet.Operator)
	assert.Equal(t, 30*time.Second, cfg.Fleet.ReconnectDelay)
	assert.Equal(t, time.Second, cfg.Fleet.HandshakeDelay)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 1000, cfg.Store.LogRetention)
	assert.True(t, cfg.Interpreter.Enabled)
	assert.Empty(t, cfg.Interpreter.APIKey)
}

func TestLoadFromFile_FileBeatsEnvAndSecretsFromSource(t *testing.T) {
	clearEnv(t)
	t.Setenv("MC_HOST", "env-host")
	t.Setenv("MC_PORT", "1234")

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fleet:
  host: file-host
  reconnect_delay_seconds: 5
store:
  driver: SQLite
  path: /tmp/x.db
interpreter:
  enabled: false
log:
  json: true
`), 0o644))

	cfg, err := LoadFromFile(path, mapSecrets{"BOT_PASSWORD": "pw", "INTERPRETER_API_KEY": "sk"})
	require.NoError(t, err)
	assert.Equal(t, "file-host", cfg.Fleet.Host, "配置文件优先于环境变量")
	assert.Equal(t, 1234, cfg.Fleet.Port, "文件未设置时使用环境变量")
	assert.Equal(t, 5*time.Second, cfg.Fleet.ReconnectDelay)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Interpreter.Enabled)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "pw", cfg.Fleet.Password)
	assert.Equal(t, "sk", cfg.Interpreter.APIKey)
}

func TestLoadFromFile_JSONAndBadExtension(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "fleet.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"fleet":{"port":25570}}`), 0o644))
	cfg, err := LoadFromFile(jsonPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 25570, cfg.Fleet.Port)

	txtPath := filepath.Join(dir, "fleet.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = LoadFromFile(txtPath, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Fleet.Port = 70000 }},
		{"empty host", func(c *Config) { c.Fleet.Host = " " }},
		{"zero reconnect", func(c *Config) { c.Fleet.ReconnectDelay = 0 }},
		{"zero handshake delay", func(c *Config) { c.Fleet.HandshakeDelay = 0 }},
		{"negative rate", func(c *Config) { c.Fleet.ConnectRate = -1 }},
		{"rate without burst", func(c *Config) { c.Fleet.ConnectRate = 2; c.Fleet.ConnectBurst = 0 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.Path = "" }},
		{"zero retention", func(c *Config) { c.Store.LogRetention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
