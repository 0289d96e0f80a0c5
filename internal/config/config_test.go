package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = strings.Repeat("ab", 32)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverFile, cfg.Store.Driver)
}

func TestLoad_YAML(t *testing.T) {
	path := write(t, "pergola.yaml", `
store:
  driver: redis
  redis:
    addr: redis:6379
    db: 2
    ttl: 90m
encryption:
  key: `+testKey+`
http:
  addr: ":9090"
log_level: debug
max_steps: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 90*time.Minute, cfg.Store.Redis.TTL)
	assert.Equal(t, "pergola:", cfg.Store.Redis.Prefix, "unset keys keep their defaults")
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.MaxSteps)
	assert.True(t, cfg.Encryption.Enabled())
}

func TestLoad_JSON(t *testing.T) {
	path := write(t, "pergola.json", `{"store":{"driver":"sqlite","sqlite":{"dsn":"file:runs.db"}}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "file:runs.db", cfg.Store.SQLite.DSN)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := write(t, "pergola.yaml", "store:\n  driver: file\n  path: /tmp/a\n")
	t.Setenv("PERGOLA_STORE_DRIVER", "memory")
	t.Setenv("PERGOLA_REDIS_DB", "4")
	t.Setenv("PERGOLA_REDIS_TTL", "1h")
	t.Setenv("PERGOLA_MAX_STEPS", "7")
	t.Setenv("PERGOLA_MASK_FIELDS", "password,^card_")
	t.Setenv("PERGOLA_TOOLS", "tools.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "/tmp/a", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Store.Redis.DB)
	assert.Equal(t, time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, 7, cfg.MaxSteps)
	assert.Equal(t, []string{"password", "^card_"}, cfg.Store.MaskFields)
	assert.Equal(t, "tools.yaml", cfg.Tools)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(write(t, "bad.yaml", "store: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(write(t, "typo.yaml", "stor:\n  driver: memory\n"))
	assert.ErrorContains(t, err, "decode config")

	_, err = Load(write(t, "driver.yaml", "store:\n  driver: postgres\n"))
	assert.ErrorContains(t, err, "unknown store driver")

	_, err = Load(write(t, "mask.yaml", "store:\n  mask_fields: [\"(\"]\n"))
	assert.ErrorContains(t, err, "mask_fields")

	_, err = Load(write(t, "key.yaml", "encryption:\n  key: abcd\n"))
	assert.ErrorContains(t, err, "32 bytes")
}

func TestEncryptionKeys(t *testing.T) {
	active, fallback, err := EncryptionConfig{Key: testKey, FallbackKeys: []string{strings.Repeat("cd", 32)}}.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)
	assert.Equal(t, byte(0xcd), fallback[0][0])

	_, _, err = EncryptionConfig{FallbackKeys: []string{testKey}}.Keys()
	assert.Error(t, err)

	_, _, err = EncryptionConfig{Key: "zz"}.Keys()
	assert.ErrorContains(t, err, "hex")
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{"PERGOLA_REDIS_ADDR": "r:1", "PERGOLA_LOG_LEVEL": "warn"}
	got := fromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, map[string]any{
		"store":     map[string]any{"redis": map[string]any{"addr": "r:1"}},
		"log_level": "warn",
	}, got)
}
