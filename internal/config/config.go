// Package config loads CLI and server settings from a YAML or JSON file
// and PERGOLA_* environment variables.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config is the root configuration.
// Tools is the path of the allow-list of external commands for the exec handler.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	MaxSteps   int              `mapstructure:"max_steps"`
	Tools      string           `mapstructure:"tools"`
}

// StoreConfig selects and configures the checkpoint store.
// MaskFields are regular expressions; matching state keys are masked before persisting.
type StoreConfig struct {
	Driver     string       `mapstructure:"driver"`
	Path       string       `mapstructure:"path"`
	Redis      RedisConfig  `mapstructure:"redis"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
	MaskFields []string     `mapstructure:"mask_fields"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SQLiteConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EncryptionConfig enables at-rest encryption of checkpoint state.
// Keys are hex encoded 32-byte AES keys.
type EncryptionConfig struct {
	Key          string   `mapstructure:"key"`
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   filepath.Join(".pergola", "runs"),
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "pergola:",
			},
			SQLite: SQLiteConfig{DSN: "pergola.db"},
		},
		HTTP:      HTTPConfig{Addr: ":8080"},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"PERGOLA_STORE_DRIVER":    "store.driver",
	"PERGOLA_STORE_PATH":      "store.path",
	"PERGOLA_REDIS_ADDR":      "store.redis.addr",
	"PERGOLA_REDIS_PASSWORD":  "store.redis.password",
	"PERGOLA_REDIS_DB":        "store.redis.db",
	"PERGOLA_REDIS_PREFIX":    "store.redis.prefix",
	"PERGOLA_REDIS_TTL":       "store.redis.ttl",
	"PERGOLA_SQLITE_DSN":      "store.sqlite.dsn",
	"PERGOLA_MASK_FIELDS":     "store.mask_fields",
	"PERGOLA_ENCRYPTION_KEY":  "encryption.key",
	"PERGOLA_ENCRYPTION_KEYS": "encryption.fallback_keys",
	"PERGOLA_HTTP_ADDR":       "http.addr",
	"PERGOLA_LOG_LEVEL":       "log_level",
	"PERGOLA_LOG_FORMAT":      "log_format",
	"PERGOLA_MAX_STEPS":       "max_steps",
	"PERGOLA_TOOLS":           "tools",
}

// Load reads path (YAML unless it ends in .json) over the defaults, then
// applies environment overrides. A missing file or empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			raw, err := parse(data, filepath.Ext(path))
			if err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := decode(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	if err := decode(fromEnv(os.LookupEnv), &cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func parse(data []byte, ext string) (map[string]any, error) {
	var raw map[string]any
	if strings.EqualFold(ext, ".json") {
		err := json.Unmarshal(data, &raw)
		return raw, err
	}
	err := yaml.Unmarshal(data, &raw)
	return raw, err
}

func decode(raw map[string]any, cfg *Config) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// fromEnv nests the set PERGOLA_* variables under their dotted keys.
func fromEnv(lookup func(string) (string, bool)) map[string]any {
	out := map[string]any{}
	for env, key := range envKeys {
		val, ok := lookup(env)
		if !ok {
			continue
		}
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = val
	}
	return out
}

// Validate checks the driver name, mask patterns and encryption keys.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverRedis, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q (want memory, file, redis or sqlite)", c.Store.Driver)
	}
	for _, p := range c.Store.MaskFields {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("mask_fields: %w", err)
		}
	}
	if _, _, err := c.Encryption.Keys(); err != nil {
		return err
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	return nil
}

// Enabled reports whether a key is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.Key != ""
}

// Keys decodes the active and fallback keys.
func (e EncryptionConfig) Keys() ([]byte, [][]byte, error) {
	if e.Key == "" {
		if len(e.FallbackKeys) > 0 {
			return nil, nil, errors.New("encryption: fallback keys require an active key")
		}
		return nil, nil, nil
	}
	active, err := decodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	fallback := make([][]byte, 0, len(e.FallbackKeys))
	for i, k := range e.FallbackKeys {
		b, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption fallback key %d: %w", i, err)
		}
		fallback = append(fallback, b)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("must be hex encoded: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("must be 32 bytes, got %d", len(b))
	}
	return b, nil
}
