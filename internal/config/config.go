// Package config loads service configuration from config.yaml and environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file loaded when no explicit path is given.
const DefaultPath = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Reasoning ReasoningConfig `koanf:"reasoning"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Recording RecordingConfig `koanf:"recording"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout bounds non-streaming requests, duration string like "30s".
	// Run streams are exempt; a run lasts as long as its stages do.
	RequestTimeout string `koanf:"request_timeout"`
	// RunRateLimit is the per-minute cap on run-stream requests per client key
	// (0 disables limiting).
	RunRateLimit int `koanf:"run_rate_limit"`
}

// ReasoningConfig configures the external reasoning service the stage
// executor calls.
type ReasoningConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	// StageModels overrides the model per stage id. Reloaded at runtime when
	// the config file changes; all other fields require a restart.
	StageModels map[string]string `koanf:"stage_models"`
	MaxTokens   int               `koanf:"max_tokens"`
	// CallTimeout bounds one reasoning call, duration string like "120s".
	CallTimeout string `koanf:"call_timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

type AuthConfig struct {
	Enabled bool           `koanf:"enabled"`
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	Description string `koanf:"description"`
}

// RecordingConfig gates the reasoning-call audit recorder.
type RecordingConfig struct {
	Enabled bool `koanf:"enabled"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads DefaultPath (if present) and INSIGHT_* environment overrides.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile reads the given config file (if present) and environment overrides.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("INSIGHT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INSIGHT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("server.request_timeout") {
		k.Set("server.request_timeout", "30s")
	}
	if !k.Exists("reasoning.model") {
		k.Set("reasoning.model", "gpt-4o")
	}
	if !k.Exists("reasoning.max_tokens") {
		k.Set("reasoning.max_tokens", 4096)
	}
	if !k.Exists("reasoning.call_timeout") {
		k.Set("reasoning.call_timeout", "120s")
	}
	if !k.Exists("storage.driver") {
		k.Set("storage.driver", "sqlite")
	}
	if !k.Exists("storage.dsn") {
		k.Set("storage.dsn", "insight.db")
	}
	if !k.Exists("logging.level") {
		k.Set("logging.level", "info")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute environment variables in the reasoning API key
	cfg.Reasoning.APIKey = substituteEnvVars(cfg.Reasoning.APIKey)

	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Reasoning.BaseURL == "" && c.Reasoning.APIKey == "" {
		return fmt.Errorf("reasoning.api_key is required (or set reasoning.base_url to a keyless endpoint)")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// Addr returns the listen address for the server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Timeout returns the parsed request timeout, defaulting to 30s.
func (s ServerConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Timeout returns the parsed per-call timeout, defaulting to 120s.
func (r ReasoningConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(r.CallTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// ModelFor returns the model for a stage, honoring per-stage overrides.
func (r ReasoningConfig) ModelFor(stageID string) string {
	if m, ok := r.StageModels[stageID]; ok && m != "" {
		return m
	}
	return r.Model
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
