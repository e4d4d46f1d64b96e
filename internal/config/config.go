// Package config loads runtime settings from an optional YAML file and CBB_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"cognitive-blackbox/internal/domain"
)

const (
	envPrefix   = "CBB_"
	defaultFile = "config.yaml"

	// ProviderNone routes a role straight to the fallback synthesizer.
	ProviderNone = "none"
)

var knownProviders = map[string]bool{
	"gemini":     true,
	"openai":     true,
	"anthropic":  true,
	ProviderNone: true,
}

type Config struct {
	CasesDir     string `koanf:"cases_dir"`
	PromptsDir   string `koanf:"prompts_dir"`
	SessionTable string `koanf:"session_table"`
	ParamPrefix  string `koanf:"param_prefix"`
	LogLevel     string `koanf:"log_level"`

	Generation GenerationConfig `koanf:"generation"`
	Cache      CacheConfig      `koanf:"cache"`
	Session    SessionConfig    `koanf:"session"`
	Errors     ErrorsConfig     `koanf:"errors"`
	Providers  ProvidersConfig  `koanf:"providers"`
}

type GenerationConfig struct {
	Timeout           time.Duration `koanf:"timeout"`
	MaxTokens         int           `koanf:"max_tokens"`
	Temperature       float64       `koanf:"temperature"`
	MinResponseLength int           `koanf:"min_response_length"`
	InputPrefix       int           `koanf:"input_prefix"`
}

type CacheConfig struct {
	TTL  time.Duration `koanf:"ttl"`
	Size int           `koanf:"size"`
}

type SessionConfig struct {
	MaxBackups int `koanf:"max_backups"`
	MaxErrors  int `koanf:"max_errors"`
}

type ErrorsConfig struct {
	HistorySize int `koanf:"history_size"`
}

type ProviderConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type ProvidersConfig struct {
	// Roles maps a role id to a provider name. Roles left out use the fallback.
	Roles      map[string]string `koanf:"roles"`
	Moderation bool              `koanf:"moderation"`
	Gemini     ProviderConfig    `koanf:"gemini"`
	OpenAI     ProviderConfig    `koanf:"openai"`
	Anthropic  ProviderConfig    `koanf:"anthropic"`
}

var defaults = map[string]any{
	"cases_dir":                      "config/cases",
	"prompts_dir":                    "config/prompts",
	"param_prefix":                   "/cognitive-blackbox",
	"log_level":                      "info",
	"generation.timeout":             "8s",
	"generation.max_tokens":          2048,
	"generation.temperature":         0.7,
	"generation.min_response_length": 100,
	"generation.input_prefix":        50,
	"cache.ttl":                      "1h",
	"cache.size":                     512,
	"session.max_backups":            5,
	"session.max_errors":             20,
	"errors.history_size":            100,
	"providers.roles.investor":       "gemini",
	"providers.roles.assistant":      "gemini",
}

// Load layers defaults, then the YAML file at path, then CBB_ environment
// variables. An empty path means config.yaml; a missing file is not an error.
// Nested keys use a double underscore: CBB_CACHE__TTL sets cache.ttl.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", key, err)
		}
	}

	if path == "" {
		path = defaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects non-positive limits and unknown roles or providers.
func (c *Config) Validate() error {
	var problems []string
	if c.Generation.Timeout <= 0 {
		problems = append(problems, "generation.timeout must be positive")
	}
	if c.Generation.MaxTokens <= 0 {
		problems = append(problems, "generation.max_tokens must be positive")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		problems = append(problems, "generation.temperature must be within [0, 2]")
	}
	if c.Generation.MinResponseLength < 0 {
		problems = append(problems, "generation.min_response_length must not be negative")
	}
	if c.Generation.InputPrefix <= 0 {
		problems = append(problems, "generation.input_prefix must be positive")
	}
	if c.Cache.TTL <= 0 {
		problems = append(problems, "cache.ttl must be positive")
	}
	if c.Cache.Size <= 0 {
		problems = append(problems, "cache.size must be positive")
	}
	if c.Session.MaxBackups <= 0 {
		problems = append(problems, "session.max_backups must be positive")
	}
	if c.Session.MaxErrors <= 0 {
		problems = append(problems, "session.max_errors must be positive")
	}
	if c.Errors.HistorySize <= 0 {
		problems = append(problems, "errors.history_size must be positive")
	}
	if strings.TrimSpace(c.CasesDir) == "" {
		problems = append(problems, "cases_dir must not be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	for role, provider := range c.Providers.Roles {
		if !domain.Role(role).Valid() {
			problems = append(problems, fmt.Sprintf("providers.roles: unknown role %q", role))
		}
		if !knownProviders[strings.ToLower(provider)] {
			problems = append(problems, fmt.Sprintf("providers.roles.%s: unknown provider %q", role, provider))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ProviderFor returns the provider name configured for role, or ProviderNone.
func (c *Config) ProviderFor(role domain.Role) string {
	name := strings.ToLower(strings.TrimSpace(c.Providers.Roles[string(role)]))
	if name == "" {
		return ProviderNone
	}
	return name
}

// SlogLevel returns the configured log level; Validate guarantees it parses.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
