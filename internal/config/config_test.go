package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cognitive-blackbox/internal/domain"
)

func missingFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	require.Equal(t, 8*time.Second, cfg.Generation.Timeout)
	require.Equal(t, 2048, cfg.Generation.MaxTokens)
	require.InDelta(t, 0.7, cfg.Generation.Temperature, 1e-9)
	require.Equal(t, 100, cfg.Generation.MinResponseLength)
	require.Equal(t, 50, cfg.Generation.InputPrefix)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
	require.Equal(t, 512, cfg.Cache.Size)
	require.Equal(t, 5, cfg.Session.MaxBackups)
	require.Equal(t, 20, cfg.Session.MaxErrors)
	require.Equal(t, 100, cfg.Errors.HistorySize)
	require.Equal(t, "config/cases", cfg.CasesDir)
	require.Equal(t, "gemini", cfg.ProviderFor(domain.RoleInvestor))
	require.Equal(t, "gemini", cfg.ProviderFor(domain.RoleAssistant))
	require.Equal(t, ProviderNone, cfg.ProviderFor(domain.RoleHost))
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
cases_dir: /srv/cases
session_table: cbb-sessions
log_level: debug
generation:
  timeout: 3s
  max_tokens: 512
cache:
  size: 16
providers:
  roles:
    mentor: anthropic
  anthropic:
    model: claude-test
`)
	t.Setenv("CBB_GENERATION__MAX_TOKENS", "1024")
	t.Setenv("CBB_PROVIDERS__ROLES__INVESTOR", "openai")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/srv/cases", cfg.CasesDir)
	require.Equal(t, "cbb-sessions", cfg.SessionTable)
	require.Equal(t, 3*time.Second, cfg.Generation.Timeout)
	require.Equal(t, 1024, cfg.Generation.MaxTokens, "env overrides the file")
	require.Equal(t, 16, cfg.Cache.Size)
	require.Equal(t, time.Hour, cfg.Cache.TTL, "unset keys keep defaults")
	require.Equal(t, "claude-test", cfg.Providers.Anthropic.Model)
	require.Equal(t, "anthropic", cfg.ProviderFor(domain.RoleMentor))
	require.Equal(t, "openai", cfg.ProviderFor(domain.RoleInvestor))
	require.Equal(t, "gemini", cfg.ProviderFor(domain.RoleAssistant))
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, "generation: [unclosed")
	_, err := Load(path)
	require.ErrorContains(t, err, "config: load")
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "zero timeout", key: "CBB_GENERATION__TIMEOUT", value: "0s", want: "generation.timeout"},
		{name: "negative cache size", key: "CBB_CACHE__SIZE", value: "-1", want: "cache.size"},
		{name: "unknown provider", key: "CBB_PROVIDERS__ROLES__HOST", value: "llama", want: "unknown provider"},
		{name: "unknown role", key: "CBB_PROVIDERS__ROLES__CRITIC", value: "openai", want: "unknown role"},
		{name: "bad log level", key: "CBB_LOG_LEVEL", value: "loud", want: "log_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load(missingFile(t))
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestProviderFor_NoneDisablesRole(t *testing.T) {
	t.Setenv("CBB_PROVIDERS__ROLES__ASSISTANT", "none")
	cfg, err := Load(missingFile(t))
	require.NoError(t, err)
	require.Equal(t, ProviderNone, cfg.ProviderFor(domain.RoleAssistant))
}
