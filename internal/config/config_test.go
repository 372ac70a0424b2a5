package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"receipt-agent/internal/integrations/mnx"
)

var envKeys = []string{
	"MNX_BASE_URL", "MNX_MODEL", "MNX_API_KEY", "MNX_SECONDARY_KEY",
	"MNX_SUBJECT_ID", "PARAM_PREFIX", "CAPTURE_TABLE", "MNX_RATE_LIMIT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, mnx.DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, DefaultModel, cfg.Model)
	require.Empty(t, cfg.APIKey)
	require.Equal(t, 1, cfg.RateBurst)
	require.False(t, cfg.Credentials().Usable())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
base_url = "https://staging.example.com/"
model = "gpt-4.1"
api_key = "file-key"
subject_id = "user-1"
rate_limit = 2.5
rate_burst = 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://staging.example.com", cfg.BaseURL)
	require.Equal(t, "gpt-4.1", cfg.Model)
	require.Equal(t, "file-key", cfg.Credentials().APIKey)
	require.Equal(t, "user-1", cfg.SubjectID)
	require.InDelta(t, 2.5, cfg.RateLimit, 1e-9)
	require.Equal(t, 4, cfg.RateBurst)
	require.Len(t, cfg.ClientOptions(), 2)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `api_key = "file-key"
model = "gpt-4.1"`)
	t.Setenv("MNX_API_KEY", " env-key ")
	t.Setenv("MNX_SECONDARY_KEY", "provider")
	t.Setenv("CAPTURE_TABLE", "captures")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.APIKey)
	require.Equal(t, "provider", cfg.SecondaryKey)
	require.Equal(t, "gpt-4.1", cfg.Model, "unset env keeps the file value")
	require.Equal(t, "captures", cfg.CaptureTable)
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "api_key = "))
	require.Error(t, err)
	require.Contains(t, err.Error(), "config: parse")
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("MNX_RATE_LIMIT", "fast")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "MNX_RATE_LIMIT")
}

func TestUseParamStore(t *testing.T) {
	require.False(t, Config{}.UseParamStore())
	require.True(t, Config{ParamPrefix: "/receipt-agent"}.UseParamStore())
	require.False(t, Config{ParamPrefix: "/receipt-agent", APIKey: "k"}.UseParamStore())
}
