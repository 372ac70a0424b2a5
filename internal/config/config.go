// Package config resolves client settings from defaults, an optional TOML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"receipt-agent/internal/domain"
	"receipt-agent/internal/integrations/mnx"
)

const (
	DefaultModel = "gpt-4.1-mini"
	dirName      = ".receipt-agent"
	fileName     = "config.toml"
)

type Config struct {
	BaseURL      string  `toml:"base_url"`
	Model        string  `toml:"model"`
	APIKey       string  `toml:"api_key"`
	SecondaryKey string  `toml:"secondary_key"`
	SubjectID    string  `toml:"subject_id"`
	ParamPrefix  string  `toml:"param_prefix"`
	CaptureTable string  `toml:"capture_table"`
	RateLimit    float64 `toml:"rate_limit"`
	RateBurst    int     `toml:"rate_burst"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		BaseURL:   mnx.DefaultBaseURL,
		Model:     DefaultModel,
		RateBurst: 1,
	}
}

// DefaultPath returns ~/.receipt-agent/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// Load builds the configuration. An empty path means DefaultPath; a missing
// file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	if err := cfg.readFile(path); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"MNX_BASE_URL", &c.BaseURL},
		{"MNX_MODEL", &c.Model},
		{"MNX_API_KEY", &c.APIKey},
		{"MNX_SECONDARY_KEY", &c.SecondaryKey},
		{"MNX_SUBJECT_ID", &c.SubjectID},
		{"PARAM_PREFIX", &c.ParamPrefix},
		{"CAPTURE_TABLE", &c.CaptureTable},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && strings.TrimSpace(v) != "" {
			*s.dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("MNX_RATE_LIMIT"); ok && strings.TrimSpace(v) != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || rps < 0 {
			return fmt.Errorf("config: MNX_RATE_LIMIT must be a non-negative number, got %q", v)
		}
		c.RateLimit = rps
	}
	return nil
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = mnx.DefaultBaseURL
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}
}

// Credentials returns the keys configured directly, which may be empty.
func (c Config) Credentials() domain.Credentials {
	return domain.Credentials{APIKey: c.APIKey, SecondaryKey: c.SecondaryKey}
}

// UseParamStore reports whether keys must be fetched from Parameter Store.
func (c Config) UseParamStore() bool {
	return c.ParamPrefix != "" && strings.TrimSpace(c.APIKey) == ""
}

// ClientOptions translates the settings into service client options.
func (c Config) ClientOptions() []mnx.Option {
	opts := []mnx.Option{mnx.WithBaseURL(c.BaseURL)}
	if c.RateLimit > 0 {
		opts = append(opts, mnx.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return opts
}
