package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Audit    AuditConfig    `toml:"audit"`
	LLM      LLMConfig      `toml:"llm"`
	Sources  SourcesConfig  `toml:"sources"`
	Safety   SafetyConfig   `toml:"safety"`
	Instance InstanceConfig `toml:"instance"`
}

// SafetyConfig controls harmful-content screening of questions and answers.
type SafetyConfig struct {
	Enabled bool `toml:"enabled"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string `toml:"jwt_secret"`
	TokenExpiryMin int    `toml:"token_expiry_min"`
}

// AuditConfig controls the local audit trail and its sinks. Retention is
// informational: long-term enforcement happens in the archive storage layer,
// not in-process.
type AuditConfig struct {
	Enabled        bool         `toml:"enabled"`
	LogDir         string       `toml:"log_dir"`
	ArchiveDir     string       `toml:"archive_dir"`
	MaxSegmentMB   int          `toml:"max_segment_mb"`
	RetainRaw      bool         `toml:"retain_raw"`
	RetentionYears int          `toml:"retention_years"`
	Sinks          []SinkConfig `toml:"sinks"`
}

// SinkConfig describes one external log collector. Delivery is best-effort.
type SinkConfig struct {
	Name        string  `toml:"name"`
	URL         string  `toml:"url"`
	Token       string  `toml:"token"`
	MaxAttempts int     `toml:"max_attempts"`
	RatePerSec  float64 `toml:"rate_per_sec"`
}

type LLMConfig struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url"`
	Model           string `toml:"model"`
}

// SourcesConfig controls which assessment data sources the router may use and
// where the aggregated scores export lives.
type SourcesConfig struct {
	Disabled []string `toml:"disabled"`
	CSVPath  string   `toml:"csv_path"`
}

type InstanceConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/relations.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Audit: AuditConfig{
			Enabled:        true,
			LogDir:         "data/audit",
			ArchiveDir:     "data/audit/archive",
			MaxSegmentMB:   32,
			RetainRaw:      false,
			RetentionYears: 7,
		},
		LLM: LLMConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Sources: SourcesConfig{
			CSVPath: "data/scores_export.csv",
		},
		Safety: SafetyConfig{
			Enabled: true,
		},
		Instance: InstanceConfig{
			ID:   "local",
			Name: "classgate-local",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// MaxSegmentBytes returns the rotation threshold in bytes.
func (c AuditConfig) MaxSegmentBytes() int64 {
	mb := c.MaxSegmentMB
	if mb <= 0 {
		mb = 32
	}
	return int64(mb) * 1024 * 1024
}
