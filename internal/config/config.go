package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"safepost/internal/llm"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for the configuration file
const DefaultPath = "configs/config.yml"

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
		Mode string `yaml:"mode"` // gin mode: debug, release or test
	} `yaml:"server"`

	Database struct {
		Type string `yaml:"type"` // "csv" or "sqlite"
		Path string `yaml:"path"`
	} `yaml:"database"`

	// Providers are tried in order; the first is preferred
	Providers               []llm.ProviderConfig `yaml:"providers"`
	MaxFailuresBeforeSwitch int                  `yaml:"max_failures_before_switch"`

	CaptionCache struct {
		Enabled bool          `yaml:"enabled"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"caption_cache"`

	Query struct {
		DefaultPageSize int `yaml:"default_page_size"`
		MaxPageSize     int `yaml:"max_page_size"`
		SuggestionLimit int `yaml:"suggestion_limit"`
	} `yaml:"query"`

	Analytics struct {
		TopKeywords int `yaml:"top_keywords"`
	} `yaml:"analytics"`

	Uploads struct {
		Dir      string `yaml:"dir"`
		MaxBytes int64  `yaml:"max_bytes"`
	} `yaml:"uploads"`

	Logging struct {
		Format string `yaml:"format"` // "json" or "console"
		Level  string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults;
// found reports whether the file existed.
func LoadConfig(configPath string) (cfg *Config, found bool, err error) {
	cfg = &Config{}

	file, err := os.Open(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg.applyDefaults()
		return cfg, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, true, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.applyDefaults()

	// Expand environment variables in provider secrets and endpoints
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, true, err
	}

	return cfg, true, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}

	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}

	if c.Database.Type == "" {
		c.Database.Type = "csv"
	}

	if c.Database.Path == "" {
		if c.Database.Type == "sqlite" {
			c.Database.Path = "./data/results.db"
		} else {
			c.Database.Path = "./data/results.csv"
		}
	}

	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}

	if c.CaptionCache.TTL == 0 {
		c.CaptionCache.TTL = time.Hour
	}

	if c.Query.DefaultPageSize == 0 {
		c.Query.DefaultPageSize = 10
	}

	if c.Query.MaxPageSize == 0 {
		c.Query.MaxPageSize = 50
	}

	if c.Query.SuggestionLimit == 0 {
		c.Query.SuggestionLimit = 10
	}

	if c.Analytics.TopKeywords == 0 {
		c.Analytics.TopKeywords = 50
	}

	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = 10 << 20
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}

	if c.Query.DefaultPageSize < 1 || c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d", c.Query.DefaultPageSize, c.Query.MaxPageSize)
	}

	for i, p := range c.Providers {
		switch p.Type {
		case llm.ProviderGemini, llm.ProviderMLService:
		default:
			return fmt.Errorf("provider %d: unsupported type %q", i, p.Type)
		}
	}

	return nil
}
