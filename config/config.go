// Package config loads studio settings from an optional file and STUDIO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config/config.json"

// Backend modes.
const (
	ModeHTTP   = "http"
	ModeDirect = "direct"
	ModeMock   = "mock"
)

// Config holds everything the client needs.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	Export  ExportConfig  `mapstructure:"export"`
	PDF     PDFConfig     `mapstructure:"pdf"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Backend BackendConfig `mapstructure:"backend"`
	Server  ServerConfig  `mapstructure:"server"`
}

// APIConfig points at the generation backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig configures the local identity provider.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HistoryConfig selects the history cache backend. An empty RedisURL keeps it in memory.
type HistoryConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// ExportConfig controls where artifacts land and how file names are built.
type ExportConfig struct {
	Dir      string `mapstructure:"dir"`
	TitleMax int    `mapstructure:"title_max"`
}

// PDFConfig controls the headless browser used for PDF output.
type PDFConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	ExecPath string        `mapstructure:"exec_path"`
}

// LLMConfig is used by the direct backend mode.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// BackendConfig picks how generation requests are served.
type BackendConfig struct {
	Mode string `mapstructure:"mode"`
}

// ServerConfig configures the local backend stand-in.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateLimitEvery time.Duration `mapstructure:"rate_limit_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://127.0.0.1:8000")
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("auth.secret", "development-secret-change-in-production")
	v.SetDefault("auth.issuer", "studio-local")
	v.SetDefault("auth.token_ttl", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("history.redis_url", "")
	v.SetDefault("history.redis_prefix", "studio")
	v.SetDefault("history.cache_ttl", 24*time.Hour)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.title_max", 50)
	v.SetDefault("pdf.timeout", 30*time.Second)
	v.SetDefault("pdf.exec_path", "")
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("backend.mode", ModeHTTP)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_limit_window", time.Minute)
}

// Load reads the config file at path (a missing file is fine) and applies
// STUDIO_* environment overrides, e.g. STUDIO_API_BASE_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.Backend.Mode = strings.ToLower(strings.TrimSpace(c.Backend.Mode))
	if c.Export.TitleMax <= 0 {
		c.Export.TitleMax = 50
	}
}

// Validate rejects settings the client cannot start with.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be > 0")
	}
	switch c.Backend.Mode {
	case ModeHTTP, ModeMock:
	case ModeDirect:
		if c.LLM.Model == "" || c.LLM.APIKey == "" {
			return errors.New("backend.mode direct requires llm.model and llm.api_key")
		}
	default:
		return fmt.Errorf("backend.mode %q not supported", c.Backend.Mode)
	}
	return nil
}
