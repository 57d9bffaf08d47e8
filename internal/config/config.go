// Package config loads service configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	LLM     LLMConfig     `yaml:"llm"`
	Crawler CrawlerConfig `yaml:"crawler"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address (default: :3003)
	Addr string `yaml:"addr"`
}

// DataConfig locates the data directory and names the self product.
type DataConfig struct {
	// Dir is the data root holding info/, storage/ and logs/
	Dir string `yaml:"dir"`
	// SelfProduct is the product treated as "us" in summaries and the
	// paste-changelog flow (e.g. "youware")
	SelfProduct string `yaml:"self_product"`
}

// LLMConfig configures the tagging/summary model.
type LLMConfig struct {
	// Model is the model identifier sent to the messages API
	Model string `yaml:"model"`
	// BaseURL is the API base (default: https://api.anthropic.com)
	BaseURL string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env"`
	// Timeout is the per-request timeout
	Timeout time.Duration `yaml:"timeout"`
}

// CrawlerConfig bounds crawl and tagging runs.
type CrawlerConfig struct {
	// ProductTimeout bounds one product's crawl
	ProductTimeout time.Duration `yaml:"product_timeout"`
	// TagTimeout bounds one product's tagging pass
	TagTimeout time.Duration `yaml:"tag_timeout"`
	// Render enables headless-browser fetching for JS-rendered pages
	Render bool `yaml:"render"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":3003"},
		Data:   DataConfig{Dir: "data", SelfProduct: "youware"},
		LLM: LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			BaseURL:   "https://api.anthropic.com",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   60 * time.Second,
		},
		Crawler: CrawlerConfig{
			ProductTimeout: 3 * time.Minute,
			TagTimeout:     10 * time.Minute,
			Render:         true,
		},
	}
}

// Load reads the config file at path, overlaying defaults. A missing file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// APIKey resolves the LLM API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}
