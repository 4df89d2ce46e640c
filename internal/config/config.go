// Package config loads server and client settings from an optional YAML
// file, a .env file, and environment variable overrides, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the settings for both the server and the CLI client.
type Config struct {
	// Server
	Port    string `yaml:"port"`
	APIKey  string `yaml:"api_key"`
	Runtime string `yaml:"runtime"`

	// Sandbox shaping
	RuntimeTag          string            `yaml:"runtime_tag"`
	VCPUs               int               `yaml:"vcpus"`
	MinAliveMinutes     int               `yaml:"min_alive_minutes"`
	MaxAliveMinutes     int               `yaml:"max_alive_minutes"`
	DefaultAliveMinutes int               `yaml:"default_alive_minutes"`
	Images              map[string]string `yaml:"images"`

	// Client
	ServerURL string `yaml:"server_url"`
	StateDir  string `yaml:"state_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	stateDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".cloudcode")
	}
	return &Config{
		Port:                "8080",
		Runtime:             "docker",
		RuntimeTag:          "node22",
		VCPUs:               2,
		MinAliveMinutes:     1,
		MaxAliveMinutes:     45,
		DefaultAliveMinutes: 10,
		ServerURL:           "http://localhost:8080",
		StateDir:            stateDir,
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment overrides. A .env file in the working directory is loaded
// first, best-effort.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setStr(&cfg.Port, "PORT")
	setStr(&cfg.APIKey, "CLOUDCODE_API_KEY")
	setStr(&cfg.Runtime, "CLOUDCODE_RUNTIME")
	setStr(&cfg.RuntimeTag, "CLOUDCODE_RUNTIME_TAG")
	setStr(&cfg.ServerURL, "CLOUDCODE_SERVER_URL")
	setStr(&cfg.StateDir, "CLOUDCODE_STATE_DIR")
	setInt(&cfg.VCPUs, "CLOUDCODE_VCPUS")
	setInt(&cfg.MaxAliveMinutes, "CLOUDCODE_MAX_ALIVE_MINUTES")
	setInt(&cfg.DefaultAliveMinutes, "CLOUDCODE_DEFAULT_ALIVE_MINUTES")
}

// RuntimeConfig shapes the provider-specific config map passed to the
// runtime factory.
func (c *Config) RuntimeConfig() map[string]any {
	cfg := make(map[string]any, len(c.Images))
	for tag, img := range c.Images {
		cfg["image."+tag] = img
	}
	return cfg
}
