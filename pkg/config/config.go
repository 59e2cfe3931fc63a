// Package config loads server configuration from an optional YAML file
// with environment variable overrides. Environment always wins: container
// deployments set everything through the environment, the file exists for
// local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Config is the server configuration.
type Config struct {
	// Host and Port form the listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BaseURL overrides the upstream endpoint.
	BaseURL string `yaml:"base_url"`

	// VoiceOverrides remaps the OpenAI voice names to upstream persona
	// ids, positionally.
	VoiceOverrides []string `yaml:"voice_overrides"`

	// DeviceCacheDir is the directory of the persistent device-identity
	// store. Empty keeps the cache in memory only.
	DeviceCacheDir string `yaml:"device_cache_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:     "0.0.0.0",
		Port:     8000,
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("HAILUO_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("REPLACE_AUDIO_MODEL"); v != "" {
		c.VoiceOverrides = splitList(v)
	}
	if v := os.Getenv("DEVICE_CACHE_DIR"); v != "" {
		c.DeviceCacheDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps the configured level name to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
