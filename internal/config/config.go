// Package config loads itchgrab configuration from an optional YAML
// file and environment variables, and wires up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values. Precedence, lowest first:
// built-in defaults, config file, environment variables. Command-line
// flags override all of these.
type Config struct {
	// itch.io API
	APIKey string
	APIURL string

	// Proactive delay before uploads-listing and download requests.
	Pacing time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	APIKey   string `yaml:"api_key"`
	APIURL   string `yaml:"api_url"`
	Pacing   string `yaml:"pacing"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from the config file (if present) and the
// environment. A missing file is fine; a malformed one is an error so
// typos don't silently fall back to defaults.
func Load() (Config, error) {
	cfg := Config{
		APIURL:   "https://api.itch.io",
		LogFile:  filepath.Join(os.TempDir(), "itchgrab.log"),
		LogLevel: slog.LevelInfo,
	}

	if err := cfg.applyFile(configPath()); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// configPath returns $ITCHGRAB_CONFIG when set, else the default
// location under the user's config directory.
func configPath() string {
	if p := os.Getenv("ITCHGRAB_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "itchgrab", "config.yaml")
}

func (c *Config) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.APIKey != "" {
		c.APIKey = fc.APIKey
	}
	if fc.APIURL != "" {
		c.APIURL = fc.APIURL
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.Pacing != "" {
		d, err := time.ParseDuration(fc.Pacing)
		if err != nil {
			return fmt.Errorf("parse config file %s: pacing: %w", path, err)
		}
		c.Pacing = d
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ITCH_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("ITCHGRAB_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("ITCHGRAB_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("ITCHGRAB_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv("ITCHGRAB_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Pacing = d
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
