// Package config loads scenekeeper settings from a YAML file, a .env file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when --config is not given.
const DefaultPath = "scenekeeper.yaml"

// Defaults.
const (
	DefaultScenesFolder   = "Scenes"
	DefaultSchedule       = "*/5 * * * *"
	DefaultSettleDelay    = 2 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultRateLimit      = 5.0
	DefaultRateBurst      = 5
	DefaultLogLevel       = "info"
	DefaultDatabase       = ".scenekeeper/journal.db"
)

// Environment variables that override the file.
const (
	EnvToken  = "SCENEKEEPER_TOKEN"
	EnvAPIURL = "SCENEKEEPER_API_URL"
	EnvVault  = "SCENEKEEPER_VAULT"
)

// Config is the effective configuration.
type Config struct {
	APIURL         string        `yaml:"api_url"`
	Token          string        `yaml:"token"`
	Vault          string        `yaml:"vault"`
	ScenesFolder   string        `yaml:"scenes_folder"`
	Identities     []string      `yaml:"identities"`
	Schedule       string        `yaml:"schedule"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	Database       string        `yaml:"database"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`

	// Path is the file the config was read from; empty when none existed.
	Path string `yaml:"-"`
}

// Load reads the config file at path (a missing file is not an error and
// yields defaults), loads a .env file from the working directory and from
// the config file's directory, applies environment overrides, fills in
// defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config file not found; using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Path = path
	}

	loadDotEnv(path)
	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env files without overriding variables already set.
// Missing files are ignored.
func loadDotEnv(configPath string) {
	_ = godotenv.Load(".env")
	if dir := filepath.Dir(configPath); dir != "." && dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvToken); ok {
		c.Token = v
	}
	if v, ok := os.LookupEnv(EnvAPIURL); ok {
		c.APIURL = v
	}
	if v, ok := os.LookupEnv(EnvVault); ok {
		c.Vault = v
	}
}

// applyDefaults fills unset fields. A relative vault is resolved against
// the config file's directory; a relative database against the vault.
func (c *Config) applyDefaults(configDir string) {
	c.Token = strings.TrimSpace(c.Token)
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")

	if c.Vault == "" {
		c.Vault = "."
	}
	if !filepath.IsAbs(c.Vault) && c.Path != "" {
		c.Vault = filepath.Join(configDir, c.Vault)
	}
	if c.ScenesFolder == "" {
		c.ScenesFolder = DefaultScenesFolder
	}
	c.ScenesFolder = strings.Trim(filepath.ToSlash(c.ScenesFolder), "/")
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Database != ":memory:" && !filepath.IsAbs(c.Database) {
		c.Database = filepath.Join(c.Vault, c.Database)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
}

// ErrNoAPIURL is returned by RequireAPIURL when api_url is unset.
var ErrNoAPIURL = errors.New("api_url is not set (config file or " + EnvAPIURL + ")")

// RequireAPIURL fails when no bot API URL is configured. Only commands that
// contact the bot need one.
func (c *Config) RequireAPIURL() error {
	if c.APIURL == "" {
		return ErrNoAPIURL
	}
	return nil
}

// HasCredential reports whether a token is configured. Without one every
// pass is quiescent.
func (c *Config) HasCredential() bool {
	return c.Token != ""
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Redacted returns a copy safe to print: the token is masked.
func (c Config) Redacted() Config {
	if len(c.Token) > 4 {
		c.Token = strings.Repeat("*", 8) + c.Token[len(c.Token)-4:]
	} else if c.Token != "" {
		c.Token = strings.Repeat("*", 8)
	}
	return c
}
