package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override config keys,
// e.g. MAILTRIAGE_API_BASE_URL for api.base_url.
const EnvPrefix = "MAILTRIAGE"

// APIConfig holds settings for talking to the mail backend.
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSec        int     `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// Timeout returns the request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// SyncConfig holds the defaults for a sync run.
type SyncConfig struct {
	AccountID                int    `mapstructure:"account_id" yaml:"account_id"`
	Folder                   string `mapstructure:"folder" yaml:"folder"`
	AutoClassify             bool   `mapstructure:"auto_classify" yaml:"auto_classify"`
	KeepProgressOnDisconnect bool   `mapstructure:"keep_progress_on_disconnect" yaml:"keep_progress_on_disconnect"`

	// Interval between background syncs of every active account while the
	// TUI or `sync --watch` runs. Zero disables them.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// RelayConfig configures the development relay that serves the sync
// stream straight from an IMAP mailbox.
type RelayConfig struct {
	Listen           string   `mapstructure:"listen" yaml:"listen"`
	AccountID        int      `mapstructure:"account_id" yaml:"account_id"`
	IMAPHost         string   `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort         int      `mapstructure:"imap_port" yaml:"imap_port"`
	Username         string   `mapstructure:"username" yaml:"username"`
	TLS              bool     `mapstructure:"tls" yaml:"tls"`
	WhitelistDomains []string `mapstructure:"whitelist_domains" yaml:"whitelist_domains"`
	InternalDomain   string   `mapstructure:"internal_domain" yaml:"internal_domain"`
}

// Address returns host:port of the IMAP server.
func (c RelayConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.IMAPHost, c.IMAPPort)
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
}

// ConfigDir returns the directory holding the config file, the history
// database and the TUI log, ~/.config/mailtriage.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailtriage")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtriage/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaults are applied both to a missing file and to missing keys.
var defaults = map[string]any{
	"api.base_url":                     "http://localhost:8000",
	"api.timeout_sec":                  30,
	"api.requests_per_second":          10.0,
	"api.burst":                        5,
	"api.max_retries":                  3,
	"sync.account_id":                  1,
	"sync.folder":                      "INBOX",
	"sync.auto_classify":               false,
	"sync.keep_progress_on_disconnect": false,
	"sync.interval":                    "0s",
	"display.page_size":                50,
	"log.level":                        "info",
	"relay.listen":                     "127.0.0.1:8000",
	"relay.account_id":                 1,
	"relay.imap_host":                  "",
	"relay.imap_port":                  993,
	"relay.username":                   "",
	"relay.tls":                        true,
	"relay.whitelist_domains":          []string{},
	"relay.internal_domain":            "",
}

// newViper returns a Viper instance with defaults and environment
// overrides bound.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus environment overrides) are
// returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *AppConfig) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative, got %s", c.Sync.Interval)
	}
	if c.Display.PageSize <= 0 {
		return fmt.Errorf("display.page_size must be positive, got %d", c.Display.PageSize)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("sync", cfg.Sync)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)
	v.Set("relay", cfg.Relay)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
