// Package config loads the application settings and the five detector
// configuration documents.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir    = ".gameblocker"
	DefaultSettingsFile = "config.yaml"
	DefaultAuditLogFile = "blocks.jsonl"
	DefaultListsDirName = "lists"
	DefaultListen       = "127.0.0.1:7878"
	DefaultMetricsPath  = "/metrics"

	// DefaultPollInterval is the navigation check period.
	DefaultPollInterval = time.Second
)

// Duration is a time.Duration that decodes from strings such as "1s" in
// YAML, TOML and JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Settings controls where the detector reads its lists from and how the
// host process logs and serves.
type Settings struct {
	ConfigDir string `yaml:"-" toml:"-" json:"-"`

	// ListsDir holds the configuration documents. Ignored when ListsURL is set.
	ListsDir string `yaml:"lists_dir" toml:"lists_dir" json:"lists_dir"`
	// ListsURL is a base URL the documents are fetched from.
	ListsURL string `yaml:"lists_url" toml:"lists_url" json:"lists_url"`
	// WatchLists invalidates cached documents when files in ListsDir change.
	WatchLists bool `yaml:"watch_lists" toml:"watch_lists" json:"watch_lists"`

	// PollNavigation makes the bridge sample the relay's last reported
	// location every PollInterval instead of acting on each navigate message.
	PollNavigation bool     `yaml:"poll_navigation" toml:"poll_navigation" json:"poll_navigation"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval"`

	LogLevel     string `yaml:"log_level" toml:"log_level" json:"log_level"`
	LogFormat    string `yaml:"log_format" toml:"log_format" json:"log_format"`
	AuditLogPath string `yaml:"audit_log" toml:"audit_log" json:"audit_log"`

	Listen      string `yaml:"listen" toml:"listen" json:"listen"`
	MetricsPath string `yaml:"metrics_path" toml:"metrics_path" json:"metrics_path"`
}

// DefaultSettings returns settings rooted at configDir.
func DefaultSettings(configDir string) *Settings {
	return &Settings{
		ConfigDir:    configDir,
		ListsDir:     filepath.Join(configDir, DefaultListsDirName),
		WatchLists:   true,
		PollInterval: Duration{DefaultPollInterval},
		LogLevel:     "info",
		LogFormat:    "auto",
		AuditLogPath: filepath.Join(configDir, DefaultAuditLogFile),
		Listen:       DefaultListen,
		MetricsPath:  DefaultMetricsPath,
	}
}

// Load resolves the settings file (default ~/.gameblocker/config.yaml),
// creating the config directory if needed, and applies environment
// overrides.
func Load(path string) (*Settings, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(homeDir, DefaultConfigDir)
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	if path == "" {
		path = filepath.Join(configDir, DefaultSettingsFile)
	}

	return LoadFile(path, configDir)
}

// LoadFile reads settings from path, decoding by extension. A missing file
// yields the defaults for configDir.
func LoadFile(path, configDir string) (*Settings, error) {
	s := DefaultSettings(configDir)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err == nil {
		if err := decodeSettings(path, data, s); err != nil {
			return nil, err
		}
	}

	s.ApplyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

func decodeSettings(path string, data []byte, s *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), s); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, s); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	}
	return nil
}

// ApplyEnvOverrides replaces fields with GAMEBLOCKER_* environment values.
func (s *Settings) ApplyEnvOverrides() {
	s.LogLevel = envOrDefault("GAMEBLOCKER_LOG_LEVEL", s.LogLevel)
	s.Listen = envOrDefault("GAMEBLOCKER_LISTEN", s.Listen)
	s.ListsDir = envOrDefault("GAMEBLOCKER_LISTS_DIR", s.ListsDir)
	s.ListsURL = envOrDefault("GAMEBLOCKER_LISTS_URL", s.ListsURL)
}

// Validate checks field values.
func (s *Settings) Validate() error {
	if s.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", s.PollInterval)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	switch s.LogFormat {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q", s.LogFormat)
	}
	if s.ListsDir == "" && s.ListsURL == "" {
		return fmt.Errorf("one of lists_dir or lists_url is required")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
