// ABOUTME: Configuration loading and defaults for devcapture
// ABOUTME: Handles YAML config files and DEVCAPTURE_* environment overrides

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the capture server.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 9876
	DefaultStoreMaxSize = 1000
	DefaultMaxBodyBytes = 1 << 20
)

// Config holds the complete configuration for devcapture.
type Config struct {
	// Capture server listener.
	Server ServerConfig `yaml:"server"`

	// In-memory error store.
	Store StoreConfig `yaml:"store"`

	// Ingestion behavior.
	Capture CaptureConfig `yaml:"capture"`

	// Logging configuration.
	Log LogConfig `yaml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Optional fan-out of captured errors.
	Sinks SinksConfig `yaml:"sinks"`

	// Local snapshot archive used by the CLI.
	Archive ArchiveConfig `yaml:"archive"`

	// Bucket for exported snapshots.
	GCS GCSConfig `yaml:"gcs"`
}

// ServerConfig holds capture server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllInterfaces binds 0.0.0.0 instead of Host.
	AllInterfaces bool `yaml:"all_interfaces"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	host := s.Host
	if s.AllInterfaces {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// BaseURL returns the URL a local client uses to reach the server.
func (s ServerConfig) BaseURL() string {
	host := s.Host
	if s.AllInterfaces || host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// StoreConfig holds error store settings.
type StoreConfig struct {
	MaxSize int `yaml:"max_size"`
}

// CaptureConfig holds ingestion settings.
type CaptureConfig struct {
	// ProjectRoot decides which stack frames are local source.
	ProjectRoot string `yaml:"project_root"`

	// LogToConsole renders every capture to the console.
	LogToConsole  bool `yaml:"log_to_console"`
	ShowFullStack bool `yaml:"show_full_stack"`
	Compact       bool `yaml:"compact"`

	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// ArchiveConfig holds the Badger snapshot archive settings.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// GCSConfig holds Google Cloud Storage settings for exports.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`

	// EmulatorHost points the client at a fake-gcs-server.
	EmulatorHost string `yaml:"emulator_host"`
}

// DefaultConfig returns a Config with default values.
// Sinks and tracing are disabled so the server runs standalone.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Store: StoreConfig{
			MaxSize: DefaultStoreMaxSize,
		},
		Capture: CaptureConfig{
			LogToConsole: true,
			MaxBodyBytes: DefaultMaxBodyBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Sinks:   DefaultSinksConfig(),
		Archive: ArchiveConfig{Dir: DefaultArchiveDir()},
		GCS:     GCSConfig{Prefix: "devcapture/"},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv applies DEVCAPTURE_* overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DEVCAPTURE_PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("DEVCAPTURE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DEVCAPTURE_HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("DEVCAPTURE_PROJECT_ROOT"); ok && v != "" {
		c.Capture.ProjectRoot = v
	}
	if v, ok := lookup("DEVCAPTURE_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Host == "" && !c.Server.AllInterfaces {
		problems = append(problems, "server.host is required")
	}
	if c.Capture.MaxBodyBytes <= 0 {
		problems = append(problems, "capture.max_body_bytes must be > 0")
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		problems = append(problems, "tracing.sampling_ratio must be within [0, 1]")
	}
	if c.Sinks.Redis.MaxLen < 0 {
		problems = append(problems, "sinks.redis.max_len must be >= 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DefaultArchiveDir returns the default snapshot archive directory.
func DefaultArchiveDir() string {
	// Try XDG_DATA_HOME first.
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "devcapture", "archive")
	}

	// Fall back to home directory.
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "devcapture", "archive")
	}

	return filepath.Join(home, ".local", "share", "devcapture", "archive")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	// Try XDG_CONFIG_HOME first.
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "devcapture", "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "devcapture", "config.yaml")
}
