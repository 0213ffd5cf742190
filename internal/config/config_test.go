// ABOUTME: Tests for configuration loading
// ABOUTME: Validates defaults, YAML overrides, environment overrides, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want localhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9876 {
		t.Errorf("Server.Port = %d, want 9876", cfg.Server.Port)
	}
	if cfg.Store.MaxSize != 1000 {
		t.Errorf("Store.MaxSize = %d, want 1000", cfg.Store.MaxSize)
	}
	if cfg.Capture.MaxBodyBytes != 1<<20 {
		t.Errorf("Capture.MaxBodyBytes = %d, want 1 MiB", cfg.Capture.MaxBodyBytes)
	}
	if cfg.Sinks.NATS.Enabled() || cfg.Sinks.Redis.Enabled() {
		t.Error("sinks should be disabled by default")
	}
	if cfg.Tracing.Enabled {
		t.Error("Tracing.Enabled should be false by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      ServerConfig
		wantAddr string
		wantURL  string
	}{
		{"localhost", ServerConfig{Host: "localhost", Port: 9876}, "localhost:9876", "http://localhost:9876"},
		{"all interfaces", ServerConfig{Host: "localhost", Port: 80, AllInterfaces: true}, "0.0.0.0:80", "http://localhost:80"},
		{"custom host", ServerConfig{Host: "127.0.0.1", Port: 1}, "127.0.0.1:1", "http://127.0.0.1:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.Addr(); got != tt.wantAddr {
				t.Errorf("Addr() = %q, want %q", got, tt.wantAddr)
			}
			if got := tt.cfg.BaseURL(); got != tt.wantURL {
				t.Errorf("BaseURL() = %q, want %q", got, tt.wantURL)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 7000
  all_interfaces: true
store:
  max_size: 50
capture:
  project_root: /work/app
  compact: true
sinks:
  redis:
    addr: localhost:6379
    max_len: 200
  breaker:
    max_failures: 9
    reset_timeout: 5s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7000 || !cfg.Server.AllInterfaces {
		t.Errorf("Server = %+v, want port 7000 on all interfaces", cfg.Server)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want default kept", cfg.Server.Host)
	}
	if cfg.Store.MaxSize != 50 {
		t.Errorf("Store.MaxSize = %d, want 50", cfg.Store.MaxSize)
	}
	if cfg.Capture.ProjectRoot != "/work/app" || !cfg.Capture.Compact {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if !cfg.Sinks.Redis.Enabled() || cfg.Sinks.Redis.MaxLen != 200 {
		t.Errorf("Sinks.Redis = %+v", cfg.Sinks.Redis)
	}
	if cfg.Sinks.Redis.Stream != "errors" {
		t.Errorf("Sinks.Redis.Stream = %q, want default errors", cfg.Sinks.Redis.Stream)
	}
	breaker := cfg.Sinks.GetBreaker()
	if breaker.MaxFailures != 9 || breaker.ResetTimeout != 5*time.Second {
		t.Errorf("GetBreaker() = %+v, want 9 failures / 5s", breaker)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"DEVCAPTURE_PORT":         "9999",
		"DEVCAPTURE_HOST":         "127.0.0.1",
		"DEVCAPTURE_PROJECT_ROOT": "/src",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Capture.ProjectRoot != "/src" {
		t.Errorf("Capture.ProjectRoot = %q, want /src", cfg.Capture.ProjectRoot)
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "DEVCAPTURE_PORT" {
			return "ninety", true
		}
		return "", false
	})
	if err == nil {
		t.Error("ApplyEnv() should reject a non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	cfg.Capture.MaxBodyBytes = 0
	cfg.Tracing.SamplingRatio = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"server.port", "max_body_bytes", "sampling_ratio"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestSinksConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultSinksConfig()

	if cfg.NATS.Subject != "devcapture.errors" {
		t.Errorf("NATS.Subject = %q, want devcapture.errors", cfg.NATS.Subject)
	}
	if cfg.Redis.Prefix != "devcapture:" {
		t.Errorf("Redis.Prefix = %q, want devcapture:", cfg.Redis.Prefix)
	}
	if got := cfg.GetBreaker(); got != DefaultBreakerConfig() {
		t.Errorf("GetBreaker() = %+v, want defaults", got)
	}
}

func TestDefaultConfigPath_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got, want := DefaultConfigPath(), filepath.Join("/tmp/xdg", "devcapture", "config.yaml"); got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}
