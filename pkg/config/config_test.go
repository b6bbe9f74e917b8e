package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "signaling url must not be empty",
			mutate: func(c *Config) {
				c.Signaling.URL = ""
			},
		},
		{
			name: "message timeout must exceed ping interval",
			mutate: func(c *Config) {
				c.Signaling.MessageTimeout = c.Signaling.PingInterval
			},
		},
		{
			name: "reconnect max delay below base delay",
			mutate: func(c *Config) {
				c.Signaling.Reconnect.MaxDelay = c.Signaling.Reconnect.BaseDelay / 2
			},
		},
		{
			name: "reconnect max attempts must be > 0",
			mutate: func(c *Config) {
				c.Signaling.Reconnect.MaxAttempts = 0
			},
		},
		{
			name: "port range min must be < max",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
				c.WebRTC.PortRange.Max = 40000
			},
		},
		{
			name: "low cpu threshold must be below high",
			mutate: func(c *Config) {
				c.Quality.LowCPU = 90
			},
		},
		{
			name: "bitrate factor must be in (0, 1]",
			mutate: func(c *Config) {
				c.Quality.BitrateFactor = 1.5
			},
		},
		{
			name: "scale skip threshold must be in (0, 1]",
			mutate: func(c *Config) {
				c.Pipeline.ScaleSkipThreshold = 0
			},
		},
		{
			name: "recording directory required when enabled",
			mutate: func(c *Config) {
				c.Recording.Enabled = true
				c.Recording.Directory = ""
			},
		},
		{
			name: "archive backend must be known",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Backend = "ftp"
			},
		},
		{
			name: "health max interval below min",
			mutate: func(c *Config) {
				c.Health.MaxInterval = time.Second
				c.Health.MinInterval = 2 * time.Second
			},
		},
		{
			name: "redis settings backend requires redis",
			mutate: func(c *Config) {
				c.Settings.Backend = "redis"
				c.Redis.Enabled = false
			},
		},
		{
			name: "auth secret required when auth is required",
			mutate: func(c *Config) {
				c.Auth.Required = true
				c.Auth.JWTSecret = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.Reconnect.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Signaling.Reconnect.MaxAttempts)
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
signaling:
  url: "ws://signal.example:9000/ws"
  reconnect:
    max_attempts: 7
quality:
  high_cpu: 90
logging:
  level: "debug"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("CAMSTREAM_LOG_LEVEL", "warn")
	t.Setenv("CAMSTREAM_RECORDING_DIR", "/tmp/camstream-recordings")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signaling.URL != "ws://signal.example:9000/ws" {
		t.Errorf("Signaling.URL = %q", cfg.Signaling.URL)
	}
	if cfg.Signaling.Reconnect.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", cfg.Signaling.Reconnect.MaxAttempts)
	}
	// untouched keys keep their defaults
	if cfg.Signaling.Reconnect.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.Signaling.Reconnect.BaseDelay)
	}
	if cfg.Quality.HighCPU != 90 {
		t.Errorf("HighCPU = %v, want 90", cfg.Quality.HighCPU)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Recording.Directory != "/tmp/camstream-recordings" {
		t.Errorf("Recording.Directory = %q", cfg.Recording.Directory)
	}
}

func TestLoad_InvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("quality:\n  low_cpu: 95\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}
