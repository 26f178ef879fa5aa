package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 45
auth:
  enabled: true
  api_key: secret
browser:
  max_sessions: 4
  user_agent: audit-agent
fetch:
  nav_timeout_seconds: 30
  skip_probe: true
  blocked_patterns: ["*.png", "*.woff2"]
analysis:
  workers: 3
  module_timeout_seconds: 15
quota:
  report_validity_hours: 12
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: snapshots
db:
  backend: postgres
  dsn: postgres://localhost/audits
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Browser.MaxSessions != 4 || cfg.Browser.UserAgent != "audit-agent" {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if !cfg.Fetch.SkipProbe || len(cfg.Fetch.BlockedPatterns) != 2 {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if cfg.Analysis.Workers != 3 || cfg.Analysis.ModuleTimeoutSec != 15 {
		t.Fatalf("expected analysis overrides to apply: %+v", cfg.Analysis)
	}
	if cfg.Quota.ReportValidityHours != 12 {
		t.Fatalf("expected quota override, got %+v", cfg.Quota)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.DB.Backend != "postgres" {
		t.Fatalf("expected db backend postgres, got %q", cfg.DB.Backend)
	}
	// Defaults fill unset sections.
	if cfg.Analysis.AnalysisTimeoutSec != 60 || cfg.PubSub.Backend != "memory" {
		t.Fatalf("expected defaults for unset keys: %+v %+v", cfg.Analysis, cfg.PubSub)
	}
	if got := cfg.NavTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
}

func TestLoadDefaultsValidate(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Browser.MaxSessions != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Browser:  BrowserConfig{MaxSessions: 2},
		Fetch:    FetchConfig{NavTimeoutSec: 25},
		Analysis: AnalysisConfig{Workers: 2},
		Storage:  StorageConfig{Backend: "memory"},
		DB:       DBConfig{Backend: "memory"},
		PubSub:   PubSubConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Analysis.Workers = 0
				return c
			}(),
			want: "analysis.workers",
		},
		{
			name: "invalid sessions",
			cfg: func() Config {
				c := base
				c.Browser.MaxSessions = 0
				return c
			}(),
			want: "browser.max_sessions",
		},
		{
			name: "invalid nav timeout",
			cfg: func() Config {
				c := base
				c.Fetch.NavTimeoutSec = 0
				return c
			}(),
			want: "fetch.nav_timeout_seconds",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "local storage missing base dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.base_dir",
		},
		{
			name: "gcs storage missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "postgres missing dsn",
			cfg: func() Config {
				c := base
				c.DB.Backend = "postgres"
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "pubsub missing project",
			cfg: func() Config {
				c := base
				c.PubSub.Backend = "pubsub"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
