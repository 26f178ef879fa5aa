// Package config loads and validates auditor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BrowserConfig configures the headless browser session pool.
type BrowserConfig struct {
	MaxSessions        int    `mapstructure:"max_sessions"`
	AcquireTimeoutSec  int    `mapstructure:"acquire_timeout_seconds"`
	LaunchRetries      int    `mapstructure:"launch_retries"`
	MaxIdleSec         int    `mapstructure:"max_idle_seconds"`
	JanitorIntervalSec int    `mapstructure:"janitor_interval_seconds"`
	UserAgent          string `mapstructure:"user_agent"`
}

// FetchConfig governs page navigation and the pre-navigation probe.
type FetchConfig struct {
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	ProbeTimeoutSec int      `mapstructure:"probe_timeout_seconds"`
	SkipProbe       bool     `mapstructure:"skip_probe"`
	BlockedPatterns []string `mapstructure:"blocked_patterns"`
	HostRPS         float64  `mapstructure:"host_rps"`
	HostBurst       int      `mapstructure:"host_burst"`
	BlobPrefix      string   `mapstructure:"blob_prefix"`
}

// AnalysisConfig bounds module execution and the worker fleet.
type AnalysisConfig struct {
	Workers            int `mapstructure:"workers"`
	ModuleTimeoutSec   int `mapstructure:"module_timeout_seconds"`
	AnalysisTimeoutSec int `mapstructure:"analysis_timeout_seconds"`
	ModuleConcurrency  int `mapstructure:"module_concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
}

// QuotaConfig tunes the per-user quota and report cache layer.
type QuotaConfig struct {
	ReportValidityHours int `mapstructure:"report_validity_hours"`
	ResetPeriodDays     int `mapstructure:"reset_period_days"`
	CacheSize           int `mapstructure:"cache_size"`
}

// StorageConfig selects and parameterizes the artifact blob store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls request/report/quota persistence.
type DBConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for the job queue and completion events.
type PubSubConfig struct {
	Backend      string `mapstructure:"backend"`
	ProjectID    string `mapstructure:"project_id"`
	JobTopic     string `mapstructure:"job_topic"`
	Subscription string `mapstructure:"subscription"`
	EventTopic   string `mapstructure:"event_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("browser.max_sessions", 2)
	v.SetDefault("browser.acquire_timeout_seconds", 10)
	v.SetDefault("browser.launch_retries", 2)
	v.SetDefault("browser.max_idle_seconds", 300)
	v.SetDefault("browser.janitor_interval_seconds", 60)
	v.SetDefault("browser.user_agent", "site-auditor-bot/0.1")
	v.SetDefault("fetch.nav_timeout_seconds", 25)
	v.SetDefault("fetch.probe_timeout_seconds", 10)
	v.SetDefault("fetch.host_rps", 1)
	v.SetDefault("fetch.host_burst", 2)
	v.SetDefault("fetch.blob_prefix", "pages")
	v.SetDefault("analysis.workers", 2)
	v.SetDefault("analysis.module_timeout_seconds", 20)
	v.SetDefault("analysis.analysis_timeout_seconds", 60)
	v.SetDefault("analysis.module_concurrency", 4)
	v.SetDefault("analysis.queue_depth", 64)
	v.SetDefault("quota.report_validity_hours", 24)
	v.SetDefault("quota.reset_period_days", 30)
	v.SetDefault("quota.cache_size", 512)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("pubsub.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Analysis.Workers <= 0 {
		return fmt.Errorf("analysis.workers must be > 0")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be > 0")
	}
	if c.Fetch.NavTimeoutSec <= 0 {
		return fmt.Errorf("fetch.nav_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for local storage")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("db.backend must be memory or postgres")
	}
	switch c.PubSub.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.JobTopic == "" || c.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.job_topic, and pubsub.subscription must be set for pubsub")
		}
	default:
		return fmt.Errorf("pubsub.backend must be memory or pubsub")
	}
	return nil
}

// NavTimeout converts the fetch navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSec) * time.Second
}
