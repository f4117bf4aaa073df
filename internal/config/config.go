// Package config loads and validates catalogd configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vietphim/catalogd/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Source   SourceConfig   `mapstructure:"source"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  logging.Config `mapstructure:"logging"`
}

// ServerConfig controls the read-only HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	// Migrate runs embedded schema migrations at startup.
	Migrate bool `mapstructure:"migrate"`
}

// SourceConfig governs the upstream catalog API client.
type SourceConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// CrawlerConfig governs the ingestion worker pool.
type CrawlerConfig struct {
	Workers int `mapstructure:"workers"`
	// StartPage/EndPage are the default page range; the CLI flags override.
	StartPage int `mapstructure:"start_page"`
	EndPage   int `mapstructure:"end_page"`
	// ThrottleBackoffSeconds is the fixed sleep after an upstream 429
	// before the item is abandoned.
	ThrottleBackoffSeconds int `mapstructure:"throttle_backoff_seconds"`
}

// EnrichConfig governs the metadata enrichment drain loop.
type EnrichConfig struct {
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	Language          string `mapstructure:"language"`
	BatchSize         int    `mapstructure:"batch_size"`
	Workers           int    `mapstructure:"workers"`
	BatchPauseSeconds int    `mapstructure:"batch_pause_seconds"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig controls best-effort raw payload archiving.
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Dir selects the local filesystem archiver.
	Dir string `mapstructure:"dir"`
	// GCSBucket, when set, selects the GCS archiver instead.
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// NotifyConfig holds metadata for publish-subscribe notifications.
// Topic names fall back to the notifier defaults when unset.
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ProjectID    string `mapstructure:"project_id"`
	TopicNew     string `mapstructure:"topic_new"`
	TopicEpisode string `mapstructure:"topic_episode"`
}

// ScheduleConfig drives cron-scheduled crawls inside serve.
type ScheduleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a standard five-field cron expression.
	Cron      string `mapstructure:"cron"`
	StartPage int    `mapstructure:"start_page"`
	EndPage   int    `mapstructure:"end_page"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOGD")
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
	v.SetDefault("db.migrate", true)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("source.base_url", "https://ophim1.com")
	v.SetDefault("source.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.max_retries", 2)
	v.SetDefault("source.backoff_initial_ms", 250)
	v.SetDefault("source.backoff_max_ms", 5000)
	v.SetDefault("source.rate_limit_rps", 0)
	v.SetDefault("source.rate_limit_burst", 1)
	v.SetDefault("crawler.workers", 10)
	v.SetDefault("crawler.start_page", 1)
	v.SetDefault("crawler.end_page", 100)
	v.SetDefault("crawler.throttle_backoff_seconds", 5)
	v.SetDefault("enrich.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("enrich.language", "vi-VN")
	v.SetDefault("enrich.batch_size", 100)
	v.SetDefault("enrich.workers", 10)
	v.SetDefault("enrich.batch_pause_seconds", 1)
	v.SetDefault("enrich.timeout_seconds", 10)
	v.SetDefault("archive.prefix", "phim")
	v.SetDefault("schedule.cron", "0 2 * * *")
	v.SetDefault("schedule.start_page", 1)
	v.SetDefault("schedule.end_page", 10)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.StartPage <= 0 || c.Crawler.EndPage < c.Crawler.StartPage {
		return fmt.Errorf("crawler.start_page/end_page must define a positive range")
	}
	if c.Enrich.BatchSize <= 0 {
		return fmt.Errorf("enrich.batch_size must be > 0")
	}
	if c.Enrich.Workers <= 0 {
		return fmt.Errorf("enrich.workers must be > 0")
	}
	if c.Archive.Enabled && c.Archive.Dir == "" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.dir or archive.gcs_bucket must be set when archiving is enabled")
	}
	if c.Notify.Enabled && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notifications are enabled")
	}
	return nil
}

// SourceTimeout converts the configured per-request timeout into a Duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ThrottleBackoff converts the 429 sleep into a Duration.
func (c Config) ThrottleBackoff() time.Duration {
	return time.Duration(c.Crawler.ThrottleBackoffSeconds) * time.Second
}
