// Package config loads the pipeline configuration from the environment.
// A .env file is honored for development; real environment variables win.
package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the pipeline consumes.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Debug     bool   `env:"DEBUG" envDefault:"false"`
	Version   string `env:"VERSION" envDefault:"dev"`
	SentryDSN string `env:"SENTRY_DSN"`

	// MetricsAddr enables the Prometheus endpoint when set, e.g. ":9090".
	MetricsAddr string `env:"METRICS_ADDR"`

	// Session pool.
	SessionNames []string      `env:"SESSION_NAMES"`
	SessionsDir  string        `env:"SESSIONS_DIR" envDefault:"sessions"`
	APIID        int           `env:"API_ID"`
	APIHash      string        `env:"API_HASH"`
	ProxyURL     string        `env:"PROXY_URL"`
	StaggerDelay time.Duration `env:"SESSION_STAGGER_DELAY" envDefault:"5s"`

	// Workload.
	SourceChannel string `env:"SOURCE_CHANNEL"`
	StartID       int    `env:"START_ID"`
	EndID         int    `env:"END_ID"`

	// Fetcher.
	FetchBatchSize int `env:"FETCH_BATCH_SIZE" envDefault:"200"`

	// Downloader.
	DownloadsDir        string  `env:"DOWNLOADS_DIR" envDefault:"downloads"`
	DownloadThresholdMB float64 `env:"DOWNLOAD_THRESHOLD_MB" envDefault:"20"`
	ConcurrentDownloads int     `env:"CONCURRENT_DOWNLOADS" envDefault:"10"`
	MemoryMode          bool    `env:"MEMORY_MODE" envDefault:"false"`

	// Publisher. Publishing is active when TargetChannels is non-empty.
	TargetChannels      []string      `env:"TARGET_CHANNELS"`
	BotToken            string        `env:"BOT_TOKEN"`
	ScratchChatID       int64         `env:"SCRATCH_CHAT_ID"`
	StageBatchSize      int           `env:"STAGE_BATCH_SIZE" envDefault:"10"`
	PreserveStructure   bool          `env:"PRESERVE_STRUCTURE" envDefault:"false"`
	CleanupAfterSuccess bool          `env:"CLEANUP_AFTER_SUCCESS" envDefault:"true"`
	CleanupAfterFailure bool          `env:"CLEANUP_AFTER_FAILURE" envDefault:"false"`
	FanoutConcurrency   int           `env:"FANOUT_CONCURRENCY" envDefault:"3"`
	PublishRetries      int           `env:"PUBLISH_RETRIES" envDefault:"3"`
	PublishRetryDelay   time.Duration `env:"PUBLISH_RETRY_DELAY" envDefault:"5s"`
	UploadConsumers     int           `env:"UPLOAD_CONSUMERS" envDefault:"1"`
	UploadQueueSize     int           `env:"UPLOAD_QUEUE_SIZE" envDefault:"1000"`

	// Template engine.
	TemplateMode string `env:"TEMPLATE_MODE" envDefault:"original"`
	TemplateBody string `env:"TEMPLATE_BODY"`

	// Error handling.
	RetryMax      int           `env:"RETRY_MAX" envDefault:"3"`
	RetryBase     time.Duration `env:"RETRY_BASE" envDefault:"1s"`
	RetryMaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"60s"`
	RetryFactor   float64       `env:"RETRY_FACTOR" envDefault:"2"`

	// Partitioner. Advisory only: imbalance beyond the cap is reported,
	// never fatal.
	ImbalanceRatioCap float64 `env:"IMBALANCE_RATIO_CAP" envDefault:"0.3"`
	LargestFirst      bool    `env:"PARTITION_LARGEST_FIRST" envDefault:"true"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on anything the run could not recover from.
func (c *Config) Validate() error {
	if len(c.SessionNames) == 0 {
		return fmt.Errorf("SESSION_NAMES is required")
	}
	if c.APIID == 0 {
		return fmt.Errorf("API_ID is required")
	}
	if len(c.APIHash) != 32 {
		return fmt.Errorf("API_HASH must be a 32-character hex string")
	}
	if c.SourceChannel == "" {
		return fmt.Errorf("SOURCE_CHANNEL is required")
	}
	if c.StartID <= 0 || c.EndID < c.StartID {
		return fmt.Errorf("invalid id range [%d, %d]", c.StartID, c.EndID)
	}
	if c.FetchBatchSize < 1 || c.FetchBatchSize > 200 {
		return fmt.Errorf("FETCH_BATCH_SIZE must be in 1..200, got %d", c.FetchBatchSize)
	}
	if c.StageBatchSize < 1 || c.StageBatchSize > 10 {
		return fmt.Errorf("STAGE_BATCH_SIZE must be in 1..10, got %d", c.StageBatchSize)
	}
	if c.ConcurrentDownloads < 1 {
		return fmt.Errorf("CONCURRENT_DOWNLOADS must be >= 1, got %d", c.ConcurrentDownloads)
	}
	if c.UploadConsumers < 1 {
		return fmt.Errorf("UPLOAD_CONSUMERS must be >= 1, got %d", c.UploadConsumers)
	}
	if c.ImbalanceRatioCap < 0 || c.ImbalanceRatioCap > 1 {
		return fmt.Errorf("IMBALANCE_RATIO_CAP must be in 0..1, got %g", c.ImbalanceRatioCap)
	}
	if c.TemplateMode != "original" && c.TemplateMode != "custom" {
		return fmt.Errorf("TEMPLATE_MODE must be original or custom, got %q", c.TemplateMode)
	}
	if c.TemplateMode == "custom" && strings.TrimSpace(c.TemplateBody) == "" {
		return fmt.Errorf("TEMPLATE_BODY content required in custom mode")
	}
	if c.PublishingEnabled() {
		if c.BotToken == "" {
			return fmt.Errorf("BOT_TOKEN is required when TARGET_CHANNELS is set")
		}
		if c.ScratchChatID == 0 {
			return fmt.Errorf("SCRATCH_CHAT_ID is required when TARGET_CHANNELS is set")
		}
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid PROXY_URL: %w", err)
		}
		switch u.Scheme {
		case "socks5", "socks4":
		case "http", "https":
			return fmt.Errorf("PROXY_URL scheme %q is not supported by the session client, use socks5", u.Scheme)
		default:
			return fmt.Errorf("invalid PROXY_URL scheme %q", u.Scheme)
		}
	}
	return nil
}

// PublishingEnabled reports whether the publish half of the pipeline runs.
func (c *Config) PublishingEnabled() bool { return len(c.TargetChannels) > 0 }

// DownloadThresholdBytes converts the MB threshold for the strategy selector.
func (c *Config) DownloadThresholdBytes() int64 {
	return int64(c.DownloadThresholdMB * float64(1<<20))
}

// MinBalanceRatio derives the advisory min/max load floor from the cap.
func (c *Config) MinBalanceRatio() float64 { return 1 - c.ImbalanceRatioCap }
