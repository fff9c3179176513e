// Package config loads and validates exporter configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cakehq/cake/internal/crawl"
)

// Config captures all exporter configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig `mapstructure:"logging"`
	Crawl      CrawlConfig   `mapstructure:"crawl"`
	Jira       SourceConfig  `mapstructure:"jira"`
	Confluence SourceConfig  `mapstructure:"confluence"`
	Drive      DriveConfig   `mapstructure:"drive"`
	Output     OutputConfig  `mapstructure:"output"`
	PubSub     PubSubConfig  `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlConfig governs the scheduler and governor.
type CrawlConfig struct {
	Workers           int  `mapstructure:"workers"`
	GlobalLimit       int  `mapstructure:"global_limit"`
	MaxDepth          int  `mapstructure:"max_depth"`
	MaxRetries        int  `mapstructure:"max_retries"`
	BackoffInitialMs  int  `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int  `mapstructure:"backoff_max_ms"`
	SkipRemoteContent bool `mapstructure:"skip_remote_content"`
}

// SourceConfig holds connection and admission settings for one Atlassian
// source.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Username       string `mapstructure:"username"`
	APIToken       string `mapstructure:"api_token"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	DelayMs        int    `mapstructure:"delay_ms"`
	PageSize       int    `mapstructure:"page_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DriveConfig holds connection and admission settings for Google Drive.
type DriveConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AccessToken    string `mapstructure:"access_token"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	DelayMs        int    `mapstructure:"delay_ms"`
	PageSize       int    `mapstructure:"page_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OutputConfig sets where finalized exports land.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for export-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("cake")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawl.workers", 8)
	v.SetDefault("crawl.global_limit", 8)
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.max_retries", 4)
	v.SetDefault("crawl.backoff_initial_ms", 250)
	v.SetDefault("crawl.backoff_max_ms", 5000)
	v.SetDefault("jira.max_concurrent", 5)
	v.SetDefault("jira.delay_ms", 100)
	v.SetDefault("jira.page_size", 100)
	v.SetDefault("jira.timeout_seconds", 30)
	v.SetDefault("confluence.max_concurrent", 5)
	v.SetDefault("confluence.delay_ms", 100)
	v.SetDefault("confluence.page_size", 50)
	v.SetDefault("confluence.timeout_seconds", 30)
	v.SetDefault("drive.max_concurrent", 2)
	v.SetDefault("drive.delay_ms", 100)
	v.SetDefault("drive.page_size", 100)
	v.SetDefault("drive.timeout_seconds", 30)
	v.SetDefault("output.dir", "export")
	v.SetDefault("output.gcs_prefix", "exports")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Workers <= 0 {
		return fmt.Errorf("crawl.workers must be > 0")
	}
	if c.Crawl.GlobalLimit <= 0 {
		return fmt.Errorf("crawl.global_limit must be > 0")
	}
	if c.Crawl.MaxRetries <= 0 {
		return fmt.Errorf("crawl.max_retries must be > 0")
	}
	if c.Jira.BaseURL == "" && c.Confluence.BaseURL == "" && c.Drive.AccessToken == "" {
		return fmt.Errorf("at least one source must be configured")
	}
	if c.Jira.BaseURL != "" && (c.Jira.Username == "" || c.Jira.APIToken == "") {
		return fmt.Errorf("jira.username and jira.api_token must be set when jira.base_url is")
	}
	if c.Confluence.BaseURL != "" && (c.Confluence.Username == "" || c.Confluence.APIToken == "") {
		return fmt.Errorf("confluence.username and confluence.api_token must be set when confluence.base_url is")
	}
	if c.Output.Dir == "" && c.Output.GCSBucket == "" {
		return fmt.Errorf("output.dir or output.gcs_bucket must be set")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// GovernorConfig converts the per-source sections into governor limits for
// the sources that are configured.
func (c Config) GovernorConfig() crawl.GovernorConfig {
	sources := make(map[crawl.SourceType]crawl.SourceLimits)
	if c.Jira.BaseURL != "" {
		sources[crawl.SourceJira] = sourceLimits(c.Jira.MaxConcurrent, c.Jira.DelayMs, c.Jira.TimeoutSeconds)
	}
	if c.Confluence.BaseURL != "" {
		sources[crawl.SourceConfluence] = sourceLimits(c.Confluence.MaxConcurrent, c.Confluence.DelayMs, c.Confluence.TimeoutSeconds)
	}
	if c.Drive.AccessToken != "" {
		sources[crawl.SourceDrive] = sourceLimits(c.Drive.MaxConcurrent, c.Drive.DelayMs, c.Drive.TimeoutSeconds)
	}
	return crawl.GovernorConfig{
		GlobalLimit: c.Crawl.GlobalLimit,
		Sources:     sources,
	}
}

// RetryPolicy converts the retry knobs into a policy instance.
func (c Config) RetryPolicy() *crawl.ExponentialRetryPolicy {
	return crawl.NewRetryPolicy(
		c.Crawl.MaxRetries,
		time.Duration(c.Crawl.BackoffInitialMs)*time.Millisecond,
		time.Duration(c.Crawl.BackoffMaxMs)*time.Millisecond,
	)
}

// Timeout converts the per-call timeout into a duration for client plumbing.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Timeout converts the per-call timeout into a duration for client plumbing.
func (d DriveConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func sourceLimits(maxConcurrent, delayMs, timeoutSeconds int) crawl.SourceLimits {
	return crawl.SourceLimits{
		MaxConcurrent: maxConcurrent,
		Delay:         time.Duration(delayMs) * time.Millisecond,
		CallTimeout:   time.Duration(timeoutSeconds) * time.Second,
	}
}
