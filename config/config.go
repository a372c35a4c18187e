// Package config holds the reverb configuration, loaded from TOML files and
// REVERB_* environment variables via viper.
package config

import "time"

// Config represents the core reverb configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Media    MediaConfig    `mapstructure:"media"`
	AI       AIConfig       `mapstructure:"ai"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the status/control HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// QueueConfig configures the background enrichment queue
type QueueConfig struct {
	// Worker concurrency. 0 means size from available memory.
	Workers int `mapstructure:"workers"`

	// How often idle workers check for claimable jobs
	PollIntervalMS int `mapstructure:"poll_interval_ms"`

	// Retry policy: bounded exponential backoff
	MaxAttempts      int `mapstructure:"max_attempts"`
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `mapstructure:"retry_max_delay_ms"`

	// Per-stage execution timeouts
	MediaTimeoutSeconds  int `mapstructure:"media_timeout_seconds"`
	EnrichTimeoutSeconds int `mapstructure:"enrich_timeout_seconds"`
}

// MediaConfig configures the media processing stage
type MediaConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// Export quality: low, medium, high
	Quality string `mapstructure:"quality"`
	// Directory for optimized artifacts; temp files are written beside the
	// final artifact and renamed into place
	OutputDir string `mapstructure:"output_dir"`
}

// AIConfig configures the enrichment provider
type AIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxCallsPerMinute int     `mapstructure:"max_calls_per_minute"`
}

// PollInterval returns the worker poll interval as a duration
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMS) * time.Millisecond
}

// RetryBaseDelay returns the first retry delay as a duration
func (q QueueConfig) RetryBaseDelay() time.Duration {
	return time.Duration(q.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap as a duration
func (q QueueConfig) RetryMaxDelay() time.Duration {
	return time.Duration(q.RetryMaxDelayMS) * time.Millisecond
}

// MediaTimeout returns the media stage timeout as a duration
func (q QueueConfig) MediaTimeout() time.Duration {
	return time.Duration(q.MediaTimeoutSeconds) * time.Second
}

// EnrichTimeout returns the enrichment stage timeout as a duration
func (q QueueConfig) EnrichTimeout() time.Duration {
	return time.Duration(q.EnrichTimeoutSeconds) * time.Second
}
