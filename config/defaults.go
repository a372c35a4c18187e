package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "reverb.db")

	// Server defaults
	v.SetDefault("server.port", 7411)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	// Queue defaults
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.max_attempts", 3)        // pending -> processing -> pending, twice, then failed
	v.SetDefault("queue.retry_base_delay_ms", 2000)
	v.SetDefault("queue.retry_max_delay_ms", 30000)
	v.SetDefault("queue.media_timeout_seconds", 600)
	v.SetDefault("queue.enrich_timeout_seconds", 300)

	// Media defaults
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.quality", "medium")
	v.SetDefault("media.output_dir", "")

	// AI defaults
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.timeout_seconds", 120)
	v.SetDefault("ai.max_calls_per_minute", 20)
}

// BindSensitiveEnvVars binds secrets to environment variables only, so they
// never need to live in a config file on disk
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("ai.api_key", "REVERB_AI_API_KEY", "OPENAI_API_KEY")
}
