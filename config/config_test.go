package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper failed: %v", err)
	}

	if cfg.Database.Path != "reverb.db" {
		t.Errorf("Database path = %q", cfg.Database.Path)
	}
	if cfg.Server.Port != 7411 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Queue.Workers != 2 || cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Queue defaults: %+v", cfg.Queue)
	}
	if cfg.Media.Quality != "medium" || cfg.Media.FFmpegPath != "ffmpeg" {
		t.Errorf("Media defaults: %+v", cfg.Media)
	}
	if cfg.AI.Model != "gpt-4o-mini" || cfg.AI.MaxCallsPerMinute != 20 {
		t.Errorf("AI defaults: %+v", cfg.AI)
	}
}

func TestQueueDurationHelpers(t *testing.T) {
	q := QueueConfig{
		PollIntervalMS:       250,
		RetryBaseDelayMS:     2000,
		RetryMaxDelayMS:      30000,
		MediaTimeoutSeconds:  600,
		EnrichTimeoutSeconds: 300,
	}

	if q.PollInterval() != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", q.PollInterval())
	}
	if q.RetryBaseDelay() != 2*time.Second || q.RetryMaxDelay() != 30*time.Second {
		t.Errorf("Retry delays = %v / %v", q.RetryBaseDelay(), q.RetryMaxDelay())
	}
	if q.MediaTimeout() != 10*time.Minute || q.EnrichTimeout() != 5*time.Minute {
		t.Errorf("Stage timeouts = %v / %v", q.MediaTimeout(), q.EnrichTimeout())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reverb.toml")

	content := `
[database]
path = "/var/lib/reverb/reverb.db"

[server]
port = 9000

[queue]
workers = 4
poll_interval_ms = 500

[media]
quality = "high"

[ai]
model = "gpt-4o"
max_calls_per_minute = 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/reverb/reverb.db" {
		t.Errorf("Database path = %q", cfg.Database.Path)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.PollIntervalMS != 500 {
		t.Errorf("Queue overrides: %+v", cfg.Queue)
	}
	if cfg.Media.Quality != "high" {
		t.Errorf("Quality = %q", cfg.Media.Quality)
	}
	if cfg.AI.Model != "gpt-4o" || cfg.AI.MaxCallsPerMinute != 5 {
		t.Errorf("AI overrides: %+v", cfg.AI)
	}

	// Keys the file leaves out keep their defaults
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("MaxAttempts should default to 3, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.MediaTimeoutSeconds != 600 {
		t.Errorf("MediaTimeoutSeconds should default to 600, got %d", cfg.Queue.MediaTimeoutSeconds)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("Expected an error for a missing file")
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("REVERB_AI_API_KEY", "sk-from-env")

	v := viper.New()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper failed: %v", err)
	}
	if cfg.AI.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want the env value", cfg.AI.APIKey)
	}
}

func TestUpdateSectionPersistsAndBacksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reverb.toml")

	if err := os.WriteFile(path, []byte("[queue]\nworkers = 2\n"), 0644); err != nil {
		t.Fatalf("Failed to seed config: %v", err)
	}

	if err := UpdateQueueWorkers(path, 6); err != nil {
		t.Fatalf("UpdateQueueWorkers failed: %v", err)
	}
	if err := UpdateMediaQuality(path, "high"); err != nil {
		t.Fatalf("UpdateMediaQuality failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config back: %v", err)
	}
	var tree map[string]interface{}
	if err := toml.Unmarshal(data, &tree); err != nil {
		t.Fatalf("Persisted config is not valid TOML: %v", err)
	}

	queue, ok := tree["queue"].(map[string]interface{})
	if !ok || queue["workers"] != int64(6) {
		t.Errorf("Workers not persisted: %+v", tree["queue"])
	}
	media, ok := tree["media"].(map[string]interface{})
	if !ok || media["quality"] != "high" {
		t.Errorf("Quality not persisted: %+v", tree["media"])
	}

	// Each write rotates a backup of the previous content
	if _, err := os.Stat(path + ".back1"); err != nil {
		t.Errorf("Expected .back1 after updates: %v", err)
	}
	if _, err := os.Stat(path + ".back2"); err != nil {
		t.Errorf("Expected .back2 after two updates: %v", err)
	}
}

func TestUpdateSectionCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reverb.toml")

	if err := UpdateAIModel(path, "gpt-4o"); err != nil {
		t.Fatalf("UpdateAIModel failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.AI.Model)
	}
}

func TestIsBackupFile(t *testing.T) {
	cases := map[string]bool{
		"/etc/reverb/reverb.toml":       false,
		"/etc/reverb/reverb.toml.back1": true,
		"/etc/reverb/reverb.toml.back2": true,
		"/etc/reverb/reverb.toml.back3": true,
		"/etc/reverb/backup.toml":       false,
	}
	for path, want := range cases {
		if got := isBackupFile(path); got != want {
			t.Errorf("isBackupFile(%q) = %v, want %v", path, got, want)
		}
	}
}
