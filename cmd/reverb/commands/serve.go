package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcform/reverb/ai"
	"github.com/arcform/reverb/config"
	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/logger"
	"github.com/arcform/reverb/media"
	"github.com/arcform/reverb/server"
	"github.com/arcform/reverb/session"
)

// ServeCmd starts the enrichment daemon
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrichment daemon",
	Long: `Start the enrichment daemon in foreground mode.

The daemon will:
- Recover jobs interrupted by a previous shutdown
- Start the worker pool for background enrichment
- Serve the HTTP API and WebSocket job update feed
- Run until interrupted (Ctrl+C) with graceful shutdown

Jobs run in two stages: media optimization through ffmpeg, then AI
enrichment through the configured provider. Transient failures retry
with exponential backoff; progress streams over the WebSocket feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		port, _ := cmd.Flags().GetInt("port")
		return runServe(workers, port)
	},
}

func init() {
	ServeCmd.Flags().Int("workers", 0, "Number of concurrent workers (0 = override from config, or size from available memory)")
	ServeCmd.Flags().Int("port", 0, "HTTP API port (0 = from config)")
}

func runServe(workersFlag, portFlag int) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	// Media stage
	quality, ok := media.ParseQuality(cfg.Media.Quality)
	if !ok {
		logger.Logger.Warnw("Unknown media quality, using default",
			"configured", cfg.Media.Quality,
			"default", quality)
	}
	mediaStage := media.NewFFmpeg(media.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		OutputDir:   cfg.Media.OutputDir,
		Quality:     quality,
	}, logger.Logger)

	// Enrichment stage
	aiConfig := ai.Config{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
		Timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		Logger:  logger.Logger,
	}
	if cfg.AI.Temperature > 0 {
		aiConfig.Temperature = &cfg.AI.Temperature
	}
	if cfg.AI.MaxTokens > 0 {
		aiConfig.MaxTokens = &cfg.AI.MaxTokens
	}
	aiClient := ai.NewClient(aiConfig)
	if !aiClient.IsConfigured() {
		logger.Logger.Warnw("AI provider not configured, enrichment stage will fail jobs that request summaries",
			"hint", "set ai.api_key or REVERB_AI_API_KEY")
	}

	var limiter *ai.Limiter
	if cfg.AI.MaxCallsPerMinute > 0 {
		limiter = ai.NewLimiter(cfg.AI.MaxCallsPerMinute)
	}
	enrichStage := ai.NewStage(aiClient, limiter, logger.Logger)

	// Manager + worker pool
	workers := cfg.Queue.Workers
	if workersFlag > 0 {
		workers = workersFlag
	}
	managerCfg := enrich.ManagerConfig{
		Workers:      workers,
		PollInterval: cfg.Queue.PollInterval(),
		Retry: enrich.RetryPolicy{
			MaxAttempts: cfg.Queue.MaxAttempts,
			BaseDelay:   cfg.Queue.RetryBaseDelay(),
			MaxDelay:    cfg.Queue.RetryMaxDelay(),
		},
		MediaTimeout:  cfg.Queue.MediaTimeout(),
		EnrichTimeout: cfg.Queue.EnrichTimeout(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := enrich.NewManagerWithContext(ctx, database, mediaStage, enrichStage, managerCfg, logger.Logger)
	if err := manager.Initialize(); err != nil {
		return errors.Wrap(err, "failed to initialize enrichment manager")
	}

	// Hot-reload for settings that apply without a restart
	if configFile := watchedConfigPath(); configFile != "" {
		watcher, err := config.NewWatcher(configFile)
		if err != nil {
			logger.Logger.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(newCfg *config.Config) error {
				// Export quality is the one knob each ffmpeg run reads fresh,
				// so it can change under in-flight jobs. Worker count and
				// ports still need a restart.
				newQuality, ok := media.ParseQuality(newCfg.Media.Quality)
				if !ok {
					logger.Logger.Warnw("Ignoring unknown media quality from reload",
						"configured", newCfg.Media.Quality)
				} else if newQuality != mediaStage.ExportQuality() {
					mediaStage.SetQuality(newQuality)
					logger.Logger.Infow("Applied media quality from reloaded config",
						"quality", newQuality)
				}
				logger.Logger.Infow("Configuration reloaded",
					"note", "worker count and ports apply on next restart")
				return nil
			})
			watcher.Start()
			config.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	// HTTP API
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}
	srv := server.New(manager, session.NewStore(database), server.Config{
		Port:           port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger.Logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	metrics := manager.GetSystemMetrics()
	fmt.Printf("reverb daemon started\n")
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Workers: %d\n", metrics.WorkersTotal)
	fmt.Printf("  Poll interval: %v\n", managerCfg.PollInterval)
	fmt.Printf("  API: http://localhost:%d\n", port)
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	// Wait for interrupt signal or server failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived %v, shutting down...\n", sig)
	case err := <-serverErr:
		if err != nil {
			manager.Shutdown()
			return err
		}
	}

	// Stop components in reverse order of startup: no new work over HTTP,
	// then drain the worker pool
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warnw("HTTP server shutdown error", "error", err)
	}
	manager.Shutdown()

	fmt.Printf("reverb daemon stopped\n")
	return nil
}

// watchedConfigPath resolves the config file to watch for hot reloads
func watchedConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.ConfigFilePath()
}
