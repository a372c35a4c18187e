package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcform/reverb/cmd/reverb/commands"
	"github.com/arcform/reverb/logger"
)

var rootCmd = &cobra.Command{
	Use:   "reverb",
	Short: "reverb - recording session enrichment daemon",
	Long: `reverb - background enrichment for recording sessions.

reverb watches a queue of enrichment jobs and processes each session in two
stages: media optimization (audio concat + video merge via ffmpeg) and AI
enrichment (summary, chapters, tasks). Jobs are durable: they survive
restarts and retry transient failures with exponential backoff.

Available commands:
  serve    - Start the enrichment daemon (workers + HTTP API)
  jobs     - Inspect and control enrichment jobs
  sessions - List sessions and enqueue enrichment
  db       - Database statistics and maintenance

Examples:
  reverb serve                   # Start daemon in foreground
  reverb serve --workers 4       # Start with 4 concurrent workers
  reverb jobs ls --status failed # List failed jobs
  reverb jobs retry <job-id>     # Re-queue a failed job
  reverb sessions enqueue <id>   # Enqueue enrichment for a session`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if err := logger.Initialize(jsonOutput, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("json", false, "Log in JSON format")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to reverb.toml (default: nearest reverb.toml, then ~/.reverb/reverb.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.SessionsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
