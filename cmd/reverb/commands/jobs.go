package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arcform/reverb/enrich"
)

// JobsCmd groups enrichment job management commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control enrichment jobs",
	Long: `Inspect and control enrichment jobs.

Job management commands:
  reverb jobs ls              # List jobs
  reverb jobs status <id>     # Show job details
  reverb jobs cancel <id>     # Cancel a pending or processing job
  reverb jobs retry <id>      # Re-queue a failed or cancelled job
  reverb jobs purge           # Delete old terminal jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List enrichment jobs",
	Long: `List enrichment jobs, optionally filtered by status.

Status filters:
  pending    - Jobs waiting for a worker (including retry backoff)
  processing - Jobs currently being processed
  completed  - Successfully completed jobs
  failed     - Jobs that exhausted their retries
  cancelled  - Jobs cancelled by the user

Examples:
  reverb jobs ls                      # List recent jobs
  reverb jobs ls --status processing  # List only running jobs
  reverb jobs ls --limit 50           # Show up to 50 jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, limit)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show status of an enrichment job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or processing job",
	Long: `Cancel an enrichment job.

Pending jobs cancel immediately. Processing jobs are flagged and the
worker stops at the next stage boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsCancel(args[0])
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a failed or cancelled job",
	Long: `Re-queue a failed or cancelled job with a fresh attempt budget.

The job returns to pending with progress and error state cleared, and
the next available worker picks it up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsRetry(args[0])
	},
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old terminal jobs",
	Long: `Delete completed, failed, and cancelled jobs older than the cutoff.

Terminal jobs are kept as history by default; purge reclaims the space
once they are no longer interesting.

Example:
  reverb jobs purge --older-than 720h   # Drop terminal jobs older than 30 days`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		return runJobsPurge(olderThan)
	},
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, cancelled)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")
	jobsPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete terminal jobs older than this duration")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsStatusCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
	JobsCmd.AddCommand(jobsRetryCmd)
	JobsCmd.AddCommand(jobsPurgeCmd)
}

func runJobsLs(statusFilter string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())

	var status *enrich.JobStatus
	if statusFilter != "" {
		if !enrich.IsValidStatus(statusFilter) {
			return fmt.Errorf("invalid status %q", statusFilter)
		}
		s := enrich.JobStatus(statusFilter)
		status = &s
	}

	jobs, err := queue.ListJobs(status, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-11s %-25s %-9s %s\n", "JOB ID", "STATUS", "SESSION", "PROGRESS", "CREATED")
	fmt.Printf("%-36s %-11s %-25s %-9s %s\n", "------", "------", "-------", "--------", "-------")

	for _, job := range jobs {
		name := job.SessionName
		if name == "" {
			name = job.SessionID
		}
		fmt.Printf("%-36s %-11s %-25s %-9s %s\n",
			job.ID,
			job.Status,
			truncate(name, 25),
			fmt.Sprintf("%d%%", job.Progress),
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	job, err := queue.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	fmt.Printf("  Session: %s (%s)\n", job.SessionName, job.SessionID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d%%\n", job.Progress)
	fmt.Printf("  Priority: %d\n", job.Priority)
	fmt.Printf("  Attempts: %d\n", job.Attempts)
	fmt.Printf("  Stages: audio=%v video=%v summary=%v\n",
		job.Options.IncludeAudio, job.Options.IncludeVideo, job.Options.IncludeSummary)
	fmt.Println()

	if job.OptimizedVideoPath != "" {
		fmt.Printf("Optimized video: %s\n", job.OptimizedVideoPath)
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if job.NextAttemptAt != nil {
		fmt.Printf("Next attempt: %s\n", job.NextAttemptAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.StartedAt != nil {
		fmt.Printf("Started: %s\n", job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runJobsCancel(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	if err := queue.Cancel(jobID, "cancelled by user"); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	fmt.Printf("Job %s cancelled\n", jobID)
	return nil
}

func runJobsRetry(jobID string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	job, err := queue.Retry(jobID)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	fmt.Printf("Job %s re-queued (status: %s)\n", job.ID, job.Status)
	return nil
}

func runJobsPurge(olderThan time.Duration) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	purged, err := queue.Purge(olderThan)
	if err != nil {
		return fmt.Errorf("failed to purge jobs: %w", err)
	}

	fmt.Printf("Purged %d terminal job(s) older than %v\n", purged, olderThan)
	return nil
}
