package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// SessionsCmd groups recording session commands
var SessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions and enqueue enrichment",
	Long: `List recording sessions and enqueue enrichment jobs.

Session commands:
  reverb sessions ls                # List sessions
  reverb sessions ls --search foo   # Search by name, notes, transcript
  reverb sessions enqueue <id>      # Enqueue enrichment for a session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recording sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")
		return runSessionsLs(search, limit)
	},
}

var sessionsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <session-id>",
	Short: "Enqueue an enrichment job for a session",
	Long: `Create a pending enrichment job for a session.

The job is written to the shared database; a running daemon picks it up
on its next poll. A session with an active (pending or processing) job
is not enqueued twice unless --force is given, which supersedes the
active job.

Examples:
  reverb sessions enqueue abc123              # Audio + summary (defaults)
  reverb sessions enqueue abc123 --video      # Also merge screen recording
  reverb sessions enqueue abc123 --high       # Claimed before normal jobs
  reverb sessions enqueue abc123 --force      # Regenerate even if one is active`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		high, _ := cmd.Flags().GetBool("high")
		video, _ := cmd.Flags().GetBool("video")
		noAudio, _ := cmd.Flags().GetBool("no-audio")
		noSummary, _ := cmd.Flags().GetBool("no-summary")
		force, _ := cmd.Flags().GetBool("force")

		opts := enrich.DefaultOptions()
		opts.IncludeAudio = !noAudio
		opts.IncludeVideo = video
		opts.IncludeSummary = !noSummary
		opts.ForceRegenerate = force

		priority := enrich.PriorityNormal
		if high {
			priority = enrich.PriorityHigh
		}

		return runSessionsEnqueue(args[0], priority, opts)
	},
}

func init() {
	sessionsLsCmd.Flags().String("search", "", "Filter by name, notes, or transcript")
	sessionsLsCmd.Flags().Int("limit", 20, "Maximum number of sessions to display")

	sessionsEnqueueCmd.Flags().Bool("high", false, "Enqueue at high priority")
	sessionsEnqueueCmd.Flags().Bool("video", false, "Merge the screen recording into the optimized artifact")
	sessionsEnqueueCmd.Flags().Bool("no-audio", false, "Skip audio processing")
	sessionsEnqueueCmd.Flags().Bool("no-summary", false, "Skip AI summary generation")
	sessionsEnqueueCmd.Flags().Bool("force", false, "Regenerate even if the session has an active job")

	SessionsCmd.AddCommand(sessionsLsCmd)
	SessionsCmd.AddCommand(sessionsEnqueueCmd)
}

func runSessionsLs(search string, limit int) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := session.NewStore(database)

	var summaries []session.Summary
	if search != "" {
		summaries, err = store.SearchSessions(search, limit)
	} else {
		summaries, err = store.ListSummaries(limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-36s %-25s %-8s %-6s %-9s %s\n", "SESSION ID", "NAME", "AUDIO", "VIDEO", "ENRICHED", "STARTED")
	fmt.Printf("%-36s %-25s %-8s %-6s %-9s %s\n", "----------", "----", "-----", "-----", "--------", "-------")

	for _, s := range summaries {
		fmt.Printf("%-36s %-25s %-8d %-6v %-9v %s\n",
			s.ID,
			truncate(s.Name, 25),
			s.AudioSegmentCount,
			s.HasVideo,
			s.HasSummary,
			s.StartedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d session(s)\n", len(summaries))
	return nil
}

func runSessionsEnqueue(sessionID string, priority enrich.Priority, opts enrich.Options) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	store := session.NewStore(database)
	sess, err := store.LoadFullSession(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	job, err := enrich.NewJob(sess.ID, sess.Name, priority, opts)
	if err != nil {
		return err
	}

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	enqueued, err := queue.Enqueue(job)
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateActiveJob) {
			fmt.Printf("Session already has an active job: %s (status: %s)\n",
				enqueued.ID, enqueued.Status)
			fmt.Println("Use --force to supersede it")
			return nil
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	fmt.Printf("Enqueued job %s for session %q\n", enqueued.ID, sess.Name)
	fmt.Printf("  Priority: %d\n", enqueued.Priority)
	fmt.Printf("  Stages: audio=%v video=%v summary=%v\n",
		opts.IncludeAudio, opts.IncludeVideo, opts.IncludeSummary)
	return nil
}
