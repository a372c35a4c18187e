package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the reverb database",
	Long: `Manage reverb database operations.

Examples:
  reverb db stats   # Show session and job statistics`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display session counts and job queue composition by status",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	sessionCount, err := session.NewStore(database).CountSessions()
	if err != nil {
		return errors.Wrap(err, "failed to count sessions")
	}

	queue := enrich.NewQueue(database, enrich.DefaultRetryPolicy())
	summary, err := queue.GetStatusSummary()
	if err != nil {
		return errors.Wrap(err, "failed to summarize jobs")
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path: %s\n", cfg.Database.Path)
	fmt.Printf("Sessions:      %d\n", sessionCount)
	fmt.Println()
	fmt.Printf("Jobs:          %d\n", summary.Total)
	fmt.Printf("  Pending:     %d\n", summary.Pending)
	fmt.Printf("  Processing:  %d\n", summary.Processing)
	fmt.Printf("  Completed:   %d\n", summary.Completed)
	fmt.Printf("  Failed:      %d\n", summary.Failed)
	fmt.Printf("  Cancelled:   %d\n", summary.Cancelled)

	return nil
}
