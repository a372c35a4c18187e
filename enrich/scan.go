package enrich

import (
	"database/sql"
)

// jobScanArgs holds the nullable columns of an enrichment job row
type jobScanArgs struct {
	SessionName        sql.NullString
	OptimizedVideoPath sql.NullString
	Result             sql.NullString
	ErrorMsg           sql.NullString
	NextAttemptAt      sql.NullTime
	StartedAt          sql.NullTime
	CompletedAt        sql.NullTime
}

func newJobScanArgs() *jobScanArgs {
	return &jobScanArgs{}
}

// jobScanTargets returns scan destinations in the order of jobSelectColumns
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.SessionID,
		&args.SessionName,
		&job.Priority,
		&job.Status,
		&job.Progress,
		&job.Options.IncludeAudio,
		&job.Options.IncludeVideo,
		&job.Options.IncludeSummary,
		&job.Options.ForceRegenerate,
		&args.OptimizedVideoPath,
		&args.Result,
		&args.ErrorMsg,
		&job.Attempts,
		&job.CancelRequested,
		&args.NextAttemptAt,
		&job.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&job.UpdatedAt,
	}
}

// applyJobScanArgs populates the job from scanned nullable columns
func applyJobScanArgs(job *Job, args *jobScanArgs) {
	if args.SessionName.Valid {
		job.SessionName = args.SessionName.String
	}
	if args.OptimizedVideoPath.Valid {
		job.OptimizedVideoPath = args.OptimizedVideoPath.String
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.NextAttemptAt.Valid {
		job.NextAttemptAt = &args.NextAttemptAt.Time
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
}

// scanJobFromRows scans a single job from sql.Rows (for use in loops)
func scanJobFromRows(rows *sql.Rows, job *Job) error {
	args := newJobScanArgs()
	if err := rows.Scan(jobScanTargets(job, args)...); err != nil {
		return err
	}
	applyJobScanArgs(job, args)
	return nil
}

// jobSelectColumns returns the standard column list for job SELECT queries
func jobSelectColumns() string {
	return `id, session_id, session_name, priority, status, progress,
		include_audio, include_video, include_summary, force_regenerate,
		optimized_video_path, result, error, attempts,
		cancel_requested, next_attempt_at,
		created_at, started_at, completed_at, updated_at`
}
