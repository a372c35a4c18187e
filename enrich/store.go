package enrich

import (
	"database/sql"
	"time"

	"github.com/arcform/reverb/errors"
)

// Store handles persistence of enrichment jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new enrichment job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO enrichment_jobs (
			id, session_id, session_name, priority, status, progress,
			include_audio, include_video, include_summary, force_regenerate,
			optimized_video_path, result, error, attempts,
			cancel_requested, next_attempt_at,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	optimizedPath := sql.NullString{String: job.OptimizedVideoPath, Valid: job.OptimizedVideoPath != ""}
	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errorMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}
	nextAttemptAt := sql.NullTime{}
	if job.NextAttemptAt != nil {
		nextAttemptAt = sql.NullTime{Time: *job.NextAttemptAt, Valid: true}
	}
	startedAt := sql.NullTime{}
	if job.StartedAt != nil {
		startedAt = sql.NullTime{Time: *job.StartedAt, Valid: true}
	}
	completedAt := sql.NullTime{}
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	_, err := s.db.Exec(query,
		job.ID,
		job.SessionID,
		job.SessionName,
		job.Priority,
		job.Status,
		job.Progress,
		job.Options.IncludeAudio,
		job.Options.IncludeVideo,
		job.Options.IncludeSummary,
		job.Options.ForceRegenerate,
		optimizedPath,
		result,
		errorMsg,
		job.Attempts,
		job.CancelRequested,
		nextAttemptAt,
		job.CreatedAt,
		startedAt,
		completedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create job"), errors.ErrStorage)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns() + ` FROM enrichment_jobs WHERE id = ?`

	var job Job
	args := newJobScanArgs()
	err := s.db.QueryRow(query, id).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("job not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to get job"), errors.ErrStorage)
	}

	applyJobScanArgs(&job, args)
	return &job, nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE enrichment_jobs
		SET session_name = ?,
		    priority = ?,
		    status = ?,
		    progress = ?,
		    include_audio = ?,
		    include_video = ?,
		    include_summary = ?,
		    force_regenerate = ?,
		    optimized_video_path = ?,
		    result = ?,
		    error = ?,
		    attempts = ?,
		    cancel_requested = ?,
		    next_attempt_at = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	optimizedPath := sql.NullString{String: job.OptimizedVideoPath, Valid: job.OptimizedVideoPath != ""}
	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errorMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}
	nextAttemptAt := sql.NullTime{}
	if job.NextAttemptAt != nil {
		nextAttemptAt = sql.NullTime{Time: *job.NextAttemptAt, Valid: true}
	}
	startedAt := sql.NullTime{}
	if job.StartedAt != nil {
		startedAt = sql.NullTime{Time: *job.StartedAt, Valid: true}
	}
	completedAt := sql.NullTime{}
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	res, err := s.db.Exec(query,
		job.SessionName,
		job.Priority,
		job.Status,
		job.Progress,
		job.Options.IncludeAudio,
		job.Options.IncludeVideo,
		job.Options.IncludeSummary,
		job.Options.ForceRegenerate,
		optimizedPath,
		result,
		errorMsg,
		job.Attempts,
		job.CancelRequested,
		nextAttemptAt,
		startedAt,
		completedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to update job"), errors.ErrStorage)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to get rows affected"), errors.ErrStorage)
	}
	if rows == 0 {
		return errors.Mark(errors.Newf("job not found: %s", job.ID), errors.ErrNotFound)
	}

	return nil
}

// ListJobs returns jobs, optionally filtered by status, newest first
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + jobSelectColumns() + ` FROM enrichment_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list jobs"), errors.ErrStorage)
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListJobsBySession returns all jobs for a session, newest first
func (s *Store) ListJobsBySession(sessionID string) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM enrichment_jobs
		WHERE session_id = ?
		ORDER BY created_at DESC`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list jobs by session"), errors.ErrStorage)
	}
	defer rows.Close()

	return scanJobs(rows, "session jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJobFromRows(rows, &job); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to scan job"), errors.ErrStorage)
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "error iterating %s", context), errors.ErrStorage)
	}

	return jobs, nil
}

// CountByStatus returns job counts keyed by status in a single query
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to count jobs by status"), errors.ErrStorage)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to scan status count"), errors.ErrStorage)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "error iterating status counts"), errors.ErrStorage)
	}

	return counts, nil
}

// FindActiveJobBySession finds a pending or processing job for a session.
// Returns nil if the session has no active job.
func (s *Store) FindActiveJobBySession(sessionID string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM enrichment_jobs
		WHERE session_id = ?
		  AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1`

	var job Job
	args := newJobScanArgs()
	err := s.db.QueryRow(query, sessionID).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No active job - this is not an error
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to find active job by session"), errors.ErrStorage)
	}

	applyJobScanArgs(&job, args)
	return &job, nil
}

// ClaimNextPending atomically claims the next claimable pending job and marks
// it processing. Higher priority first, then oldest first; jobs whose backoff
// delay has not elapsed are skipped. Returns nil when nothing is claimable.
//
// The claim is a compare-and-swap: a candidate is selected, then updated only
// if still pending. A lost race moves on to the next candidate.
func (s *Store) ClaimNextPending() (*Job, error) {
	for {
		query := `SELECT ` + jobSelectColumns() + `
			FROM enrichment_jobs
			WHERE status = 'pending'
			  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1`

		var job Job
		args := newJobScanArgs()
		err := s.db.QueryRow(query, time.Now()).Scan(jobScanTargets(&job, args)...)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Nothing claimable
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to select pending job"), errors.ErrStorage)
		}
		applyJobScanArgs(&job, args)

		job.Start()

		res, err := s.db.Exec(`
			UPDATE enrichment_jobs
			SET status = ?, attempts = ?, started_at = ?, next_attempt_at = NULL, updated_at = ?
			WHERE id = ? AND status = 'pending'`,
			job.Status, job.Attempts, job.StartedAt, job.UpdatedAt, job.ID,
		)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to claim job"), errors.ErrStorage)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to get rows affected"), errors.ErrStorage)
		}
		if rows == 0 {
			continue // Lost the race to another worker, try the next candidate
		}

		return &job, nil
	}
}

// ResetInterruptedJobs moves jobs left in processing by a crashed or killed
// process back to pending so workers can pick them up again. Returns the
// number of jobs reset.
func (s *Store) ResetInterruptedJobs() (int, error) {
	res, err := s.db.Exec(`
		UPDATE enrichment_jobs
		SET status = 'pending', progress = 0, started_at = NULL, updated_at = ?
		WHERE status = 'processing'`,
		time.Now(),
	)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to reset interrupted jobs"), errors.ErrStorage)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to get rows affected"), errors.ErrStorage)
	}

	return int(rows), nil
}

// RequestCancel flags a processing job for cooperative cancellation.
// Workers observe the flag between stages and stop the job.
func (s *Store) RequestCancel(id string) error {
	res, err := s.db.Exec(`
		UPDATE enrichment_jobs
		SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		time.Now(), id,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to request cancel"), errors.ErrStorage)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to get rows affected"), errors.ErrStorage)
	}
	if rows == 0 {
		return errors.Mark(errors.Newf("no processing job to cancel: %s", id), errors.ErrNotFound)
	}

	return nil
}

// IsCancelRequested reads the cancel flag for a job
func (s *Store) IsCancelRequested(id string) (bool, error) {
	var requested bool
	err := s.db.QueryRow(`SELECT cancel_requested FROM enrichment_jobs WHERE id = ?`, id).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errors.Mark(errors.Newf("job not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return false, errors.Mark(errors.Wrap(err, "failed to read cancel flag"), errors.ErrStorage)
	}
	return requested, nil
}

// PurgeTerminalJobsOlderThan removes completed, failed, and cancelled jobs
// whose last update is older than the cutoff. Returns the number removed.
func (s *Store) PurgeTerminalJobsOlderThan(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	res, err := s.db.Exec(`
		DELETE FROM enrichment_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to purge terminal jobs"), errors.ErrStorage)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to get rows affected"), errors.ErrStorage)
	}

	return int(rows), nil
}
