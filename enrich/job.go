// Package enrich provides the background enrichment pipeline for recording
// sessions: a durable SQLite-backed job queue, a worker pool, and the media
// and AI stages each job runs through.
package enrich

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/arcform/reverb/errors"
)

// JobStatus represents the current state of an enrichment job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses a job never leaves on its own
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Priority orders claimable jobs; higher claims first
type Priority int

const (
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 10
)

// Options controls which stages an enrichment job runs
type Options struct {
	IncludeAudio    bool `json:"include_audio"`
	IncludeVideo    bool `json:"include_video"`
	IncludeSummary  bool `json:"include_summary"`
	ForceRegenerate bool `json:"force_regenerate"`
}

// DefaultOptions enables audio processing and summary generation
func DefaultOptions() Options {
	return Options{
		IncludeAudio:   true,
		IncludeSummary: true,
	}
}

// Job represents one enrichment run for a recording session.
//
// Progress is a single 0-100 figure across both stages: media processing
// owns 0-50, AI enrichment owns 50-100. Jobs are never deleted on
// completion; terminal rows stay as history until purged explicitly.
type Job struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Options     Options   `json:"options"`

	// Media stage output, handed to the enrichment stage
	OptimizedVideoPath string `json:"optimized_video_path,omitempty"`

	// Enrichment stage output as raw JSON
	Result json.RawMessage `json:"result,omitempty"`

	Error           string     `json:"error,omitempty"`
	Attempts        int        `json:"attempts,omitempty"`
	CancelRequested bool       `json:"cancel_requested,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates a pending enrichment job for a session
func NewJob(sessionID, sessionName string, priority Priority, opts Options) (*Job, error) {
	if sessionID == "" {
		return nil, errors.New("sessionID cannot be empty")
	}

	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		SessionName: sessionName,
		Priority:    priority,
		Status:      JobStatusPending,
		Options:     opts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as processing and counts the attempt
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.Attempts++
	j.StartedAt = &now
	j.NextAttemptAt = nil
	j.UpdatedAt = now
}

// Complete marks the job as completed with its enrichment result
func (j *Job) Complete(result json.RawMessage) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as terminally failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Requeue puts the job back to pending for another attempt after the delay.
// Progress restarts at 0 so the next attempt's early updates are not dropped
// by the monotonic guard.
func (j *Job) Requeue(err error, retryAfter time.Duration) {
	now := time.Now()
	next := now.Add(retryAfter)
	j.Status = JobStatusPending
	j.Progress = 0
	j.Error = err.Error()
	j.NextAttemptAt = &next
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// SetProgress advances the job's overall progress. Progress never moves
// backwards within an attempt.
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.UpdatedAt = time.Now()
}

// ResetForRetry clears per-attempt state so a retry starts clean
func (j *Job) ResetForRetry() {
	now := time.Now()
	j.Status = JobStatusPending
	j.Progress = 0
	j.Error = ""
	j.Attempts = 0
	j.CancelRequested = false
	j.NextAttemptAt = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.UpdatedAt = now
}
