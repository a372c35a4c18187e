package enrich

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arcform/reverb/errors"
)

const (
	// MaxJobsLimit is the maximum number of jobs returned by unbounded listings
	MaxJobsLimit = 10000
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// RetryPolicy bounds how failed jobs are retried
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries twice after the first failure, backing off
// exponentially from 2s up to a 30s cap
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff delay before the given attempt number retries.
// Attempt 1 waits BaseDelay, each further attempt doubles, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Queue is the durable enrichment job queue. All mutations go through the
// store; the queue adds deduplication, retry policy, and update fan-out.
type Queue struct {
	store       *Store
	retry       RetryPolicy
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates
}

// NewQueue creates a new enrichment queue over the given database
func NewQueue(db *sql.DB, retry RetryPolicy) *Queue {
	return &Queue{
		store:       NewStore(db),
		retry:       retry,
		subscribers: make([]chan *Job, 0),
	}
}

// Store exposes the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job for a session. At most one active job may exist per
// session: if one is already pending or processing it is returned unchanged,
// unless the new job forces regeneration, in which case the active job is
// cancelled and the new one enqueued.
func (q *Queue) Enqueue(job *Job) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.store.FindActiveJobBySession(job.SessionID)
	if err != nil {
		err = errors.Wrap(err, "failed to check for active job")
		err = errors.WithDetail(err, fmt.Sprintf("Session ID: %s", job.SessionID))
		return nil, err
	}

	if existing != nil {
		if !job.Options.ForceRegenerate {
			return existing, errors.Mark(
				errors.Newf("session %s already has an active enrichment job %s", job.SessionID, existing.ID),
				errors.ErrDuplicateActiveJob,
			)
		}

		existing.Cancel("superseded by forced regeneration")
		if err := q.store.UpdateJob(existing); err != nil {
			err = errors.Wrap(err, "failed to cancel superseded job")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", existing.ID))
			return nil, err
		}
		q.notifySubscribers(existing)
	}

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Session ID: %s", job.SessionID))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// ClaimNext claims the next runnable pending job for a worker.
// Returns nil when the queue has nothing claimable.
func (q *Queue) ClaimNext() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.ClaimNextPending()
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim next job")
	}
	if job == nil {
		return nil, nil
	}

	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.GetJob(id)
}

// ListJobs returns jobs, optionally filtered by status
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.ListJobs(status, limit)
}

// UpdateProgress advances a job's progress. Progress is monotonic within an
// attempt; stale updates are dropped silently.
func (q *Queue) UpdateProgress(id string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to update progress for job %s", id)
		return err
	}

	if job.Status != JobStatusProcessing {
		return nil // Job moved on, progress no longer applies
	}
	if progress <= job.Progress {
		return nil
	}

	job.SetProgress(progress)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to persist progress")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Progress: %d", progress))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// RecordMediaArtifact stores the media stage output on a job from a fresh
// read, so flags written while the stage ran (cancel requests, progress) are
// preserved. Terminal jobs and repeated hand-offs are no-ops.
func (q *Queue) RecordMediaArtifact(id, path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to record media artifact for job %s", id)
	}

	if job.Status.IsTerminal() {
		return nil
	}
	if job.OptimizedVideoPath == path {
		return nil
	}

	job.OptimizedVideoPath = path
	job.SetProgress(mediaProgressEnd)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to persist media artifact")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Complete marks a job as completed with its enrichment result
func (q *Queue) Complete(id string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to complete job %s", id)
		return err
	}

	job.Complete(result)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to mark job as completed")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Session ID: %s", job.SessionID))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Fail records a stage failure. Transient failures requeue the job with
// exponential backoff until the attempt budget runs out; terminal failures
// and exhausted budgets fail the job permanently.
func (q *Queue) Fail(id string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to mark job %s as failed", id)
		return err
	}

	transient := errors.Is(jobErr, errors.ErrTransientStage)
	if transient && job.Attempts < q.retry.MaxAttempts {
		job.Requeue(jobErr, q.retry.Delay(job.Attempts))
	} else {
		job.Fail(jobErr)
	}

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to record job failure")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Session ID: %s", job.SessionID))
		err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", jobErr.Error()))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Cancel cancels a job. Pending jobs cancel immediately; processing jobs get
// the cancel flag set and stop cooperatively at the next stage boundary.
// Terminal jobs are left untouched.
func (q *Queue) Cancel(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		err = errors.Wrapf(err, "failed to cancel job %s", id)
		return err
	}

	switch job.Status {
	case JobStatusPending:
		job.Cancel(reason)
		if err := q.store.UpdateJob(job); err != nil {
			err = errors.Wrap(err, "failed to cancel pending job")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
			return err
		}
		q.notifySubscribers(job)
		return nil

	case JobStatusProcessing:
		if err := q.store.RequestCancel(id); err != nil {
			return errors.Wrapf(err, "failed to request cancel for job %s", id)
		}
		return nil

	default:
		return errors.Newf("job %s is already %s", id, job.Status)
	}
}

// CancelFromWorker moves a processing job to cancelled once its worker has
// observed the cancel flag and stopped
func (q *Queue) CancelFromWorker(id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return errors.Wrapf(err, "failed to finalize cancel for job %s", id)
	}

	job.Cancel(reason)

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to finalize cancelled job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return err
	}

	q.notifySubscribers(job)
	return nil
}

// Retry puts a failed or cancelled job back to pending with a fresh attempt
// budget
func (q *Queue) Retry(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to retry job %s", id)
	}

	if job.Status != JobStatusFailed && job.Status != JobStatusCancelled {
		err := errors.Newf("job %s cannot be retried (status: %s)", id, job.Status)
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", id))
		err = errors.WithDetail(err, fmt.Sprintf("Current status: %s", job.Status))
		return nil, err
	}

	job.ResetForRetry()

	if err := q.store.UpdateJob(job); err != nil {
		err = errors.Wrap(err, "failed to requeue job for retry")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// StatusSummary is a snapshot of queue composition by status
type StatusSummary struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// GetStatusSummary returns queue composition counts in a single query
func (q *Queue) GetStatusSummary() (*StatusSummary, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts, err := q.store.CountByStatus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get status summary")
	}

	summary := &StatusSummary{
		Pending:    counts[JobStatusPending],
		Processing: counts[JobStatusProcessing],
		Completed:  counts[JobStatusCompleted],
		Failed:     counts[JobStatusFailed],
		Cancelled:  counts[JobStatusCancelled],
	}
	summary.Total = summary.Pending + summary.Processing +
		summary.Completed + summary.Failed + summary.Cancelled

	return summary, nil
}

// FindActiveJobBySession finds the pending or processing job for a session,
// or nil when the session has none
func (q *Queue) FindActiveJobBySession(sessionID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return q.store.FindActiveJobBySession(sessionID)
}

// ResetInterruptedJobs recovers jobs orphaned in processing by a crash
func (q *Queue) ResetInterruptedJobs() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.ResetInterruptedJobs()
}

// Purge removes terminal jobs older than the cutoff
func (q *Queue) Purge(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.PurgeTerminalJobsOlderThan(olderThan)
}

// Subscribe returns a channel that receives job updates.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method - callers should close it
// themselves after unsubscribing if needed. This prevents double-close panics.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers.
// REQUIRES: q.mu must be held by caller (either Lock or RLock).
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (q *Queue) notifySubscribers(job *Job) {
	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
