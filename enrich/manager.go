package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// MediaStage optimizes a session's raw recordings into a single artifact.
// Progress callbacks report 0-100 within the stage.
type MediaStage interface {
	Process(ctx context.Context, sess *session.Session, job *Job, progress func(int)) (*session.OptimizedVideo, error)
}

// EnrichmentStage generates AI-derived insight for a session.
// Progress callbacks report 0-100 within the stage.
type EnrichmentStage interface {
	Enrich(ctx context.Context, sess *session.Session, job *Job, progress func(int)) (json.RawMessage, error)
}

// ManagerConfig contains configuration for the enrichment manager
type ManagerConfig struct {
	Workers      int           `json:"workers"`       // 0 sizes from available memory
	PollInterval time.Duration `json:"poll_interval"` // How often idle workers check for jobs
	Retry        RetryPolicy   `json:"retry"`

	// Per-stage execution bounds. 0 leaves a stage unbounded.
	MediaTimeout  time.Duration `json:"media_timeout"`
	EnrichTimeout time.Duration `json:"enrich_timeout"`
}

// DefaultManagerConfig returns sensible defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Workers:       2,
		PollInterval:  time.Second,
		Retry:         DefaultRetryPolicy(),
		MediaTimeout:  10 * time.Minute,
		EnrichTimeout: 5 * time.Minute,
	}
}

// Manager is the single entry point to the enrichment pipeline. It owns the
// queue, the worker pool, and the two processing stages, and survives process
// restarts by re-queuing jobs interrupted mid-flight.
type Manager struct {
	queue    *Queue
	sessions *session.Store
	media    MediaStage
	enricher EnrichmentStage
	config   ManagerConfig

	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	log           *zap.SugaredLogger
	initialized   bool
	activeWorkers int
	mu            sync.Mutex
}

// NewManager creates an enrichment manager. Call Initialize before use.
func NewManager(db *sql.DB, media MediaStage, enricher EnrichmentStage, cfg ManagerConfig, logger *zap.SugaredLogger) *Manager {
	return NewManagerWithContext(context.Background(), db, media, enricher, cfg, logger)
}

// NewManagerWithContext creates a manager whose workers derive from the given
// parent context. Cancelling the parent shuts the workers down.
func NewManagerWithContext(parent context.Context, db *sql.DB, media MediaStage, enricher EnrichmentStage, cfg ManagerConfig, logger *zap.SugaredLogger) *Manager {
	workers := cfg.Workers
	if workers <= 0 {
		_, available, err := getMemoryStats()
		if err != nil {
			workers = 1
		} else {
			workers = calculateSafeWorkerCount(float64(available) / 1024 / 1024 / 1024)
		}
	}

	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		queue:     NewQueue(db, cfg.Retry),
		sessions:  session.NewStore(db),
		media:     media,
		enricher:  enricher,
		config:    cfg,
		workers:   workers,
		parentCtx: parent,
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.Named("enrich"),
	}
}

// Initialize recovers jobs interrupted by a previous crash and starts the
// worker pool. Idempotent: calling it on an initialized manager is a no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Recreate worker context if a previous Shutdown cancelled it
	select {
	case <-m.ctx.Done():
		m.ctx, m.cancel = context.WithCancel(m.parentCtx)
	default:
	}

	reset, err := m.queue.ResetInterruptedJobs()
	if err != nil {
		return errors.Wrap(err, "failed to recover interrupted jobs")
	}
	if reset > 0 {
		m.log.Infow("Recovered jobs interrupted by previous shutdown",
			"count", reset)
	}

	if warning := m.checkMemoryPressure(); warning != "" {
		m.log.Warnw("Memory pressure warning",
			"warning", warning,
			"workers", m.workers)
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.initialized = true
	m.log.Infow("Enrichment manager initialized",
		"workers", m.workers,
		"poll_interval", m.config.PollInterval)

	return nil
}

// IsInitialized reports whether the worker pool is running
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Shutdown stops the worker pool. In-flight jobs are re-queued as pending so
// the next Initialize picks them up. Waits up to 30 seconds for workers to
// observe cancellation before returning.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		m.log.Infow("Enrichment manager shut down cleanly")
	case <-time.After(timeout):
		m.log.Warnw("Shutdown timeout - workers may still be finishing",
			"timeout", timeout)
	}
}

// GetQueue returns the underlying job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// EnqueueSession creates and enqueues an enrichment job for a session.
// Deduplication and forced regeneration follow queue semantics.
func (m *Manager) EnqueueSession(sessionID string, priority Priority, opts Options) (*Job, error) {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()
	if !initialized {
		return nil, errors.Mark(errors.New("enrichment manager is not initialized"), errors.ErrShuttingDown)
	}

	// Enqueue stays cheap: only the name is read here; the worker loads the
	// full session at processing time and terminal-fails if it is gone
	name, err := m.sessions.GetName(sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load session %s", sessionID)
	}

	job, err := NewJob(sessionID, name, priority, opts)
	if err != nil {
		return nil, err
	}

	enqueued, err := m.queue.Enqueue(job)
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateActiveJob) {
			m.log.Infow("Session already has an active enrichment job",
				"session_id", sessionID,
				"job_id", enqueued.ID)
			return enqueued, err
		}
		return nil, err
	}

	m.log.Infow("Enqueued enrichment job",
		"job_id", enqueued.ID,
		"session_id", sessionID,
		"priority", priority)

	return enqueued, nil
}

// MarkMediaProcessingComplete records an externally produced optimized video
// for a job. The recorder sometimes finishes optimization on its own; this
// hand-off lets the job skip the media stage. Idempotent: repeating the call
// with the same path is a no-op, and terminal jobs ignore it.
func (m *Manager) MarkMediaProcessingComplete(jobID, optimizedPath string) error {
	job, err := m.queue.GetJob(jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to load job %s", jobID)
	}

	if job.Status.IsTerminal() {
		return nil
	}
	if job.OptimizedVideoPath == optimizedPath {
		return nil
	}

	if err := m.queue.RecordMediaArtifact(jobID, optimizedPath); err != nil {
		return errors.Wrapf(err, "failed to record media completion for job %s", jobID)
	}

	if err := m.sessions.UpdateVideoMetadata(job.SessionID, &session.OptimizedVideo{Path: optimizedPath}); err != nil {
		m.log.Warnw("Failed to update session video metadata",
			"session_id", job.SessionID,
			"error", err)
	}

	m.log.Infow("Media processing completed out of band",
		"job_id", jobID,
		"optimized_path", optimizedPath)

	return nil
}

// MarkSessionMediaComplete records an externally produced optimized video for
// a session's active job. The recorder addresses sessions, not jobs; this
// resolves the active job and hands off through MarkMediaProcessingComplete.
func (m *Manager) MarkSessionMediaComplete(sessionID, optimizedPath string) error {
	job, err := m.queue.FindActiveJobBySession(sessionID)
	if err != nil {
		return errors.Wrapf(err, "failed to find active job for session %s", sessionID)
	}
	if job == nil {
		return errors.Mark(
			errors.Newf("no active enrichment job for session %s", sessionID),
			errors.ErrNotFound)
	}
	return m.MarkMediaProcessingComplete(job.ID, optimizedPath)
}

// GetQueueStatus returns the queue composition by status
func (m *Manager) GetQueueStatus() (*StatusSummary, error) {
	return m.queue.GetStatusSummary()
}

// CancelJob cancels a job by ID
func (m *Manager) CancelJob(jobID string) error {
	return m.queue.Cancel(jobID, "cancelled by user")
}

// RetryJob requeues a failed or cancelled job with a fresh attempt budget
func (m *Manager) RetryJob(jobID string) (*Job, error) {
	return m.queue.Retry(jobID)
}

// worker polls the queue for claimable jobs and runs them
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.processNextJob(); err != nil {
				select {
				case <-m.ctx.Done():
					return // Shutting down, exit silently
				default:
				}
				if errors.Is(err, sql.ErrConnDone) {
					return // Database closed during shutdown
				}

				errorCount++
				m.log.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					m.log.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					time.Sleep(backoffDuration)
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					m.log.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}
		}
	}
}

// processNextJob claims and runs one job, if any is claimable
func (m *Manager) processNextJob() error {
	select {
	case <-m.ctx.Done():
		return nil // Graceful shutdown - don't claim new jobs
	default:
	}

	job, err := m.queue.ClaimNext()
	if err != nil {
		return errors.Wrap(err, "failed to claim job")
	}
	if job == nil {
		return nil // Nothing claimable
	}

	m.mu.Lock()
	m.activeWorkers++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.activeWorkers--
		m.mu.Unlock()
	}()

	return m.runJob(job)
}

// runJob executes both stages of a claimed job. Cancellation is checked at
// stage boundaries; shutdown re-queues the job with its state intact.
func (m *Manager) runJob(job *Job) error {
	log := m.log.With("job_id", job.ID, "session_id", job.SessionID)
	emitter := NewProgressEmitter(job.ID, m.queue, m.log)

	sess, err := m.sessions.LoadFullSession(job.SessionID)
	if err != nil {
		return m.queue.Fail(job.ID, errors.Terminal(errors.Wrap(err, "session load failed")))
	}

	if stopped, err := m.checkCancelled(job.ID); stopped || err != nil {
		return err
	}

	// Media stage, unless an out-of-band hand-off already supplied the artifact
	needsMedia := (job.Options.IncludeAudio || job.Options.IncludeVideo) && job.OptimizedVideoPath == ""
	if needsMedia {
		log.Infow("Starting media processing stage")

		mediaCtx, cancelMedia := m.stageContext(m.config.MediaTimeout)
		artifact, err := m.media.Process(mediaCtx, sess, job, emitter.EmitMedia)
		cancelMedia()
		if err != nil {
			return m.handleStageError(job, "media", err)
		}

		// Partial update from a fresh read; a cancel flag set while the
		// stage ran must survive to the checkpoint below
		if err := m.queue.RecordMediaArtifact(job.ID, artifact.Path); err != nil {
			return m.handleStageError(job, "media", err)
		}
		if err := m.sessions.UpdateVideoMetadata(job.SessionID, artifact); err != nil {
			log.Warnw("Failed to update session video metadata", "error", err)
		}
		emitter.EmitMediaComplete()

		log.Infow("Media processing stage complete",
			"optimized_path", artifact.Path,
			"compression_ratio", artifact.CompressionRatio)
	} else {
		emitter.EmitMediaComplete()
	}

	if stopped, err := m.checkCancelled(job.ID); stopped || err != nil {
		return err
	}

	// Enrichment stage
	var result json.RawMessage
	if job.Options.IncludeSummary {
		log.Infow("Starting enrichment stage")

		// Re-load so the enricher sees media stage output
		sess, err = m.sessions.LoadFullSession(job.SessionID)
		if err != nil {
			return m.handleStageError(job, "enrichment", err)
		}

		enrichCtx, cancelEnrich := m.stageContext(m.config.EnrichTimeout)
		result, err = m.enricher.Enrich(enrichCtx, sess, job, emitter.EmitEnrichment)
		cancelEnrich()
		if err != nil {
			return m.handleStageError(job, "enrichment", err)
		}

		var enrichment struct {
			Summary       json.RawMessage `json:"summary"`
			AudioInsights json.RawMessage `json:"audio_insights"`
		}
		if err := json.Unmarshal(result, &enrichment); err == nil {
			if err := m.sessions.UpdateEnrichment(job.SessionID, string(enrichment.Summary), string(enrichment.AudioInsights)); err != nil {
				log.Warnw("Failed to update session enrichment", "error", err)
			}
		}

		log.Infow("Enrichment stage complete")
	}

	return m.queue.Complete(job.ID, result)
}

// stageContext bounds a stage run. Derives from the worker context so
// shutdown still cancels mid-stage work.
func (m *Manager) stageContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(m.ctx)
	}
	return context.WithTimeout(m.ctx, timeout)
}

// checkCancelled finalizes the job as cancelled if the cancel flag is set.
// Returns stopped=true when the job should not continue.
func (m *Manager) checkCancelled(jobID string) (stopped bool, err error) {
	requested, err := m.queue.Store().IsCancelRequested(jobID)
	if err != nil {
		return true, errors.Wrapf(err, "failed to check cancel flag for job %s", jobID)
	}
	if !requested {
		return false, nil
	}
	return true, m.queue.CancelFromWorker(jobID, "cancelled by user")
}

// handleStageError routes a stage failure: shutdown re-queues the job for the
// next run, anything else goes through error classification and retry policy.
func (m *Manager) handleStageError(job *Job, stage string, stageErr error) error {
	select {
	case <-m.ctx.Done():
		m.log.Infow("Job interrupted by shutdown, re-queuing",
			"job_id", job.ID,
			"stage", stage)
		job.Status = JobStatusPending
		job.Progress = 0
		job.StartedAt = nil
		job.UpdatedAt = time.Now()
		job.Attempts-- // Shutdown is not a failed attempt
		if job.Attempts < 0 {
			job.Attempts = 0
		}
		if err := m.queue.Store().UpdateJob(job); err != nil {
			m.log.Errorw("Failed to re-queue interrupted job",
				"job_id", job.ID,
				"error", err)
		}
		return nil
	default:
	}

	classified := ClassifyStageError(stage, stageErr)
	m.log.Errorw("Stage failed",
		"job_id", job.ID,
		"stage", stage,
		"attempt", job.Attempts,
		"transient", errors.Is(classified, errors.ErrTransientStage),
		"error", stageErr)

	return m.queue.Fail(job.ID, classified)
}
