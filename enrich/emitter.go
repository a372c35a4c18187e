package enrich

import (
	"go.uber.org/zap"
)

// Overall progress bands per stage. Media processing owns the first half,
// enrichment the second; a job with no video still follows the same bands.
const (
	mediaProgressStart  = 0
	mediaProgressEnd    = 50
	enrichProgressStart = 50
	enrichProgressEnd   = 100
)

// ProgressEmitter maps per-stage progress (0-100 within the stage) onto the
// job's overall 0-100 progress and persists it through the queue.
type ProgressEmitter struct {
	jobID string
	queue *Queue
	log   *zap.SugaredLogger
}

// NewProgressEmitter creates a progress emitter for a job
func NewProgressEmitter(jobID string, queue *Queue, baseLogger *zap.SugaredLogger) *ProgressEmitter {
	return &ProgressEmitter{
		jobID: jobID,
		queue: queue,
		log:   baseLogger.With("job_id", jobID),
	}
}

// EmitMedia reports media stage progress (0-100 within the stage)
func (e *ProgressEmitter) EmitMedia(stagePercent int) {
	e.emit(mapStageProgress(stagePercent, mediaProgressStart, mediaProgressEnd))
}

// EmitEnrichment reports enrichment stage progress (0-100 within the stage)
func (e *ProgressEmitter) EmitEnrichment(stagePercent int) {
	e.emit(mapStageProgress(stagePercent, enrichProgressStart, enrichProgressEnd))
}

// EmitMediaComplete pins progress at the stage boundary
func (e *ProgressEmitter) EmitMediaComplete() {
	e.emit(mediaProgressEnd)
}

func (e *ProgressEmitter) emit(overall int) {
	if err := e.queue.UpdateProgress(e.jobID, overall); err != nil {
		e.log.Warnw("Failed to persist job progress",
			"progress", overall,
			"error", err)
	}
}

// mapStageProgress converts stage-local progress to the overall band
func mapStageProgress(stagePercent, bandStart, bandEnd int) int {
	if stagePercent < 0 {
		stagePercent = 0
	}
	if stagePercent > 100 {
		stagePercent = 100
	}
	return bandStart + stagePercent*(bandEnd-bandStart)/100
}
