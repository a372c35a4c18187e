// Package session defines recording sessions and their SQLite persistence.
// A session is the unit of work the enrichment queue operates on: raw audio
// segments, optional screen video, and whatever the enrichment stages attach.
package session

import "time"

// Session is a full recording session with all captured material
type Session struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	Category        string     `json:"category,omitempty"`

	Transcript    string         `json:"transcript,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	Screenshots   []Screenshot   `json:"screenshots,omitempty"`
	AudioSegments []AudioSegment `json:"audioSegments,omitempty"`
	Video         *Video         `json:"video,omitempty"`

	// Set by the media processing stage
	Optimized *OptimizedVideo `json:"optimized,omitempty"`

	// Set by the enrichment stage
	Summary       string `json:"summary,omitempty"`
	AudioInsights string `json:"audioInsights,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is a lightweight projection of a session (no full data arrays)
type Summary struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *float64   `json:"durationSeconds,omitempty"`
	Category        string     `json:"category,omitempty"`

	ScreenshotCount   int  `json:"screenshotCount"`
	AudioSegmentCount int  `json:"audioSegmentCount"`
	HasVideo          bool `json:"hasVideo"`
	HasNotes          bool `json:"hasNotes"`
	HasTranscript     bool `json:"hasTranscript"`
	HasSummary        bool `json:"hasSummary"`
}

// Screenshot is a reference to a captured frame
type Screenshot struct {
	ID           string  `json:"id"`
	AttachmentID string  `json:"attachmentId"`
	Timestamp    string  `json:"timestamp"`
	RelativeTime float64 `json:"relativeTime,omitempty"`
}

// AudioSegment is a reference to a captured audio chunk
type AudioSegment struct {
	ID           string  `json:"id"`
	AttachmentID string  `json:"attachmentId"`
	Path         string  `json:"path"`
	Timestamp    string  `json:"timestamp"`
	Duration     float64 `json:"duration"`
	StartTime    float64 `json:"startTime,omitempty"`
}

// Video is a reference to the full-session screen recording
type Video struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration,omitempty"`
}

// OptimizedVideo describes the artifact produced by media processing
type OptimizedVideo struct {
	Path             string  `json:"path"`
	Duration         float64 `json:"duration,omitempty"`
	SizeBytes        int64   `json:"sizeBytes,omitempty"`
	CompressionRatio float64 `json:"compressionRatio,omitempty"`
}

// Summarize projects a full session down to its summary form
func (s *Session) Summarize() Summary {
	return Summary{
		ID:                s.ID,
		Name:              s.Name,
		StartedAt:         s.StartedAt,
		EndedAt:           s.EndedAt,
		DurationSeconds:   s.DurationSeconds,
		Category:          s.Category,
		ScreenshotCount:   len(s.Screenshots),
		AudioSegmentCount: len(s.AudioSegments),
		HasVideo:          s.Video != nil,
		HasNotes:          s.Notes != "",
		HasTranscript:     s.Transcript != "",
		HasSummary:        s.Summary != "",
	}
}
