package session

import (
	"database/sql"
	"encoding/json"

	"github.com/arcform/reverb/errors"
)

// sessionScanArgs holds the nullable columns of a session row
type sessionScanArgs struct {
	EndedAt         sql.NullTime
	DurationSeconds sql.NullFloat64
	Category        sql.NullString
	Transcript      sql.NullString
	Notes           sql.NullString
	Screenshots     sql.NullString
	AudioSegments   sql.NullString
	VideoPath       sql.NullString
	VideoDuration   sql.NullFloat64
	OptPath         sql.NullString
	OptDuration     sql.NullFloat64
	OptSize         sql.NullInt64
	Summary         sql.NullString
	AudioInsights   sql.NullString
}

func newSessionScanArgs() *sessionScanArgs {
	return &sessionScanArgs{}
}

// sessionScanTargets returns scan destinations in the order of sessionSelectColumns
func sessionScanTargets(sess *Session, args *sessionScanArgs) []interface{} {
	return []interface{}{
		&sess.ID,
		&sess.Name,
		&sess.StartedAt,
		&args.EndedAt,
		&args.DurationSeconds,
		&args.Category,
		&args.Transcript,
		&args.Notes,
		&args.Screenshots,
		&args.AudioSegments,
		&args.VideoPath,
		&args.VideoDuration,
		&args.OptPath,
		&args.OptDuration,
		&args.OptSize,
		&args.Summary,
		&args.AudioInsights,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	}
}

// applySessionScanArgs populates the session from scanned nullable columns
func applySessionScanArgs(sess *Session, args *sessionScanArgs) error {
	if args.EndedAt.Valid {
		sess.EndedAt = &args.EndedAt.Time
	}
	if args.DurationSeconds.Valid {
		sess.DurationSeconds = &args.DurationSeconds.Float64
	}
	if args.Category.Valid {
		sess.Category = args.Category.String
	}
	if args.Transcript.Valid {
		sess.Transcript = args.Transcript.String
	}
	if args.Notes.Valid {
		sess.Notes = args.Notes.String
	}

	if args.Screenshots.Valid && args.Screenshots.String != "" {
		if err := json.Unmarshal([]byte(args.Screenshots.String), &sess.Screenshots); err != nil {
			return errors.Wrapf(err, "failed to unmarshal screenshots for session %s", sess.ID)
		}
	}
	if args.AudioSegments.Valid && args.AudioSegments.String != "" {
		if err := json.Unmarshal([]byte(args.AudioSegments.String), &sess.AudioSegments); err != nil {
			return errors.Wrapf(err, "failed to unmarshal audio segments for session %s", sess.ID)
		}
	}

	if args.VideoPath.Valid {
		sess.Video = &Video{Path: args.VideoPath.String}
		if args.VideoDuration.Valid {
			sess.Video.Duration = args.VideoDuration.Float64
		}
	}

	if args.OptPath.Valid {
		sess.Optimized = &OptimizedVideo{Path: args.OptPath.String}
		if args.OptDuration.Valid {
			sess.Optimized.Duration = args.OptDuration.Float64
		}
		if args.OptSize.Valid {
			sess.Optimized.SizeBytes = args.OptSize.Int64
		}
	}

	if args.Summary.Valid {
		sess.Summary = args.Summary.String
	}
	if args.AudioInsights.Valid {
		sess.AudioInsights = args.AudioInsights.String
	}

	return nil
}

// sessionSelectColumns returns the standard column list for session SELECT queries
func sessionSelectColumns() string {
	return `id, name, started_at, ended_at, duration_seconds, category,
		transcript, notes, screenshots, audio_segments,
		video_path, video_duration,
		optimized_video_path, optimized_duration, optimized_size,
		summary, audio_insights,
		created_at, updated_at`
}
