package session

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/arcform/reverb/errors"
)

// Store handles persistence of recording sessions
type Store struct {
	db *sql.DB
}

// NewStore creates a new session store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSession inserts or replaces a full session
func (s *Store) SaveSession(sess *Session) error {
	screenshotsJSON, err := json.Marshal(sess.Screenshots)
	if err != nil {
		return errors.Wrap(err, "failed to marshal screenshots")
	}
	segmentsJSON, err := json.Marshal(sess.AudioSegments)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audio segments")
	}

	query := `
		INSERT OR REPLACE INTO sessions (
			id, name, started_at, ended_at, duration_seconds, category,
			transcript, notes, screenshots, audio_segments,
			video_path, video_duration,
			optimized_video_path, optimized_duration, optimized_size,
			summary, audio_insights,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var videoPath sql.NullString
	var videoDuration sql.NullFloat64
	if sess.Video != nil {
		videoPath = sql.NullString{String: sess.Video.Path, Valid: true}
		videoDuration = sql.NullFloat64{Float64: sess.Video.Duration, Valid: sess.Video.Duration > 0}
	}

	var optPath sql.NullString
	var optDuration sql.NullFloat64
	var optSize sql.NullInt64
	if sess.Optimized != nil {
		optPath = sql.NullString{String: sess.Optimized.Path, Valid: true}
		optDuration = sql.NullFloat64{Float64: sess.Optimized.Duration, Valid: sess.Optimized.Duration > 0}
		optSize = sql.NullInt64{Int64: sess.Optimized.SizeBytes, Valid: sess.Optimized.SizeBytes > 0}
	}

	durationSeconds := sql.NullFloat64{}
	if sess.DurationSeconds != nil {
		durationSeconds = sql.NullFloat64{Float64: *sess.DurationSeconds, Valid: true}
	}
	endedAt := sql.NullTime{}
	if sess.EndedAt != nil {
		endedAt = sql.NullTime{Time: *sess.EndedAt, Valid: true}
	}

	now := time.Now()
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.Exec(query,
		sess.ID,
		sess.Name,
		sess.StartedAt,
		endedAt,
		durationSeconds,
		nullableString(sess.Category),
		nullableString(sess.Transcript),
		nullableString(sess.Notes),
		string(screenshotsJSON),
		string(segmentsJSON),
		videoPath,
		videoDuration,
		optPath,
		optDuration,
		optSize,
		nullableString(sess.Summary),
		nullableString(sess.AudioInsights),
		createdAt,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save session %s", sess.ID)
	}

	return nil
}

// LoadFullSession retrieves a session with all data arrays by ID
func (s *Store) LoadFullSession(id string) (*Session, error) {
	query := `SELECT ` + sessionSelectColumns() + ` FROM sessions WHERE id = ?`

	var sess Session
	args := newSessionScanArgs()
	err := s.db.QueryRow(query, id).Scan(sessionScanTargets(&sess, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Mark(errors.Newf("session not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}

	if err := applySessionScanArgs(&sess, args); err != nil {
		return nil, err
	}

	return &sess, nil
}

// GetName returns just a session's name. Enqueue-time callers use this so
// they never pay for the full data arrays.
func (s *Store) GetName(id string) (string, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sessions WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Mark(errors.Newf("session not found: %s", id), errors.ErrNotFound)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to load session name")
	}
	return name, nil
}

// UpdateVideoMetadata records the media processing output for a session
func (s *Store) UpdateVideoMetadata(id string, opt *OptimizedVideo) error {
	query := `
		UPDATE sessions
		SET optimized_video_path = ?,
		    optimized_duration = ?,
		    optimized_size = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, opt.Path, opt.Duration, opt.SizeBytes, time.Now(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update video metadata for session %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Mark(errors.Newf("session not found: %s", id), errors.ErrNotFound)
	}

	return nil
}

// UpdateEnrichment records the enrichment output for a session
func (s *Store) UpdateEnrichment(id string, summary, audioInsights string) error {
	query := `
		UPDATE sessions
		SET summary = ?,
		    audio_insights = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		nullableString(summary),
		nullableString(audioInsights),
		time.Now(),
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update enrichment for session %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Mark(errors.Newf("session not found: %s", id), errors.ErrNotFound)
	}

	return nil
}

// ListSummaries returns lightweight summaries of all sessions, newest first
func (s *Store) ListSummaries(limit int) ([]Summary, error) {
	query := `SELECT ` + sessionSelectColumns() + `
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions")
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// SearchSessions returns summaries of sessions whose name, notes, or
// transcript match the query, newest first
func (s *Store) SearchSessions(search string, limit int) ([]Summary, error) {
	query := `SELECT ` + sessionSelectColumns() + `
		FROM sessions
		WHERE name LIKE ? OR notes LIKE ? OR transcript LIKE ?
		ORDER BY started_at DESC
		LIMIT ?`

	pattern := "%" + search + "%"
	rows, err := s.db.Query(query, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search sessions")
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// CountSessions returns the total number of stored sessions
func (s *Store) CountSessions() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count sessions")
	}
	return count, nil
}

// scanSummaries scans sessions from query rows and projects them to summaries
func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var summaries []Summary
	for rows.Next() {
		var sess Session
		args := newSessionScanArgs()
		if err := rows.Scan(sessionScanTargets(&sess, args)...); err != nil {
			return nil, errors.Wrap(err, "failed to scan session")
		}
		if err := applySessionScanArgs(&sess, args); err != nil {
			return nil, err
		}
		summaries = append(summaries, sess.Summarize())
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating sessions")
	}

	return summaries, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
