package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

const systemPrompt = `You are an assistant that analyzes recording sessions.
Given a session transcript and notes, respond with a single JSON object:
{"summary": "...", "narrative": "...", "chapters": [{"title": "...", "summary": "..."}], "tasks": ["..."], "notes": "..."}
Respond with JSON only, no surrounding prose.`

// Stage runs AI enrichment for a job. It rate-limits provider calls and maps
// upstream failures to the queue's retry classification.
type Stage struct {
	provider Provider
	limiter  *Limiter
	log      *zap.SugaredLogger
}

// NewStage creates an enrichment stage over a provider.
// limiter may be nil to disable rate limiting (tests, local endpoints).
func NewStage(provider Provider, limiter *Limiter, logger *zap.SugaredLogger) *Stage {
	return &Stage{
		provider: provider,
		limiter:  limiter,
		log:      logger.Named("ai"),
	}
}

// Enrich generates insight for the session and returns it as raw JSON of the
// shape {"summary": ..., "audio_insights": ...}
func (s *Stage) Enrich(ctx context.Context, sess *session.Session, job *enrich.Job, progress func(int)) (json.RawMessage, error) {
	if !s.provider.IsConfigured() {
		return nil, errors.Terminal(errors.New("AI provider is not configured"))
	}

	progress(5)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, errors.Transient(errors.Wrap(err, "rate limit wait interrupted"))
		}
	}

	progress(15)

	resp, err := s.provider.Chat(ctx, ChatRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildSessionPrompt(sess),
	})
	if err != nil {
		return nil, s.classify(err)
	}

	progress(80)

	result, err := parseEnrichmentResult(resp.Content)
	if err != nil {
		// The model produced unusable output; retrying may fix it
		return nil, errors.Transient(errors.Wrap(err, "failed to parse enrichment response"))
	}

	s.log.Infow("Generated session enrichment",
		"session_id", sess.ID,
		"chapters", len(result.Chapters),
		"tasks", len(result.Tasks),
		"total_tokens", resp.Usage.TotalTokens)

	summaryJSON, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Terminal(errors.Wrap(err, "failed to marshal enrichment result"))
	}

	payload, err := json.Marshal(map[string]json.RawMessage{
		"summary": summaryJSON,
	})
	if err != nil {
		return nil, errors.Terminal(errors.Wrap(err, "failed to marshal enrichment payload"))
	}

	progress(100)
	return payload, nil
}

// classify maps provider failures onto the retry taxonomy: throttling and
// server errors are transient, other API rejections terminal, everything
// else (network, timeout) transient.
func (s *Stage) classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return enrich.ClassifyHTTPError(apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errors.Transient(err)
}

// buildSessionPrompt flattens the session into prompt text
func buildSessionPrompt(sess *session.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session: %s\n", sess.Name)
	if sess.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", sess.Category)
	}
	if sess.DurationSeconds != nil {
		fmt.Fprintf(&b, "Duration: %.0f seconds\n", *sess.DurationSeconds)
	}
	fmt.Fprintf(&b, "Audio segments: %d, screenshots: %d\n",
		len(sess.AudioSegments), len(sess.Screenshots))

	if sess.Notes != "" {
		fmt.Fprintf(&b, "\nNotes:\n%s\n", sess.Notes)
	}
	if sess.Transcript != "" {
		fmt.Fprintf(&b, "\nTranscript:\n%s\n", sess.Transcript)
	}

	return b.String()
}

// parseEnrichmentResult parses the model's JSON reply, tolerating markdown
// code fences around the object
func parseEnrichmentResult(content string) (*EnrichmentResult, error) {
	cleaned := strings.TrimSpace(content)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var result EnrichmentResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, errors.Wrap(err, "invalid enrichment JSON")
	}
	if result.Summary == "" {
		return nil, errors.New("enrichment response missing summary")
	}

	return &result, nil
}
