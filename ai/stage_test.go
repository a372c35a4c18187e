package ai

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	"github.com/arcform/reverb/session"
)

// fakeProvider scripts the model's reply without any network
type fakeProvider struct {
	configured bool
	content    string
	err        error
	lastReq    ChatRequest
}

func (p *fakeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return &ChatResponse{Content: p.content, Usage: Usage{TotalTokens: 42}}, nil
}

func (p *fakeProvider) IsConfigured() bool { return p.configured }

func testSession() *session.Session {
	return &session.Session{
		ID:         "SES_STAGE",
		Name:       "Mixing the bridge",
		Category:   "studio",
		Notes:      "second pass on the bridge",
		Transcript: "let's try the bridge again",
	}
}

func testJob(t *testing.T) *enrich.Job {
	t.Helper()
	job, err := enrich.NewJob("SES_STAGE", "Mixing the bridge", enrich.PriorityNormal, enrich.DefaultOptions())
	if err != nil {
		t.Fatalf("NewJob failed: %v", err)
	}
	return job
}

func TestStageGeneratesSummaryPayload(t *testing.T) {
	provider := &fakeProvider{
		configured: true,
		content:    `{"summary": "tightened the bridge", "tasks": ["bounce a rough mix"]}`,
	}
	stage := NewStage(provider, nil, zap.NewNop().Sugar())

	var lastProgress int
	payload, err := stage.Enrich(context.Background(), testSession(), testJob(t), func(p int) {
		lastProgress = p
	})
	if err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if lastProgress != 100 {
		t.Errorf("Final progress = %d, want 100", lastProgress)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	var result EnrichmentResult
	if err := json.Unmarshal(envelope["summary"], &result); err != nil {
		t.Fatalf("Summary is not an EnrichmentResult: %v", err)
	}
	if result.Summary != "tightened the bridge" || len(result.Tasks) != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}

	// The prompt should carry the session's name and transcript
	if !strings.Contains(provider.lastReq.UserPrompt, "Mixing the bridge") {
		t.Error("Prompt missing session name")
	}
	if !strings.Contains(provider.lastReq.UserPrompt, "let's try the bridge again") {
		t.Error("Prompt missing transcript")
	}
}

func TestStageRejectsUnconfiguredProvider(t *testing.T) {
	stage := NewStage(&fakeProvider{configured: false}, nil, zap.NewNop().Sugar())

	_, err := stage.Enrich(context.Background(), testSession(), testJob(t), func(int) {})
	if err == nil {
		t.Fatal("Unconfigured provider should fail")
	}
	if !errors.Is(err, errors.ErrTerminalStage) {
		t.Errorf("Missing credentials cannot be retried away, got: %v", err)
	}
}

func TestStageTreatsGarbageOutputAsTransient(t *testing.T) {
	provider := &fakeProvider{configured: true, content: "sorry, I can't do that"}
	stage := NewStage(provider, nil, zap.NewNop().Sugar())

	_, err := stage.Enrich(context.Background(), testSession(), testJob(t), func(int) {})
	if err == nil {
		t.Fatal("Unparseable output should fail")
	}
	if !errors.Is(err, errors.ErrTransientStage) {
		t.Errorf("A second attempt may parse, got: %v", err)
	}
}

func TestStageClassifiesProviderErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttled", &APIError{StatusCode: 429, Body: "slow down"}, true},
		{"server error", &APIError{StatusCode: 503, Body: "overloaded"}, true},
		{"bad request", &APIError{StatusCode: 400, Body: "bad prompt"}, false},
		{"unauthorized", &APIError{StatusCode: 401, Body: "bad key"}, false},
		{"network", errors.New("connection reset by peer"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{configured: true, err: tc.err}
			stage := NewStage(provider, nil, zap.NewNop().Sugar())

			_, err := stage.Enrich(context.Background(), testSession(), testJob(t), func(int) {})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if tc.transient && !errors.Is(err, errors.ErrTransientStage) {
				t.Errorf("Expected transient mark, got: %v", err)
			}
			if !tc.transient && !errors.Is(err, errors.ErrTerminalStage) {
				t.Errorf("Expected terminal mark, got: %v", err)
			}
		})
	}
}

func TestStagePassesCancellationThrough(t *testing.T) {
	provider := &fakeProvider{configured: true, err: context.Canceled}
	stage := NewStage(provider, nil, zap.NewNop().Sugar())

	_, err := stage.Enrich(context.Background(), testSession(), testJob(t), func(int) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Cancellation should not be reclassified, got: %v", err)
	}
	if errors.Is(err, errors.ErrTransientStage) || errors.Is(err, errors.ErrTerminalStage) {
		t.Errorf("Cancellation carries no retry mark, got: %v", err)
	}
}

func TestParseEnrichmentResult(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain JSON", `{"summary": "good take"}`, false},
		{"fenced", "```json\n{\"summary\": \"good take\"}\n```", false},
		{"bare fence", "```\n{\"summary\": \"good take\"}\n```", false},
		{"missing summary", `{"narrative": "no summary here"}`, true},
		{"not JSON", "just prose", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := parseEnrichmentResult(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error for %q", tc.content)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEnrichmentResult failed: %v", err)
			}
			if result.Summary != "good take" {
				t.Errorf("Summary = %q", result.Summary)
			}
		})
	}
}

func TestBuildSessionPrompt(t *testing.T) {
	duration := 340.0
	sess := testSession()
	sess.DurationSeconds = &duration
	sess.AudioSegments = []session.AudioSegment{{Path: "a.m4a"}, {Path: "b.m4a"}}

	prompt := buildSessionPrompt(sess)
	for _, want := range []string{
		"Session: Mixing the bridge",
		"Category: studio",
		"Duration: 340 seconds",
		"Audio segments: 2",
		"Notes:",
		"Transcript:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}
}
