package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
	reverbtest "github.com/arcform/reverb/internal/testing"
	"github.com/arcform/reverb/session"
)

// Stub stages keep the worker pool harmless: the poll interval is an hour, so
// nothing is ever claimed during a test
type stubMedia struct{}

func (stubMedia) Process(ctx context.Context, sess *session.Session, job *enrich.Job, progress func(int)) (*session.OptimizedVideo, error) {
	return &session.OptimizedVideo{Path: "/tmp/" + sess.ID + ".mp4"}, nil
}

type stubEnrich struct{}

func (stubEnrich) Enrich(ctx context.Context, sess *session.Session, job *enrich.Job, progress func(int)) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type testEnv struct {
	server   *httptest.Server
	manager  *enrich.Manager
	sessions *session.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := reverbtest.CreateTestDB(t)
	log := zap.NewNop().Sugar()

	manager := enrich.NewManager(db, stubMedia{}, stubEnrich{}, enrich.ManagerConfig{
		Workers:      1,
		PollInterval: time.Hour,
		Retry:        enrich.DefaultRetryPolicy(),
	}, log)
	require.NoError(t, manager.Initialize())
	t.Cleanup(manager.Shutdown)

	sessions := session.NewStore(db)
	srv := New(manager, sessions, Config{Port: 0, AllowedOrigins: []string{"http://localhost:5173"}}, log)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, manager: manager, sessions: sessions}
}

func (e *testEnv) saveSession(t *testing.T, id, name string) {
	t.Helper()
	err := e.sessions.SaveSession(&session.Session{
		ID:        id,
		Name:      name,
		StartedAt: time.Now().UTC(),
		AudioSegments: []session.AudioSegment{
			{ID: "SEG_1", Path: "/rec/" + id + ".m4a", Duration: 60},
		},
	})
	require.NoError(t, err)
}

func (e *testEnv) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]interface{}
	status := env.getJSON(t, "/health", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["initialized"])
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var body struct {
		Queue   enrich.StatusSummary `json:"queue"`
		Metrics enrich.SystemMetrics `json:"metrics"`
	}
	status := env.getJSON(t, "/api/status", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, body.Metrics.WorkersTotal)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_A", "Guitar overdubs")
	env.saveSession(t, "SES_B", "Vocal comping")

	var body struct {
		Sessions []session.Summary `json:"sessions"`
	}
	status := env.getJSON(t, "/api/sessions", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Sessions, 2)

	status = env.getJSON(t, "/api/sessions?q=Vocal", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "SES_B", body.Sessions[0].ID)
}

func TestEnqueueSession(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_Q", "Queued Session")

	var job enrich.Job
	status := env.postJSON(t, "/api/sessions/SES_Q/enrich", map[string]interface{}{
		"priority": "high",
	}, &job)

	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "SES_Q", job.SessionID)
	assert.Equal(t, enrich.PriorityHigh, job.Priority)
	assert.Equal(t, enrich.JobStatusPending, job.Status)

	// A second enqueue conflicts and answers with the active job
	var existing enrich.Job
	status = env.postJSON(t, "/api/sessions/SES_Q/enrich", nil, &existing)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, job.ID, existing.ID)
}

func TestEnqueueUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	status := env.postJSON(t, "/api/sessions/SES_GHOST/enrich", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_J", "Job Session")

	var created enrich.Job
	require.Equal(t, http.StatusCreated,
		env.postJSON(t, "/api/sessions/SES_J/enrich", nil, &created))

	var fetched enrich.Job
	status := env.getJSON(t, "/api/jobs/"+created.ID, &fetched)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, fetched.ID)

	status = env.getJSON(t, "/api/jobs/JOB_GHOST", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListJobsStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_F", "Filtered Session")
	require.Equal(t, http.StatusCreated,
		env.postJSON(t, "/api/sessions/SES_F/enrich", nil, nil))

	var body struct {
		Jobs []enrich.Job `json:"jobs"`
	}
	status := env.getJSON(t, "/api/jobs?status=pending", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Jobs, 1)

	status = env.getJSON(t, "/api/jobs?status=completed", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Jobs, 0)

	status = env.getJSON(t, "/api/jobs?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCancelAndRetryJob(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_C", "Cancelled Session")

	var job enrich.Job
	require.Equal(t, http.StatusCreated,
		env.postJSON(t, "/api/sessions/SES_C/enrich", nil, &job))

	status := env.postJSON(t, "/api/jobs/"+job.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var cancelled enrich.Job
	env.getJSON(t, "/api/jobs/"+job.ID, &cancelled)
	assert.Equal(t, enrich.JobStatusCancelled, cancelled.Status)

	var retried enrich.Job
	status = env.postJSON(t, "/api/jobs/"+job.ID+"/retry", nil, &retried)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, enrich.JobStatusPending, retried.Status)
	assert.Equal(t, 0, retried.Attempts)

	status = env.postJSON(t, "/api/jobs/JOB_GHOST/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMediaCompleteHandOff(t *testing.T) {
	env := newTestEnv(t)
	env.saveSession(t, "SES_M", "Handed-off Session")

	var job enrich.Job
	require.Equal(t, http.StatusCreated,
		env.postJSON(t, "/api/sessions/SES_M/enrich", nil, &job))

	status := env.postJSON(t, "/api/jobs/"+job.ID+"/media-complete", map[string]string{
		"optimized_video_path": "/ext/SES_M-optimized.mp4",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var updated enrich.Job
	env.getJSON(t, "/api/jobs/"+job.ID, &updated)
	assert.Equal(t, "/ext/SES_M-optimized.mp4", updated.OptimizedVideoPath)
	assert.Equal(t, 50, updated.Progress)

	// The path is required
	status = env.postJSON(t, "/api/jobs/"+job.ID+"/media-complete", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCORSAllowlist(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	// Preflight short-circuits
	preflight, err := http.NewRequest(http.MethodOptions, env.server.URL+"/health", nil)
	require.NoError(t, err)
	preflight.Header.Set("Origin", "http://localhost:5173")
	resp, err = http.DefaultClient.Do(preflight)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForError(errors.Mark(errors.New("x"), errors.ErrNotFound)))
	assert.Equal(t, http.StatusConflict, statusForError(errors.ErrDuplicateActiveJob))
	assert.Equal(t, http.StatusServiceUnavailable, statusForError(errors.ErrShuttingDown))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}
