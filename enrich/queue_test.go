package enrich

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/arcform/reverb/errors"
	reverbtest "github.com/arcform/reverb/internal/testing"
)

// ============================================================================
// Nova & Dex Queue Test Universe
// ============================================================================
//
// Characters:
//   - Nova: The producer who enqueues work orders (and sometimes twice)
//   - Dex: The engineer who claims and finishes work orders
//   - Tempo: The studio clock, decides which failed takes get another pass
//
// Theme: Nova pushes work orders at the queue, Dex pulls and plays them, and
// Tempo enforces the retry budget when takes go wrong.
// ============================================================================

func testQueue(t *testing.T) *Queue {
	t.Helper()
	db := reverbtest.CreateTestDB(t)
	return NewQueue(db, RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    80 * time.Millisecond,
	})
}

func enqueueJob(t *testing.T, q *Queue, sessionID string, opts Options) *Job {
	t.Helper()
	job, err := NewJob(sessionID, "Session "+sessionID, PriorityNormal, opts)
	if err != nil {
		t.Fatalf("Failed to build job: %v", err)
	}
	enqueued, err := q.Enqueue(job)
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}
	return enqueued
}

// TestNovaEnqueuesWorkOrder tests the basic enqueue path
func TestNovaEnqueuesWorkOrder(t *testing.T) {
	t.Log("🎙️ Nova pushes a fresh work order onto the queue...")

	q := testQueue(t)
	job := enqueueJob(t, q, "SES_Q_001", DefaultOptions())

	loaded, err := q.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to load enqueued job: %v", err)
	}
	if loaded.Status != JobStatusPending {
		t.Errorf("Enqueued job should be pending, got %s", loaded.Status)
	}

	t.Log("✓ The work order is queued and pending")
}

// TestNovaCannotDoubleBookASession tests active-job deduplication
func TestNovaCannotDoubleBookASession(t *testing.T) {
	t.Log("🎙️ Nova tries to file the same session twice...")

	q := testQueue(t)
	original := enqueueJob(t, q, "SES_DOUBLE", DefaultOptions())

	dup, _ := NewJob("SES_DOUBLE", "Session SES_DOUBLE", PriorityNormal, DefaultOptions())
	existing, err := q.Enqueue(dup)
	if err == nil {
		t.Fatal("Second enqueue for an active session should fail")
	}
	if !errors.Is(err, errors.ErrDuplicateActiveJob) {
		t.Errorf("Expected the duplicate-active mark, got: %v", err)
	}
	if existing == nil || existing.ID != original.ID {
		t.Error("The duplicate error should hand back the active job")
	}

	t.Log("✓ The session keeps its single active work order")
}

// TestForcedRegenerationSupersedesActiveOrder tests the force path
func TestForcedRegenerationSupersedesActiveOrder(t *testing.T) {
	t.Log("🎙️ Nova insists on a fresh pass, superseding the active order...")

	q := testQueue(t)
	original := enqueueJob(t, q, "SES_FORCE", DefaultOptions())

	opts := DefaultOptions()
	opts.ForceRegenerate = true
	forced := enqueueJob(t, q, "SES_FORCE", opts)

	superseded, err := q.GetJob(original.ID)
	if err != nil {
		t.Fatalf("Failed to load superseded job: %v", err)
	}
	if superseded.Status != JobStatusCancelled {
		t.Errorf("Superseded job should be cancelled, got %s", superseded.Status)
	}

	active, err := q.FindActiveJobBySession("SES_FORCE")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if active == nil || active.ID != forced.ID {
		t.Error("The forced job should now be the session's active order")
	}

	t.Log("✓ Old order cancelled, forced order active")
}

// TestDexClaimsAndCompletes tests claim-through-complete
func TestDexClaimsAndCompletes(t *testing.T) {
	t.Log("🎚️ Dex claims the order and runs it to the end...")

	q := testQueue(t)
	job := enqueueJob(t, q, "SES_RUN", DefaultOptions())

	claimed, err := q.ClaimNext()
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatal("Dex should have claimed the queued order")
	}

	result := json.RawMessage(`{"summary":{"summary":"tight set"}}`)
	if err := q.Complete(claimed.ID, result); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	done, err := q.GetJob(claimed.ID)
	if err != nil {
		t.Fatalf("Failed to load completed job: %v", err)
	}
	if done.Status != JobStatusCompleted {
		t.Errorf("Job should be completed, got %s", done.Status)
	}
	if done.Progress != 100 {
		t.Errorf("Completed job should be at 100%%, got %d", done.Progress)
	}
	if string(done.Result) != string(result) {
		t.Errorf("Result did not survive: %s", done.Result)
	}

	t.Log("✓ The order completed with its result on file")
}

// TestStaleProgressIsDropped tests the monotonic progress rules
func TestStaleProgressIsDropped(t *testing.T) {
	q := testQueue(t)
	job := enqueueJob(t, q, "SES_PROG", DefaultOptions())

	// Progress on a pending job is dropped silently
	if err := q.UpdateProgress(job.ID, 25); err != nil {
		t.Fatalf("Progress on pending job should be a no-op, got: %v", err)
	}
	loaded, _ := q.GetJob(job.ID)
	if loaded.Progress != 0 {
		t.Errorf("Pending job progress should stay 0, got %d", loaded.Progress)
	}

	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := q.UpdateProgress(claimed.ID, 40); err != nil {
		t.Fatalf("Progress update failed: %v", err)
	}
	if err := q.UpdateProgress(claimed.ID, 15); err != nil {
		t.Fatalf("Stale progress should drop silently, got: %v", err)
	}

	loaded, _ = q.GetJob(claimed.ID)
	if loaded.Progress != 40 {
		t.Errorf("Progress should hold at 40, got %d", loaded.Progress)
	}
}

// TestTempoRetriesTransientFailures tests the retry-with-backoff path
func TestTempoRetriesTransientFailures(t *testing.T) {
	t.Log("⏱️ Tempo books another pass after a transient failure...")

	q := testQueue(t)
	enqueueJob(t, q, "SES_RETRY", DefaultOptions())

	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := q.Fail(claimed.ID, errors.Transient(errors.New("provider hiccup"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	requeued, _ := q.GetJob(claimed.ID)
	if requeued.Status != JobStatusPending {
		t.Errorf("Transient failure with budget left should requeue, got %s", requeued.Status)
	}
	if requeued.NextAttemptAt == nil {
		t.Fatal("Requeued job should carry a backoff deadline")
	}
	if requeued.Attempts != 1 {
		t.Errorf("The failed attempt still counts, got %d", requeued.Attempts)
	}

	t.Log("✓ The take is waiting out its backoff")
}

// TestSecondPassStartsProgressFresh tests that a requeue clears progress
func TestSecondPassStartsProgressFresh(t *testing.T) {
	t.Log("⏱️ The flaky take died at 40%; Tempo wipes the meter for the next pass...")

	q := testQueue(t)
	enqueueJob(t, q, "SES_FRESH_PASS", DefaultOptions())

	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := q.UpdateProgress(claimed.ID, 40); err != nil {
		t.Fatalf("Progress update failed: %v", err)
	}

	if err := q.Fail(claimed.ID, errors.Transient(errors.New("concat hiccup"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	requeued, _ := q.GetJob(claimed.ID)
	if requeued.Status != JobStatusPending {
		t.Fatalf("Transient failure should requeue, got %s", requeued.Status)
	}
	if requeued.Progress != 0 {
		t.Errorf("Requeued take should restart at 0%%, got %d", requeued.Progress)
	}

	// The next pass's early progress must not be dropped against the old figure
	deadline := time.Now().Add(2 * time.Second)
	var again *Job
	for time.Now().Before(deadline) {
		again, err = q.ClaimNext()
		if err != nil {
			t.Fatalf("Reclaim failed: %v", err)
		}
		if again != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if again == nil {
		t.Fatal("Requeued take never became claimable")
	}
	if err := q.UpdateProgress(again.ID, 10); err != nil {
		t.Fatalf("Progress update failed: %v", err)
	}
	loaded, _ := q.GetJob(again.ID)
	if loaded.Progress != 10 {
		t.Errorf("Second pass progress should land at 10, got %d", loaded.Progress)
	}

	t.Log("✓ The meter started over with the new pass")
}

// TestTempoStopsAfterBudgetExhausted tests terminal failure on exhaustion
func TestTempoStopsAfterBudgetExhausted(t *testing.T) {
	t.Log("⏱️ Tempo calls it after three bad passes...")

	q := testQueue(t)
	enqueueJob(t, q, "SES_EXHAUST", DefaultOptions())

	for attempt := 1; attempt <= 3; attempt++ {
		// Wait out any backoff from the previous attempt
		deadline := time.Now().Add(2 * time.Second)
		var claimed *Job
		for time.Now().Before(deadline) {
			var err error
			claimed, err = q.ClaimNext()
			if err != nil {
				t.Fatalf("Claim failed: %v", err)
			}
			if claimed != nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if claimed == nil {
			t.Fatalf("Attempt %d never became claimable", attempt)
		}

		if err := q.Fail(claimed.ID, errors.Transient(errors.New("still broken"))); err != nil {
			t.Fatalf("Fail failed: %v", err)
		}

		job, _ := q.GetJob(claimed.ID)
		if attempt < 3 {
			if job.Status != JobStatusPending {
				t.Fatalf("Attempt %d should requeue, got %s", attempt, job.Status)
			}
		} else {
			if job.Status != JobStatusFailed {
				t.Fatalf("Attempt %d should exhaust the budget, got %s", attempt, job.Status)
			}
		}
	}

	t.Log("✓ Three strikes and the take is done")
}

// TestTerminalFailuresDoNotRetry tests that terminal errors skip the budget
func TestTerminalFailuresDoNotRetry(t *testing.T) {
	q := testQueue(t)
	enqueueJob(t, q, "SES_TERMINAL", DefaultOptions())

	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := q.Fail(claimed.ID, errors.Terminal(errors.New("source file is gone"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	job, _ := q.GetJob(claimed.ID)
	if job.Status != JobStatusFailed {
		t.Errorf("Terminal failure should fail immediately, got %s", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", job.Attempts)
	}
}

// TestCancellingAPendingOrder tests immediate cancellation
func TestCancellingAPendingOrder(t *testing.T) {
	q := testQueue(t)
	job := enqueueJob(t, q, "SES_CXL_PENDING", DefaultOptions())

	if err := q.Cancel(job.ID, "scrapped the session"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	cancelled, _ := q.GetJob(job.ID)
	if cancelled.Status != JobStatusCancelled {
		t.Errorf("Pending job should cancel immediately, got %s", cancelled.Status)
	}
}

// TestCancellingARunningOrder tests cooperative cancellation
func TestCancellingARunningOrder(t *testing.T) {
	t.Log("🎚️ Dex gets the cancel light mid-take...")

	q := testQueue(t)
	enqueueJob(t, q, "SES_CXL_RUNNING", DefaultOptions())

	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := q.Cancel(claimed.ID, "scrapped mid-take"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// The job stays processing with the flag set until the worker looks up
	flagged, _ := q.GetJob(claimed.ID)
	if flagged.Status != JobStatusProcessing {
		t.Errorf("Running job should stay processing until the worker stops, got %s", flagged.Status)
	}
	if !flagged.CancelRequested {
		t.Error("The cancel flag should be set")
	}

	// Dex notices the light and stops
	if err := q.CancelFromWorker(claimed.ID, "scrapped mid-take"); err != nil {
		t.Fatalf("Worker-side cancel failed: %v", err)
	}
	done, _ := q.GetJob(claimed.ID)
	if done.Status != JobStatusCancelled {
		t.Errorf("Job should now be cancelled, got %s", done.Status)
	}

	t.Log("✓ Cancellation happened at the worker's pace")
}

// TestTerminalOrdersCannotCancel tests cancel on finished jobs
func TestTerminalOrdersCannotCancel(t *testing.T) {
	q := testQueue(t)
	enqueueJob(t, q, "SES_CXL_DONE", DefaultOptions())

	claimed, _ := q.ClaimNext()
	if err := q.Complete(claimed.ID, nil); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if err := q.Cancel(claimed.ID, "too late"); err == nil {
		t.Error("Cancelling a completed job should fail")
	}
}

// TestRetryGivesAFreshBudget tests manual retry of dead takes
func TestRetryGivesAFreshBudget(t *testing.T) {
	q := testQueue(t)
	enqueueJob(t, q, "SES_MANUAL_RETRY", DefaultOptions())

	claimed, _ := q.ClaimNext()
	if err := q.Fail(claimed.ID, errors.Terminal(errors.New("bad config"))); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	retried, err := q.Retry(claimed.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != JobStatusPending {
		t.Errorf("Retried job should be pending, got %s", retried.Status)
	}
	if retried.Attempts != 0 {
		t.Errorf("Retry should reset the attempt budget, got %d", retried.Attempts)
	}

	// Active jobs cannot be retried
	reclaimed, _ := q.ClaimNext()
	if _, err := q.Retry(reclaimed.ID); err == nil {
		t.Error("Retrying a processing job should fail")
	}
}

// TestQueueStatusSummary tests the composition snapshot
func TestQueueStatusSummary(t *testing.T) {
	q := testQueue(t)

	enqueueJob(t, q, "SES_SUM_1", DefaultOptions())
	enqueueJob(t, q, "SES_SUM_2", DefaultOptions())
	claimed, _ := q.ClaimNext()
	_ = q.Complete(claimed.ID, nil)

	summary, err := q.GetStatusSummary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Pending != 1 || summary.Completed != 1 {
		t.Errorf("Unexpected composition: %+v", summary)
	}
	if summary.Total != 2 {
		t.Errorf("Expected 2 total, got %d", summary.Total)
	}
}

// TestSubscribersHearEveryUpdate tests the update fan-out
func TestSubscribersHearEveryUpdate(t *testing.T) {
	t.Log("📻 The booth monitor subscribes to the job feed...")

	q := testQueue(t)
	updates := q.Subscribe()
	defer q.Unsubscribe(updates)

	job := enqueueJob(t, q, "SES_FEED", DefaultOptions())
	claimed, _ := q.ClaimNext()
	_ = q.UpdateProgress(claimed.ID, 50)
	_ = q.Complete(claimed.ID, nil)

	var statuses []JobStatus
	timeout := time.After(time.Second)
	for len(statuses) < 4 {
		select {
		case update := <-updates:
			if update.ID != job.ID {
				t.Errorf("Update for unexpected job %s", update.ID)
			}
			statuses = append(statuses, update.Status)
		case <-timeout:
			t.Fatalf("Only heard %d updates: %v", len(statuses), statuses)
		}
	}

	if statuses[0] != JobStatusPending {
		t.Errorf("First update should be the enqueue, got %s", statuses[0])
	}
	if statuses[len(statuses)-1] != JobStatusCompleted {
		t.Errorf("Last update should be the completion, got %s", statuses[len(statuses)-1])
	}

	t.Log("✓ The monitor heard enqueue, claim, progress, and completion")
}

// TestRetryPolicyDelays tests the backoff schedule
func TestRetryPolicyDelays(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second}, // Clamped up to the first attempt
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // Capped
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := policy.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
