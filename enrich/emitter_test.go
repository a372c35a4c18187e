package enrich

import (
	"testing"
	"time"

	"go.uber.org/zap"

	reverbtest "github.com/arcform/reverb/internal/testing"
)

func TestMapStageProgress(t *testing.T) {
	cases := []struct {
		stagePercent int
		bandStart    int
		bandEnd      int
		want         int
	}{
		// Media band: 0-50
		{0, 0, 50, 0},
		{50, 0, 50, 25},
		{100, 0, 50, 50},
		// Enrichment band: 50-100
		{0, 50, 100, 50},
		{50, 50, 100, 75},
		{100, 50, 100, 100},
		// Out-of-range stage progress clamps to the band
		{-20, 0, 50, 0},
		{140, 50, 100, 100},
	}

	for _, tc := range cases {
		if got := mapStageProgress(tc.stagePercent, tc.bandStart, tc.bandEnd); got != tc.want {
			t.Errorf("mapStageProgress(%d, %d, %d) = %d, want %d",
				tc.stagePercent, tc.bandStart, tc.bandEnd, got, tc.want)
		}
	}
}

// TestEmitterKeepsStagesInTheirBands tests that stage-local progress lands in
// the right slice of the job's overall progress
func TestEmitterKeepsStagesInTheirBands(t *testing.T) {
	db := reverbtest.CreateTestDB(t)
	q := NewQueue(db, DefaultRetryPolicy())

	job, _ := NewJob("SES_BANDS", "Banded Session", PriorityNormal, DefaultOptions())
	if _, err := q.Enqueue(job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claimed, err := q.ClaimNext()
	if err != nil || claimed == nil {
		t.Fatalf("Claim failed: %v", err)
	}

	emitter := NewProgressEmitter(claimed.ID, q, zap.NewNop().Sugar())

	emitter.EmitMedia(60)
	loaded, _ := q.GetJob(claimed.ID)
	if loaded.Progress != 30 {
		t.Errorf("Media at 60%% should map to overall 30, got %d", loaded.Progress)
	}

	emitter.EmitMediaComplete()
	loaded, _ = q.GetJob(claimed.ID)
	if loaded.Progress != 50 {
		t.Errorf("Media completion should pin overall 50, got %d", loaded.Progress)
	}

	// Early enrichment progress maps below the boundary and is dropped
	emitter.EmitEnrichment(0)
	loaded, _ = q.GetJob(claimed.ID)
	if loaded.Progress != 50 {
		t.Errorf("Stale enrichment progress should drop, got %d", loaded.Progress)
	}

	emitter.EmitEnrichment(80)
	loaded, _ = q.GetJob(claimed.ID)
	if loaded.Progress != 90 {
		t.Errorf("Enrichment at 80%% should map to overall 90, got %d", loaded.Progress)
	}

	if loaded.UpdatedAt.After(time.Now().Add(time.Minute)) {
		t.Error("UpdatedAt drifted into the future")
	}
}
