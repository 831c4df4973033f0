package jobs

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/neurobridge-ale/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()

	mk := func(key string, created time.Time) *types.JobRun {
		return &types.JobRun{
			LearnerID: 1,
			JobType:   "test_job",
			DedupKey:  key,
			Payload:   datatypes.JSON([]byte("{}")),
			Result:    datatypes.JSON([]byte("{}")),
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	first, created, err := repo.Enqueue(dbc, mk("k:1", now.Add(-2*time.Hour)))
	if err != nil || !created {
		t.Fatalf("Enqueue: err=%v created=%v", err, created)
	}
	dup, created, err := repo.Enqueue(dbc, mk("k:1", now))
	if err != nil {
		t.Fatalf("Enqueue dup: %v", err)
	}
	if created || dup == nil || dup.ID != first.ID {
		t.Fatalf("Enqueue dup: want existing=%s, got created=%v job=%v", first.ID, created, dup)
	}
	if _, created, err := repo.Enqueue(dbc, mk("k:2", now.Add(-time.Hour))); err != nil || !created {
		t.Fatalf("Enqueue other key: err=%v created=%v", err, created)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, now, 10*time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNextRunnable: err=%v job=%v", err, claimed)
	}
	if claimed.ID != first.ID || claimed.Attempts != 1 || claimed.Status != jobs.StatusRunning {
		t.Fatalf("ClaimNextRunnable: want oldest with attempts=1, got id=%s attempts=%d status=%s", claimed.ID, claimed.Attempts, claimed.Status)
	}

	// A retrying job is not runnable until its backoff elapses.
	next := now.Add(time.Minute)
	if err := repo.UpdateFields(dbc, first.ID, map[string]interface{}{"status": jobs.StatusRetrying, "next_run_at": next}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	second, err := repo.ClaimNextRunnable(dbc, now, 10*time.Minute)
	if err != nil || second == nil || second.ID == first.ID {
		t.Fatalf("ClaimNextRunnable: want k:2, got err=%v job=%v", err, second)
	}
	if none, err := repo.ClaimNextRunnable(dbc, now, 10*time.Minute); err != nil || none != nil {
		t.Fatalf("ClaimNextRunnable: want none, got err=%v job=%v", err, none)
	}
	again, err := repo.ClaimNextRunnable(dbc, next.Add(time.Second), 10*time.Minute)
	if err != nil || again == nil || again.ID != first.ID || again.Attempts != 2 {
		t.Fatalf("ClaimNextRunnable after backoff: err=%v job=%v", err, again)
	}

	// Terminal jobs release the dedup key.
	if err := repo.UpdateFields(dbc, first.ID, map[string]interface{}{"status": jobs.StatusSucceeded}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if _, created, err := repo.Enqueue(dbc, mk("k:1", now)); err != nil || !created {
		t.Fatalf("Enqueue after success: err=%v created=%v", err, created)
	}
	n, err := repo.CountByStatus(dbc, jobs.StatusQueued)
	if err != nil || n != 1 {
		t.Fatalf("CountByStatus: err=%v want=1 got=%d", err, n)
	}
}
