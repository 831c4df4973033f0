package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/datatypes"

	jobsrepo "github.com/yungbote/neurobridge-ale/internal/data/repos/jobs"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
)

type countingHandler struct{ n *int32 }

func (countingHandler) Type() string { return "count" }

func (h countingHandler) Run(*runtime.Context) error {
	atomic.AddInt32(h.n, 1)
	return nil
}

func TestRunOnceDrainsQueue(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := jobsrepo.NewJobRunRepo(db, log)
	var n int32
	reg := runtime.NewRegistry()
	if err := reg.Register(countingHandler{n: &n}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	runner := runtime.NewRunner(db, log, repo, reg, runtime.DefaultRetryPolicy(), nil)
	w := NewWorker(log, repo, runner, Config{Concurrency: 1}, nil)

	ctx := context.Background()
	now := time.Now().UTC()
	var ids []*types.JobRun
	for i := 0; i < 3; i++ {
		job, _, err := repo.Enqueue(dbctx.New(ctx), &types.JobRun{
			LearnerID: 1, JobType: "count", Status: jobs.StatusQueued,
			Payload: datatypes.JSON([]byte(`{}`)), Result: datatypes.JSON([]byte(`{}`)),
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, job)
	}

	for i := 0; i < 3; i++ {
		ran, err := w.RunOnce(ctx)
		if err != nil || !ran {
			t.Fatalf("RunOnce %d: ran=%v err=%v", i, ran, err)
		}
	}
	ran, err := w.RunOnce(ctx)
	if err != nil || ran {
		t.Fatalf("RunOnce on empty queue: ran=%v err=%v", ran, err)
	}
	if got := atomic.LoadInt32(&n); got != 3 {
		t.Fatalf("handler runs: want=3 got=%d", got)
	}
	for _, j := range ids {
		got, err := repo.GetByID(dbctx.New(ctx), j.ID)
		if err != nil || got.Status != jobs.StatusSucceeded {
			t.Fatalf("job %s: want succeeded, got %v err=%v", j.ID, got.Status, err)
		}
	}
}
