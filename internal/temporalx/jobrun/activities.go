package jobrun

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	jobrt "github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type Activities struct {
	Log    *logger.Logger
	Jobs   repos.JobRunRepo
	Runner *jobrt.Runner
}

func (a *Activities) Execute(ctx context.Context, jobID string) (ExecuteResult, error) {
	res := ExecuteResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Runner == nil {
		return res, temporal.NewNonRetryableApplicationError("jobrun: activity not configured", "misconfigured", nil)
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, temporal.NewNonRetryableApplicationError("jobrun: invalid job_id", "invalid_job", err)
	}

	current, err := a.Jobs.GetByID(dbctx.New(ctx), id)
	if err != nil {
		return res, err
	}
	if current == nil {
		return res, temporal.NewNonRetryableApplicationError("jobrun: job not found", "job_not_found", nil)
	}
	if jobs.IsTerminal(current.Status) {
		res.Status, res.Attempt = current.Status, current.Attempts
		return res, nil
	}

	attempt := int(activity.GetInfo(ctx).Attempt)
	if attempt < 1 {
		attempt = 1
	}
	res.Attempt = attempt
	job, err := a.Runner.MarkAttempt(ctx, id, attempt)
	if err != nil {
		return res, err
	}

	stop := a.startHeartbeat(ctx, id)
	runErr := a.Runner.Execute(ctx, job, false)
	stop()

	if runErr != nil {
		res.Status = jobs.StatusRetrying
		var perm *jobrt.PermanentError
		if errors.As(runErr, &perm) || a.Runner.Policy().IsFinal(attempt) {
			res.Status = jobs.StatusFailed
			return res, temporal.NewNonRetryableApplicationError(runErr.Error(), "generation_failed", runErr)
		}
		return res, fmt.Errorf("jobrun: attempt %d: %w", attempt, runErr)
	}
	res.Status = jobs.StatusSucceeded
	return res, nil
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case now := <-dbHB.C:
				_ = a.Jobs.Heartbeat(dbctx.New(ctx), jobID, now.UTC())
			}
		}
	}()
	return func() { close(done) }
}
