package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/httpx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BackoffBase: 30 * time.Second, BackoffMax: time.Hour}
}

func (p RetryPolicy) IsFinal(attempt int) bool {
	return p.MaxAttempts <= 1 || attempt >= p.MaxAttempts
}

// Delay is BackoffBase * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return httpx.Backoff(p.BackoffBase, attempt, p.BackoffMax)
}

var ErrMissingHandler = errors.New("no handler registered")

// Runner executes claimed jobs and records their outcome on job_run.
type Runner struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	policy   RetryPolicy
	clock    clock.Clock
}

func NewRunner(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *Registry, policy RetryPolicy, clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.Real()
	}
	return &Runner{
		db:       db,
		log:      baseLog.With("component", "JobRunner"),
		repo:     repo,
		registry: registry,
		policy:   policy,
		clock:    clk,
	}
}

func (r *Runner) Policy() RetryPolicy { return r.policy }

func (r *Runner) Registry() *Registry { return r.registry }

// Execute runs one attempt of job. job.Attempts must already count this
// attempt. When reschedule is true a retryable failure is parked as
// "retrying" with next_run_at set from the policy; otherwise the caller owns
// retries and the row is only marked "retrying". The handler error is returned.
func (r *Runner) Execute(ctx context.Context, job *types.JobRun, reschedule bool) error {
	attempt := job.Attempts
	final := r.policy.IsFinal(attempt)
	log := r.log.With("job_id", job.ID.String(), "job_type", job.JobType, "attempt", attempt)

	h, ok := r.registry.Get(job.JobType)
	if !ok {
		err := Permanent(fmt.Errorf("%w for job_type=%s", ErrMissingHandler, job.JobType))
		r.recordFailure(ctx, job, err, true, reschedule, log)
		return err
	}

	jc := NewContext(ctx, r.db, job, log, attempt, final)
	runErr := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Job handler panic", "panic", rec)
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return h.Run(jc)
	}()

	if runErr == nil {
		r.recordSuccess(ctx, job, jc.Result(), log)
		return nil
	}
	var perm *PermanentError
	exhausted := final || errors.As(runErr, &perm)
	r.recordFailure(ctx, job, runErr, exhausted, reschedule, log)
	return runErr
}

func (r *Runner) recordSuccess(ctx context.Context, job *types.JobRun, result map[string]any, log *logger.Logger) {
	now := r.clock.Now()
	raw, _ := json.Marshal(result)
	if err := r.repo.UpdateFields(dbctx.New(ctx), job.ID, map[string]interface{}{
		"status":      jobs.StatusSucceeded,
		"stage":       "done",
		"error":       "",
		"result":      datatypes.JSON(raw),
		"locked_at":   nil,
		"next_run_at": nil,
		"updated_at":  now,
	}); err != nil {
		log.Warn("Failed to record job success", "error", err)
		return
	}
	log.Debug("Job succeeded")
}

func (r *Runner) recordFailure(ctx context.Context, job *types.JobRun, runErr error, exhausted, reschedule bool, log *logger.Logger) {
	now := r.clock.Now()
	updates := map[string]interface{}{
		"error":         runErr.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"updated_at":    now,
	}
	if exhausted {
		updates["status"] = jobs.StatusFailed
		updates["stage"] = "failed"
		updates["next_run_at"] = nil
		log.Error("Job failed", "error", runErr)
	} else {
		updates["status"] = jobs.StatusRetrying
		updates["stage"] = "retrying"
		if reschedule {
			next := now.Add(r.policy.Delay(job.Attempts))
			updates["next_run_at"] = next
			log.Warn("Job attempt failed; retry scheduled", "error", runErr, "next_run_at", next)
		} else {
			log.Warn("Job attempt failed; awaiting retry", "error", runErr)
		}
	}
	// The job context may already be canceled; the outcome still needs recording.
	if err := r.repo.UpdateFields(dbctx.New(context.WithoutCancel(ctx)), job.ID, updates); err != nil {
		log.Warn("Failed to record job failure", "error", err)
	}
}

// ExecuteFinal claims a job that is still queued and runs it here as its
// final attempt. It reports false when the job already left the queue.
func (r *Runner) ExecuteFinal(ctx context.Context, jobID uuid.UUID) (bool, error) {
	attempt := r.policy.MaxAttempts
	if attempt < 1 {
		attempt = 1
	}
	job, err := r.repo.ClaimQueued(dbctx.New(ctx), jobID, attempt, r.clock.Now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, r.Execute(ctx, job, false)
}

// MarkAttempt records that an externally scheduled attempt started.
func (r *Runner) MarkAttempt(ctx context.Context, jobID uuid.UUID, attempt int) (*types.JobRun, error) {
	now := r.clock.Now()
	if err := r.repo.UpdateFields(dbctx.New(ctx), jobID, map[string]interface{}{
		"status":       jobs.StatusRunning,
		"stage":        jobs.StatusRunning,
		"attempts":     attempt,
		"locked_at":    now,
		"heartbeat_at": now,
	}); err != nil {
		return nil, err
	}
	job, err := r.repo.GetByID(dbctx.New(ctx), jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, Permanent(fmt.Errorf("job %s not found", jobID))
	}
	return job, nil
}
