package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

// Workflow type registered by the Temporal worker. Kept literal to avoid an
// import cycle with temporalx.
const generationWorkflowName = "generation_job"

type EnqueueRequest struct {
	LearnerID  int64
	JobType    string
	DedupKey   string
	EntityType string
	EntityID   *int64
	Payload    map[string]any
}

type JobService interface {
	// Enqueue inserts a queued job_run row. With a dedup key, a pending job
	// holding the same key is returned instead and created is false.
	Enqueue(dbc dbctx.Context, req EnqueueRequest) (job *types.JobRun, created bool, err error)
	// Dispatch starts the Temporal workflow for a queued job. It is a no-op
	// when Temporal is not configured; the polling worker picks the job up.
	// A job that fails to dispatch stays queued for RedispatchPending.
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	// RedispatchPending retries dispatch for queued jobs that never reached
	// Temporal. Jobs still failing to dispatch once older than strandedAfter
	// are returned for local execution.
	RedispatchPending(ctx context.Context, strandedAfter time.Duration) (dispatched int, stranded []*types.JobRun, err error)
	Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.JobRunRepo
	clock clock.Clock

	temporal          temporalsdkclient.Client
	temporalTaskQueue string
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	clk clock.Clock,
	tc temporalsdkclient.Client,
	taskQueue string,
) JobService {
	if clk == nil {
		clk = clock.Real()
	}
	return &jobService{
		db:                db,
		log:               baseLog.With("service", "JobService"),
		repo:              repo,
		clock:             clk,
		temporal:          tc,
		temporalTaskQueue: strings.TrimSpace(taskQueue),
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, req EnqueueRequest) (*types.JobRun, bool, error) {
	if req.LearnerID <= 0 {
		return nil, false, fmt.Errorf("missing learner_id")
	}
	if req.JobType == "" {
		return nil, false, fmt.Errorf("missing job_type")
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	now := s.clock.Now()
	job := &types.JobRun{
		ID:         uuid.New(),
		LearnerID:  req.LearnerID,
		JobType:    req.JobType,
		DedupKey:   req.DedupKey,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Status:     jobs.StatusQueued,
		Stage:      jobs.StatusQueued,
		Payload:    datatypes.JSON(b),
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	stored, created, err := s.repo.Enqueue(dbc, job)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job: %w", err)
	}
	if !created {
		s.log.Debug("Job already pending", "job_id", stored.ID, "dedup_key", req.DedupKey)
		return stored, false, nil
	}

	// Inside a real transaction the workflow must not start before commit;
	// RedispatchPending starts it afterwards.
	if isDBTransaction(dbc.Tx) {
		s.log.Debug("Job enqueued inside transaction; left for the dispatch sweep", "job_id", stored.ID, "job_type", stored.JobType)
		return stored, true, nil
	}
	if err := s.Dispatch(dbctx.Context{Ctx: dbc.Ctx}, stored.ID); err != nil {
		s.log.Warn("Job dispatch failed; left queued for the dispatch sweep", "job_id", stored.ID, "error", err)
	}
	return stored, true, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if s == nil || s.temporal == nil {
		return nil
	}
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.clock.Now()
	err := s.startWorkflow(ctx, jobID)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if err == nil || errors.As(err, &already) {
		return s.repo.UpdateQueued(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{
			"stage":      jobs.StageDispatched,
			"updated_at": now,
		})
	}

	// The row stays queued so the dispatch sweep can retry it.
	if uErr := s.repo.UpdateQueued(dbctx.Context{Ctx: ctx}, jobID, map[string]interface{}{
		"stage":         jobs.StageDispatchPending,
		"error":         err.Error(),
		"last_error_at": now,
		"updated_at":    now,
	}); uErr != nil {
		s.log.Warn("Failed to record dispatch failure", "job_id", jobID, "error", uErr)
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) RedispatchPending(ctx context.Context, strandedAfter time.Duration) (int, []*types.JobRun, error) {
	if s == nil || s.temporal == nil {
		return 0, nil, nil
	}
	pending, err := s.repo.ListUndispatched(dbctx.New(ctx), 100)
	if err != nil {
		return 0, nil, fmt.Errorf("list undispatched jobs: %w", err)
	}
	var (
		dispatched int
		stranded   []*types.JobRun
	)
	for _, job := range pending {
		if ctx.Err() != nil {
			return dispatched, stranded, ctx.Err()
		}
		if err := s.Dispatch(dbctx.New(ctx), job.ID); err == nil {
			dispatched++
			continue
		}
		if s.clock.Now().Sub(job.CreatedAt) >= strandedAfter {
			stranded = append(stranded, job)
		}
	}
	if dispatched > 0 || len(stranded) > 0 {
		s.log.Info("Dispatch sweep", "dispatched", dispatched, "stranded", len(stranded), "pending", len(pending))
	}
	return dispatched, stranded, nil
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID) error {
	tq := s.temporalTaskQueue
	if tq == "" {
		tq = "neurobridge-ale"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowRunTimeout:    24 * time.Hour,
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, generationWorkflowName)
	return err
}

func (s *jobService) Get(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	return s.repo.GetByID(dbc, jobID)
}
