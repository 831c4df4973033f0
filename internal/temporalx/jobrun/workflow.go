package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
)

// Workflows carries the retry policy into workflow code. Every worker must be
// started with the same policy for replays to stay deterministic.
type Workflows struct {
	Policy          runtime.RetryPolicy
	ActivityTimeout time.Duration
}

// Run executes one generation job. Temporal owns the retries; the activity
// reports the attempt it is on so the last one can switch generators.
func (w *Workflows) Run(ctx workflow.Context) (ExecuteResult, error) {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return ExecuteResult{}, fmt.Errorf("jobrun: missing job_id")
	}

	timeout := w.ActivityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxAttempts := w.Policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    w.Policy.BackoffBase,
			BackoffCoefficient: 2.0,
			MaximumInterval:    w.Policy.BackoffMax,
			MaximumAttempts:    int32(maxAttempts),
		},
	})

	var res ExecuteResult
	if err := workflow.ExecuteActivity(ctx, ActivityExecute, jobID).Get(ctx, &res); err != nil {
		workflow.GetLogger(ctx).Warn("Generation job failed", "job_id", jobID, "error", err)
		return res, err
	}
	return res, nil
}
