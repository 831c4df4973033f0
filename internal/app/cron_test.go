package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/yungbote/neurobridge-ale/internal/contentgen"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/testutil"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/jobs/generation"
	jobruntime "github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

func TestSchedulerEvaluatesActiveLearners(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cur := testutil.SeedCurriculum(t, db)
	r := repos.New(db, log)
	clk := clock.NewFixed(time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC))
	dbc := dbctx.New(context.Background())

	// Stuck on A1 without going through Track, so only the sweep can notice.
	_, err := r.BlockAnalytics.Fold(dbc, cur.Learner.ID, cur.A1.ID, clk.Now().Add(-2*time.Hour), func(a *types.BlockAnalytics) {
		a.TimeOnBlock = 1200
		a.Visits = 3
		a.LastVisitAt = clk.Now().Add(-2 * time.Hour)
	})
	require.NoError(t, err)

	tmpl, err := contentgen.NewTemplateGenerator()
	require.NoError(t, err)
	notify := services.NewNotifier(bus.NewMemoryBus(), log)
	jobs := services.NewJobService(db, log, r.JobRun, clk, nil, "")
	gen := services.NewGenerationService(db, log, r, jobs, tmpl, tmpl, notify, clk)
	recs := services.NewRecommendationService(db, log, r, gen, notify, distress.DefaultThresholds(), clk)

	s := NewScheduler(log, r.BlockAnalytics, recs, Config{ActiveWindow: 30 * 24 * time.Hour, EvaluateParallelism: 2}, clk)
	n, err := s.EvaluateActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.EqualValues(t, 1, testutil.CountActiveRecommendations(t, db, cur.Learner.ID, learning.RecChangeApproach, cur.A1.ID))

	// Outside the activity window nobody is evaluated.
	clk.Advance(31 * 24 * time.Hour)
	n, err = s.EvaluateActive(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// unreachableTemporal refuses every workflow start.
type unreachableTemporal struct {
	temporalclient.Client
	starts int
}

func (u *unreachableTemporal) ExecuteWorkflow(ctx context.Context, opts temporalclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalclient.WorkflowRun, error) {
	u.starts++
	return nil, errors.New("dial tcp 127.0.0.1:7233: connection refused")
}

func TestDispatchSweepRunsStrandedJobsOnTemplate(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cur := testutil.SeedCurriculum(t, db)
	r := repos.New(db, log)
	clk := clock.NewFixed(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	dbc := dbctx.New(ctx)

	tmpl, err := contentgen.NewTemplateGenerator()
	require.NoError(t, err)
	llmCalls := 0
	primary := contentgen.NewLLMGenerator(llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		llmCalls++
		return llm.Response{Text: "<p>from the model</p>"}, nil
	}), 0, log)

	tc := &unreachableTemporal{}
	notify := services.NewNotifier(bus.NewMemoryBus(), log)
	jobSvc := services.NewJobService(db, log, r.JobRun, clk, tc, "ale-test")
	gen := services.NewGenerationService(db, log, r, jobSvc, primary, tmpl, notify, clk)
	recs := services.NewRecommendationService(db, log, r, gen, notify, distress.DefaultThresholds(), clk)
	telemetry := services.NewTelemetryService(db, log, r, recs, services.NewProgressionService(db, log, r, clk), distress.DefaultThresholds(), clk)

	reg := jobruntime.NewRegistry()
	require.NoError(t, reg.Register(generation.New(gen)))
	runner := jobruntime.NewRunner(db, log, r.JobRun, reg, jobruntime.DefaultRetryPolicy(), clk)
	s := NewScheduler(log, r.BlockAnalytics, recs, Config{DispatchGrace: 10 * time.Minute}, clk).WithDispatchSweep(jobSvc, runner)

	res, err := telemetry.Track(dbc, cur.Learner.ID, services.TrackInput{BlockID: cur.A1.ID, DtSeconds: 1000})
	require.NoError(t, err, "a dispatch failure does not fail the event")
	require.NotNil(t, res.Recommendation)
	require.Equal(t, 1, tc.starts)

	pending, err := r.JobRun.ListUndispatched(dbc, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, jobs.StatusQueued, pending[0].Status)
	require.Equal(t, jobs.StageDispatchPending, pending[0].Stage)

	// Inside the grace period the sweep only retries the dispatch.
	n, err := s.SweepDispatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 2, tc.starts)

	clk.Advance(11 * time.Minute)
	n, err = s.SweepDispatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := r.JobRun.GetByID(dbc, pending[0].ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StatusSucceeded, job.Status)
	require.Equal(t, jobruntime.DefaultRetryPolicy().MaxAttempts, job.Attempts)

	rec, err := r.Recommendation.GetByID(dbc, res.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID, "the recommendation gets a payload")
	content, err := r.GeneratedContent.GetByID(dbc, *rec.GeneratedContentID)
	require.NoError(t, err)
	require.Equal(t, contentgen.GeneratorTemplate, content.Generator)
	require.Zero(t, llmCalls)

	// Nothing is left for a later sweep.
	n, err = s.SweepDispatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(testutil.Logger(t), nil, nil, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Error(t, s.Start(ctx, "not a spec", "0 */15 * * * *"))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("T_STUCK", "600")
	t.Setenv("F_STUCK", "3")
	t.Setenv("JOB_MAX_ATTEMPTS", "6")
	t.Setenv("JOB_BACKOFF_BASE", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("LLM_PROVIDER", "openai")

	cfg := LoadConfig(testutil.Logger(t))
	require.Equal(t, 600.0, cfg.Thresholds.StuckSeconds)
	require.Equal(t, 3, cfg.Thresholds.FailureCount)
	require.Equal(t, 3600.0, cfg.Thresholds.FatigueSeconds)
	require.Equal(t, 6, cfg.Retry.MaxAttempts)
	require.Equal(t, 45*time.Second, cfg.Retry.BackoffBase)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.True(t, cfg.MigrateCatalog)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "0 0 3 * * *", cfg.CronEvaluate)
	require.Equal(t, "0 * * * * *", cfg.CronDispatch)
	require.Equal(t, 10*time.Minute, cfg.DispatchGrace)
	require.False(t, cfg.Temporal.Enabled())
}
