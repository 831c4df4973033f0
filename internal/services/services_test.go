package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/contentgen"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/data/repos/testutil"
	"github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/jobs/generation"
	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/jobs/worker"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

type harness struct {
	db    *gorm.DB
	repos repos.Repos
	clk   *clock.Fixed
	bus   *bus.MemoryBus
	cur   *testutil.Curriculum

	recs        services.RecommendationService
	generation  services.GenerationService
	progression services.ProgressionService
	telemetry   services.TelemetryService
	attempts    services.AttemptService
	content     services.ContentService
	worker      *worker.Worker
}

func newHarness(t *testing.T, primary contentgen.Generator, policy runtime.RetryPolicy) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	h := &harness{
		db:  db,
		clk: clock.NewFixed(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		bus: bus.NewMemoryBus(),
		cur: testutil.SeedCurriculum(t, db),
	}
	h.repos = repos.New(db, log)

	fallback, err := contentgen.NewTemplateGenerator()
	require.NoError(t, err)
	if primary == nil {
		primary = fallback
	}
	th := distress.DefaultThresholds()
	notify := services.NewNotifier(h.bus, log)
	jobSvc := services.NewJobService(db, log, h.repos.JobRun, h.clk, nil, "")
	h.generation = services.NewGenerationService(db, log, h.repos, jobSvc, primary, fallback, notify, h.clk)
	h.recs = services.NewRecommendationService(db, log, h.repos, h.generation, notify, th, h.clk)
	h.progression = services.NewProgressionService(db, log, h.repos, h.clk)
	h.telemetry = services.NewTelemetryService(db, log, h.repos, h.recs, h.progression, th, h.clk)
	h.attempts = services.NewAttemptService(db, log, h.repos, h.recs, th, h.clk)
	h.content = services.NewContentService(db, log, h.repos, h.clk)

	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(generation.New(h.generation)))
	runner := runtime.NewRunner(db, log, h.repos.JobRun, reg, policy, h.clk)
	h.worker = worker.NewWorker(log, h.repos.JobRun, runner, worker.Config{Concurrency: 1}, h.clk)
	return h
}

func (h *harness) dbc() dbctx.Context { return dbctx.New(context.Background()) }

// drain runs queued jobs until none are pending, moving the clock past any
// retry backoff.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		ran, err := h.worker.RunOnce(context.Background())
		require.NoError(t, err)
		if ran {
			continue
		}
		pending, err := h.repos.JobRun.CountByStatus(h.dbc(), jobs.NonTerminalStatuses...)
		require.NoError(t, err)
		if pending == 0 {
			return
		}
		h.clk.Advance(2 * time.Hour)
	}
	t.Fatalf("job queue did not drain")
}

func boolPtr(b bool) *bool { return &b }

// requireTerms checks the stored priority and expiry of a recommendation.
func (h *harness) requireTerms(t *testing.T, id uuid.UUID, priority int, ttl time.Duration) {
	t.Helper()
	rec, err := h.repos.Recommendation.GetByID(h.dbc(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, priority, rec.Priority)
	require.NotNil(t, rec.ExpiresAt)
	assert.WithinDuration(t, rec.CreatedAt.Add(ttl), *rec.ExpiresAt, time.Second)
	assert.WithinDuration(t, h.clk.Now().Add(ttl), *rec.ExpiresAt, time.Second)
}

func TestStuckLearnerGetsChangeApproach(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	blockID := h.cur.A1.ID

	res, err := h.telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: blockID, DtSeconds: 950, ScrollPct: 80})
	require.NoError(t, err)
	assert.Equal(t, 950.0, res.TotalTime)
	assert.Equal(t, 1, res.Visits)
	require.NotNil(t, res.Recommendation)
	assert.Equal(t, learning.RecChangeApproach, res.Recommendation.Kind)
	require.NotNil(t, res.Recommendation.TargetBlockID)
	assert.Equal(t, blockID, *res.Recommendation.TargetBlockID)
	assert.Nil(t, res.Recommendation.GeneratedContentID)
	h.requireTerms(t, res.Recommendation.ID, 2, 7*24*time.Hour)

	h.drain(t)

	rec, err := h.repos.Recommendation.GetByID(h.dbc(), res.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID, "recommendation should link the generated content")

	content, err := h.repos.GeneratedContent.GetByID(h.dbc(), *rec.GeneratedContentID)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, learning.GenerationAlternative, content.Kind)
	assert.Equal(t, blockID, content.BlockID)
	assert.Equal(t, 1, h.bus.Count(bus.EventRecommendationCreated))
	assert.Equal(t, 1, h.bus.Count(bus.EventContentReady))
}

func TestRepeatedFailuresGetReviewBlock(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	in := services.AttemptInput{QuestionID: h.cur.QA.ID, IsCorrect: boolPtr(false), ResponseTimeS: 12, ChosenIDs: []string{"b"}}

	first, err := h.attempts.RecordAttempt(h.dbc(), h.cur.Learner.ID, in)
	require.NoError(t, err)
	assert.Nil(t, first.Recommendation)

	second, err := h.attempts.RecordAttempt(h.dbc(), h.cur.Learner.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, 2, second.Failures)
	require.NotNil(t, second.Recommendation)
	assert.Equal(t, learning.RecReviewBlock, second.Recommendation.Kind)
	// QA belongs to a quiz only, so the source block is the sequence's first visible block.
	require.NotNil(t, second.Recommendation.TargetBlockID)
	assert.Equal(t, h.cur.A1.ID, *second.Recommendation.TargetBlockID)
	h.requireTerms(t, second.Recommendation.ID, 1, 5*24*time.Hour)

	qa, err := h.repos.QuestionAnalytics.Get(h.dbc(), h.cur.Learner.ID, h.cur.QA.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b"}, []string(qa.FrequentErrors))

	h.drain(t)

	rec, err := h.repos.Recommendation.GetByID(h.dbc(), second.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID)
	content, err := h.repos.GeneratedContent.GetByID(h.dbc(), *rec.GeneratedContentID)
	require.NoError(t, err)
	assert.Equal(t, learning.GenerationRemediation, content.Kind)
	require.NotNil(t, content.QuestionID)
	assert.Equal(t, h.cur.QA.ID, *content.QuestionID)
}

func TestRepeatedStuckEventsDeduplicate(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	for i := 0; i < 3; i++ {
		_, err := h.telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.A1.ID, DtSeconds: 950})
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, testutil.CountActiveRecommendations(t, h.db, h.cur.Learner.ID, learning.RecChangeApproach, h.cur.A1.ID))

	all, err := h.repos.JobRun.CountByStatus(h.dbc())
	require.NoError(t, err)
	assert.EqualValues(t, 1, all, "one generation job for one recommendation")

	h.drain(t)
	assert.EqualValues(t, 1, testutil.CountActiveRecommendations(t, h.db, h.cur.Learner.ID, learning.RecChangeApproach, h.cur.A1.ID))
}

func TestCompletionCascade(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID

	res, err := h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.A1.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Block.Complete)
	assert.False(t, res.Sequence.Complete)

	res, err = h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.A2.ID, true)
	require.NoError(t, err)
	// A3 is optional and does not gate the sequence.
	assert.True(t, res.Sequence.Complete)
	assert.True(t, res.Sequence.Changed)
	assert.False(t, res.Module.Complete)

	res, err = h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.B1.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Module.Complete)
	assert.True(t, res.Course.Complete)
	require.NotNil(t, res.Course.CompletedAt)
	assert.True(t, res.Course.CompletedAt.Equal(h.clk.Now()))

	h.clk.Advance(time.Hour)
	res, err = h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.A1.ID, false)
	require.NoError(t, err)
	assert.False(t, res.Sequence.Complete)
	assert.False(t, res.Module.Complete)
	assert.False(t, res.Course.Complete)
	assert.Nil(t, res.Course.CompletedAt)

	seqB, err := h.repos.Progress.Get(h.dbc(), learning.LevelSequence, learner, h.cur.SeqB.ID)
	require.NoError(t, err)
	assert.True(t, seqB.Complete, "sibling sequence keeps its state")
}

func TestEmptySiblingSequenceCountsComplete(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID
	empty := domain.Sequence{ID: 30, ModuleID: h.cur.Module.ID, Title: "Reading", Position: 3}
	require.NoError(t, h.db.Create(&empty).Error)

	for _, b := range []int64{h.cur.A1.ID, h.cur.A2.ID} {
		_, err := h.progression.SetBlockCompletion(h.dbc(), learner, b, true)
		require.NoError(t, err)
	}
	res, err := h.progression.RecomputeFromBlock(h.dbc(), learner, h.cur.B1.ID)
	require.NoError(t, err)
	assert.False(t, res.Module.Complete, "B1 is still open")

	res, err = h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.B1.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Sequence.Complete)
	assert.True(t, res.Module.Complete, "a sequence without gating blocks does not hold the module back")
	assert.True(t, res.Course.Complete)

	st, err := h.repos.Progress.Get(h.dbc(), learning.LevelSequence, learner, empty.ID)
	require.NoError(t, err)
	assert.True(t, st.Complete)
	require.NotNil(t, st.CompletedAt)
}

func TestOnlyOptionalBlocksAndEmptyModuleCountComplete(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID
	require.NoError(t, h.db.Create(&domain.Module{ID: 2, CourseID: h.cur.Course.ID, Title: "Appendix", Position: 2}).Error)
	require.NoError(t, h.db.Model(&domain.Block{}).Where("id = ?", h.cur.B1.ID).Update("required", false).Error)

	res, err := h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.A1.ID, true)
	require.NoError(t, err)
	assert.False(t, res.Module.Complete)

	res, err = h.progression.SetBlockCompletion(h.dbc(), learner, h.cur.A2.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Module.Complete, "sequence B has no required blocks")
	assert.True(t, res.Course.Complete, "module 2 has no sequences")

	seqB, err := h.repos.Progress.Get(h.dbc(), learning.LevelSequence, learner, h.cur.SeqB.ID)
	require.NoError(t, err)
	assert.True(t, seqB.Complete)
	mod2, err := h.repos.Progress.Get(h.dbc(), learning.LevelModule, learner, 2)
	require.NoError(t, err)
	assert.True(t, mod2.Complete)
}

func TestCompletedFlagOnTrackCascades(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	res, err := h.telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.B1.ID, DtSeconds: 30, Completed: boolPtr(true)})
	require.NoError(t, err)
	require.NotNil(t, res.Cascade)
	assert.True(t, res.Cascade.Block.Complete)
	assert.True(t, res.Cascade.Sequence.Complete)
	assert.False(t, res.Cascade.Module.Complete)
}

type brokenProgression struct{ services.ProgressionService }

func (brokenProgression) SetBlockCompletion(dbc dbctx.Context, learnerID, blockID int64, complete bool) (*services.CascadeResult, error) {
	return nil, errors.New("database is locked")
}

func TestFailedCompletionCascadeFailsTrack(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	telemetry := services.NewTelemetryService(h.db, testutil.Logger(t), h.repos, h.recs, brokenProgression{}, distress.DefaultThresholds(), h.clk)

	_, err := telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.B1.ID, DtSeconds: 30, Completed: boolPtr(true)})
	require.Error(t, err)
	assert.Equal(t, 500, apierr.StatusOf(err))

	_, err = telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.B1.ID, DtSeconds: 30})
	require.NoError(t, err, "events without the flag do not touch progress")
}

func TestFinalAttemptFallsBackToTemplate(t *testing.T) {
	calls := 0
	failing := llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		calls++
		return llm.Response{}, errors.New("upstream unavailable")
	})
	primary := contentgen.NewLLMGenerator(failing, 0, testutil.Logger(t))
	policy := runtime.RetryPolicy{MaxAttempts: 2, BackoffBase: time.Second, BackoffMax: time.Minute}
	h := newHarness(t, primary, policy)

	res, err := h.telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.A2.ID, DtSeconds: 1200})
	require.NoError(t, err)
	require.NotNil(t, res.Recommendation)

	h.drain(t)
	assert.GreaterOrEqual(t, calls, 1)

	rec, err := h.repos.Recommendation.GetByID(h.dbc(), res.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID)
	content, err := h.repos.GeneratedContent.GetByID(h.dbc(), *rec.GeneratedContentID)
	require.NoError(t, err)
	assert.Equal(t, contentgen.GeneratorTemplate, content.Generator)
	assert.True(t, strings.Contains(content.BodyHTML, contentgen.TemplateMarker))

	succeeded, err := h.repos.JobRun.CountByStatus(h.dbc(), jobs.StatusSucceeded)
	require.NoError(t, err)
	assert.EqualValues(t, 1, succeeded)
}

func TestRejectedProviderFallsBackOnFirstAttempt(t *testing.T) {
	calls := 0
	rejecting := llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		calls++
		return llm.Response{}, &llm.ProviderError{Provider: "anthropic", StatusCode: 401, Err: errors.New("invalid x-api-key")}
	})
	primary := contentgen.NewLLMGenerator(rejecting, 0, testutil.Logger(t))
	h := newHarness(t, primary, runtime.DefaultRetryPolicy())

	res, err := h.telemetry.Track(h.dbc(), h.cur.Learner.ID, services.TrackInput{BlockID: h.cur.A1.ID, DtSeconds: 1000})
	require.NoError(t, err)
	require.NotNil(t, res.Recommendation)

	ran, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 1, calls)

	succeeded, err := h.repos.JobRun.CountByStatus(h.dbc(), jobs.StatusSucceeded)
	require.NoError(t, err)
	assert.EqualValues(t, 1, succeeded, "no retry is scheduled for a rejected request")

	rec, err := h.repos.Recommendation.GetByID(h.dbc(), res.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID)
	content, err := h.repos.GeneratedContent.GetByID(h.dbc(), *rec.GeneratedContentID)
	require.NoError(t, err)
	assert.Equal(t, contentgen.GeneratorTemplate, content.Generator)
}

func TestFatigueRecommendsPause(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID
	// Spread over blocks so no single block is stuck.
	for _, b := range []int64{h.cur.A1.ID, h.cur.A2.ID, h.cur.A3.ID, h.cur.B1.ID, h.cur.A1.ID} {
		_, err := h.telemetry.Track(h.dbc(), learner, services.TrackInput{BlockID: b, DtSeconds: 800})
		require.NoError(t, err)
	}

	out, err := h.recs.Evaluate(h.dbc(), learner)
	require.NoError(t, err)
	var fatigue bool
	for _, f := range out.Findings {
		if f.Kind == distress.KindFatigue {
			fatigue = true
		}
	}
	assert.True(t, fatigue)

	active, err := h.recs.ListActive(h.dbc(), learner)
	require.NoError(t, err)
	kinds := map[learning.RecommendationKind]int{}
	for _, r := range active {
		kinds[r.Kind]++
		if r.Kind == learning.RecPause {
			h.requireTerms(t, r.ID, 3, 2*time.Hour)
		}
	}
	assert.Equal(t, 1, kinds[learning.RecPause])
	assert.Equal(t, 1, kinds[learning.RecChangeApproach], "A1 crossed the stuck threshold")

	// A second evaluation changes nothing.
	again, err := h.recs.Evaluate(h.dbc(), learner)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
}

func TestTrackValidation(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID

	cases := []struct {
		name string
		in   services.TrackInput
	}{
		{"missing block", services.TrackInput{DtSeconds: 1}},
		{"negative dt", services.TrackInput{BlockID: h.cur.A1.ID, DtSeconds: -1}},
		{"scroll over 100", services.TrackInput{BlockID: h.cur.A1.ID, ScrollPct: 101}},
		{"bad interactions", services.TrackInput{BlockID: h.cur.A1.ID, Interactions: []byte("{nope")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.telemetry.Track(h.dbc(), learner, tc.in)
			require.Error(t, err)
			assert.True(t, apierr.IsValidation(err), "got %v", err)
		})
	}

	_, err := h.telemetry.Track(h.dbc(), learner, services.TrackInput{BlockID: 9999, DtSeconds: 1})
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))

	_, err = h.attempts.RecordAttempt(h.dbc(), learner, services.AttemptInput{QuestionID: 9999, IsCorrect: boolPtr(true)})
	require.Error(t, err)
	assert.True(t, apierr.IsNotFound(err))

	_, err = h.attempts.RecordAttempt(h.dbc(), learner, services.AttemptInput{QuestionID: h.cur.QA.ID})
	require.Error(t, err)
	assert.True(t, apierr.IsValidation(err))
}

func TestRecommendationAndContentOwnership(t *testing.T) {
	h := newHarness(t, nil, runtime.DefaultRetryPolicy())
	learner := h.cur.Learner.ID
	res, err := h.telemetry.Track(h.dbc(), learner, services.TrackInput{BlockID: h.cur.A1.ID, DtSeconds: 1000})
	require.NoError(t, err)
	require.NotNil(t, res.Recommendation)
	h.drain(t)

	rec, err := h.repos.Recommendation.GetByID(h.dbc(), res.Recommendation.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.GeneratedContentID)
	contentID := *rec.GeneratedContentID

	stranger := learner + 1000
	assert.True(t, apierr.IsNotFound(h.recs.MarkSeen(h.dbc(), stranger, rec.ID)))
	_, err = h.content.Consult(h.dbc(), stranger, contentID)
	assert.True(t, apierr.IsNotFound(err))
	assert.True(t, apierr.IsNotFound(h.content.Feedback(h.dbc(), stranger, contentID, true)))

	c, err := h.content.Consult(h.dbc(), learner, contentID)
	require.NoError(t, err)
	assert.True(t, c.Consulted)
	assert.Equal(t, 1, c.ConsultationCount)
	require.NoError(t, h.content.Feedback(h.dbc(), learner, contentID, false))
	stored, err := h.repos.GeneratedContent.GetByID(h.dbc(), contentID)
	require.NoError(t, err)
	require.NotNil(t, stored.Helpful)
	assert.False(t, *stored.Helpful)

	require.NoError(t, h.recs.MarkFollowed(h.dbc(), learner, rec.ID))
	active, err := h.recs.ListActive(h.dbc(), learner)
	require.NoError(t, err)
	assert.Empty(t, active)
	followed, err := h.repos.Recommendation.GetByID(h.dbc(), rec.ID)
	require.NoError(t, err)
	assert.True(t, followed.Followed)
	assert.True(t, followed.Seen)
}
