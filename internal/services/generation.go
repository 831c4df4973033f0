package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/contentgen"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

const JobTypeGenerateContent = "generate_content"

// GenerationRequest identifies one piece of content to generate. The dedup
// key (kind, learner, question, block) makes scheduling idempotent.
type GenerationRequest struct {
	Kind       learning.GenerationKind
	LearnerID  int64
	BlockID    int64
	QuestionID *int64
	// RecommendationKind names the recommendation the content should attach
	// to. Empty means the default owner for Kind.
	RecommendationKind learning.RecommendationKind
}

func (r GenerationRequest) DedupKey() string {
	var q int64
	if r.QuestionID != nil {
		q = *r.QuestionID
	}
	return strings.Join([]string{
		string(r.Kind),
		strconv.FormatInt(r.LearnerID, 10),
		strconv.FormatInt(q, 10),
		strconv.FormatInt(r.BlockID, 10),
	}, ":")
}

func (r GenerationRequest) Payload() map[string]any {
	p := map[string]any{
		"kind":       string(r.Kind),
		"learner_id": r.LearnerID,
		"block_id":   r.BlockID,
	}
	if r.QuestionID != nil {
		p["question_id"] = *r.QuestionID
	}
	if r.RecommendationKind != "" {
		p["recommendation_kind"] = string(r.RecommendationKind)
	}
	return p
}

// ownerKind is the recommendation a fresh artifact is linked to first.
func (r GenerationRequest) ownerKind() learning.RecommendationKind {
	if r.RecommendationKind.Valid() {
		return r.RecommendationKind
	}
	switch r.Kind {
	case learning.GenerationRemediation:
		return learning.RecReviewBlock
	case learning.GenerationAlternative:
		return learning.RecChangeApproach
	}
	return learning.RecAlternativeContent
}

// standaloneKind is the recommendation created when no owner is active.
func (r GenerationRequest) standaloneKind() learning.RecommendationKind {
	if r.Kind == learning.GenerationRemediation {
		return learning.RecReviewBlock
	}
	return learning.RecAlternativeContent
}

// GenerationJob is the scheduler's view of the attempt being executed.
type GenerationJob struct {
	ID      uuid.UUID
	Attempt int
	Final   bool
}

type GenerationResult struct {
	Content        *types.GeneratedContent
	Recommendation *types.Recommendation
	// Created is false when an earlier attempt of the same job already persisted.
	Created bool
}

type GenerationService interface {
	ScheduleRemediation(dbc dbctx.Context, learnerID, questionID, blockID int64) (*types.JobRun, bool, error)
	ScheduleAlternative(dbc dbctx.Context, learnerID, blockID int64) (*types.JobRun, bool, error)
	Schedule(dbc dbctx.Context, req GenerationRequest) (*types.JobRun, bool, error)
	// Execute generates and persists content for one job attempt. Generator
	// failures return an error and persist nothing. The final attempt always
	// uses the fallback generator.
	Execute(ctx context.Context, job GenerationJob, req GenerationRequest) (*GenerationResult, error)
}

type generationService struct {
	db        *gorm.DB
	log       *logger.Logger
	catalog   repos.CatalogRepo
	questions repos.QuestionAnalyticsRepo
	content   repos.GeneratedContentRepo
	recs      repos.RecommendationRepo
	jobs      JobService
	primary   contentgen.Generator
	fallback  contentgen.Generator
	notify    Notifier
	clock     clock.Clock
}

// NewGenerationService wires the boot-time generator choice. primary may be
// the fallback itself when no LLM is configured.
func NewGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r repos.Repos,
	jobs JobService,
	primary contentgen.Generator,
	fallback contentgen.Generator,
	notify Notifier,
	clk clock.Clock,
) GenerationService {
	if clk == nil {
		clk = clock.Real()
	}
	if primary == nil {
		primary = fallback
	}
	return &generationService{
		db:        db,
		log:       baseLog.With("service", "GenerationService"),
		catalog:   r.Catalog,
		questions: r.QuestionAnalytics,
		content:   r.GeneratedContent,
		recs:      r.Recommendation,
		jobs:      jobs,
		primary:   primary,
		fallback:  fallback,
		notify:    notify,
		clock:     clk,
	}
}

func (s *generationService) ScheduleRemediation(dbc dbctx.Context, learnerID, questionID, blockID int64) (*types.JobRun, bool, error) {
	q := questionID
	return s.Schedule(dbc, GenerationRequest{
		Kind:       learning.GenerationRemediation,
		LearnerID:  learnerID,
		BlockID:    blockID,
		QuestionID: &q,
	})
}

func (s *generationService) ScheduleAlternative(dbc dbctx.Context, learnerID, blockID int64) (*types.JobRun, bool, error) {
	return s.Schedule(dbc, GenerationRequest{
		Kind:      learning.GenerationAlternative,
		LearnerID: learnerID,
		BlockID:   blockID,
	})
}

func (s *generationService) Schedule(dbc dbctx.Context, req GenerationRequest) (*types.JobRun, bool, error) {
	if !req.Kind.Valid() {
		return nil, false, apierr.Validation("invalid_generation_kind", "unknown generation kind %q", req.Kind)
	}
	if req.LearnerID <= 0 || req.BlockID <= 0 {
		return nil, false, apierr.Validation("invalid_generation_target", "learner and block are required")
	}
	blockID := req.BlockID
	job, created, err := s.jobs.Enqueue(dbc, EnqueueRequest{
		LearnerID:  req.LearnerID,
		JobType:    JobTypeGenerateContent,
		DedupKey:   req.DedupKey(),
		EntityType: "block",
		EntityID:   &blockID,
		Payload:    req.Payload(),
	})
	if err != nil {
		return job, created, err
	}
	if created {
		s.log.Debug("Generation scheduled", "job_id", job.ID, "dedup_key", req.DedupKey())
	}
	return job, created, nil
}

func (s *generationService) Execute(ctx context.Context, job GenerationJob, req GenerationRequest) (*GenerationResult, error) {
	ctx, span := observability.StartSpan(ctx, "generation.execute",
		attribute.String("ale.generation.kind", string(req.Kind)),
		attribute.Int64("ale.learner_id", req.LearnerID),
		attribute.Int64("ale.block_id", req.BlockID),
		attribute.Int("ale.job.attempt", job.Attempt),
	)
	defer span.End()

	if !req.Kind.Valid() {
		return nil, apierr.Validation("invalid_generation_kind", "unknown generation kind %q", req.Kind)
	}
	dbc := dbctx.New(ctx)
	log := s.log.With("job_id", job.ID.String(), "kind", string(req.Kind), "learner_id", req.LearnerID, "block_id", req.BlockID)

	if job.ID != uuid.Nil {
		prior, err := s.content.GetBySourceJob(dbc, job.ID)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			// An earlier attempt persisted but did not finish; only the link may be missing.
			rec, err := s.attach(dbc, req, prior, s.clock.Now())
			if err != nil {
				return nil, err
			}
			return &GenerationResult{Content: prior, Recommendation: rec}, nil
		}
	}

	in, err := s.loadInput(dbc, req)
	if err != nil {
		return nil, err
	}

	gen := s.primary
	if job.Final {
		gen = s.fallback
	}
	started := time.Now()
	out, err := gen.Generate(ctx, in)
	if err != nil {
		observability.Current().IncGenerationJob(string(req.Kind), "error", gen.Name())
		span.RecordError(err)
		log.Warn("Content generation failed", "generator", gen.Name(), "attempt", job.Attempt, "error", err)
		return nil, fmt.Errorf("generate %s content: %w", req.Kind, err)
	}
	// Cancelled jobs never persist partial output.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row := &types.GeneratedContent{
		LearnerID:      req.LearnerID,
		BlockID:        req.BlockID,
		QuestionID:     req.QuestionID,
		Kind:           req.Kind,
		Title:          out.Title,
		BodyHTML:       out.BodyHTML,
		BodyMarkdown:   out.BodyMarkdown,
		TargetConcepts: datatypes.JSONSlice[string](out.TargetConcepts),
		Difficulty:     out.Difficulty,
		Generator:      out.Generator,
		CreatedAt:      now,
	}
	if job.ID != uuid.Nil {
		id := job.ID
		row.SourceJobID = &id
	}

	res := &GenerationResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbc.WithTx(tx)
		stored, created, err := s.content.CreateOnce(txc, row)
		if err != nil {
			return fmt.Errorf("persist generated content: %w", err)
		}
		rec, err := s.attach(txc, req, stored, now)
		if err != nil {
			return err
		}
		res.Content, res.Recommendation, res.Created = stored, rec, created
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.Current().IncGenerationJob(string(req.Kind), "succeeded", out.Generator)
	log.Info("Generated content",
		"content_id", res.Content.ID.String(),
		"generator", out.Generator,
		"attempt", job.Attempt,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if res.Created && s.notify != nil {
		s.notify.ContentReady(ctx, res.Content, res.Recommendation)
	}
	return res, nil
}

func (s *generationService) loadInput(dbc dbctx.Context, req GenerationRequest) (contentgen.Input, error) {
	in := contentgen.Input{Kind: req.Kind, LearnerID: req.LearnerID}
	learner, err := s.catalog.GetLearner(dbc, req.LearnerID)
	if err != nil {
		return in, err
	}
	if learner == nil {
		return in, apierr.NotFound("learner_not_found", "learner %d not found", req.LearnerID)
	}
	block, err := s.catalog.GetBlock(dbc, req.BlockID)
	if err != nil {
		return in, err
	}
	if block == nil {
		return in, apierr.NotFound("block_not_found", "block %d not found", req.BlockID)
	}
	in.Block = block

	if req.QuestionID == nil {
		return in, nil
	}
	q, err := s.catalog.GetQuestion(dbc, *req.QuestionID)
	if err != nil {
		return in, err
	}
	if q == nil {
		return in, apierr.NotFound("question_not_found", "question %d not found", *req.QuestionID)
	}
	in.Question = q
	qa, err := s.questions.Get(dbc, req.LearnerID, q.ID)
	if err != nil {
		return in, err
	}
	if qa != nil {
		in.Failures = qa.Failures
		in.FragileConcepts = append([]string(nil), qa.FragileConcepts...)
		in.FrequentErrors = append([]string(nil), qa.FrequentErrors...)
	}
	return in, nil
}

// attach links content to the learner's active owner recommendation for the
// block, or creates a standalone one carrying the content.
func (s *generationService) attach(dbc dbctx.Context, req GenerationRequest, content *types.GeneratedContent, now time.Time) (*types.Recommendation, error) {
	blockID := content.BlockID
	kinds := []learning.RecommendationKind{req.ownerKind()}
	if sk := req.standaloneKind(); sk != kinds[0] {
		kinds = append(kinds, sk)
	}
	for _, kind := range kinds {
		rec, err := s.recs.GetActive(dbc, content.LearnerID, kind, blockID, now)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if rec.GeneratedContentID != nil && *rec.GeneratedContentID == content.ID {
			return rec, nil
		}
		msg := readyMessage(rec.Kind)
		if err := s.recs.LinkContent(dbc, rec.ID, content.ID, msg); err != nil {
			return nil, fmt.Errorf("link content to recommendation: %w", err)
		}
		id := content.ID
		rec.GeneratedContentID = &id
		rec.Message = msg
		return rec, nil
	}

	kind := req.standaloneKind()
	expires := now.Add(kind.DefaultTTL())
	id := content.ID
	rec, created, err := s.recs.CreateIfAbsent(dbc, &types.Recommendation{
		LearnerID:          content.LearnerID,
		Kind:               kind,
		Message:            readyMessage(kind),
		TargetBlockID:      &blockID,
		GeneratedContentID: &id,
		Priority:           kind.DefaultPriority(),
		CreatedAt:          now,
		ExpiresAt:          &expires,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("create %s recommendation: %w", kind, err)
	}
	observability.Current().IncRecommendation(string(kind), created)
	if !created && (rec.GeneratedContentID == nil || *rec.GeneratedContentID != id) {
		if err := s.recs.LinkContent(dbc, rec.ID, id, readyMessage(rec.Kind)); err != nil {
			return nil, fmt.Errorf("link content to recommendation: %w", err)
		}
		rec.GeneratedContentID = &id
		rec.Message = readyMessage(rec.Kind)
	}
	return rec, nil
}
