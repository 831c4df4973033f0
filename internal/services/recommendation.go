package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

const (
	msgChangeApproachPreparing = "This block seems to be taking a while. We are preparing an alternative explanation for you."
	msgChangeApproachReady     = "Stuck on this block? Try this alternative explanation."
	msgReviewPreparing         = "Review this block before trying the question again. We are preparing a focused explanation."
	msgReviewReady             = "Review this block with an explanation focused on what went wrong."
	msgAlternativeReady        = "Try this alternative explanation of the block."
	msgPause                   = "You have been studying for over an hour. Take a short break before continuing."
)

// readyMessage is the message of a recommendation once content is linked.
func readyMessage(kind learning.RecommendationKind) string {
	switch kind {
	case learning.RecChangeApproach:
		return msgChangeApproachReady
	case learning.RecReviewBlock:
		return msgReviewReady
	}
	return msgAlternativeReady
}

type EvaluateResult struct {
	Findings []distress.Finding
	// Created holds only the recommendations this run inserted.
	Created []*types.Recommendation
}

type RecommendationService interface {
	// Evaluate runs every detector for the learner and materializes findings.
	// Running it twice on the same state creates nothing the second time.
	Evaluate(dbc dbctx.Context, learnerID int64) (*EvaluateResult, error)
	EnsureChangeApproach(dbc dbctx.Context, learnerID, blockID int64) (*types.Recommendation, bool, error)
	EnsureReviewBlock(dbc dbctx.Context, learnerID, questionID, blockID int64) (*types.Recommendation, bool, error)
	EnsurePause(dbc dbctx.Context, learnerID int64) (*types.Recommendation, bool, error)

	ListActive(dbc dbctx.Context, learnerID int64) ([]*types.Recommendation, error)
	MarkSeen(dbc dbctx.Context, learnerID int64, id uuid.UUID) error
	MarkFollowed(dbc dbctx.Context, learnerID int64, id uuid.UUID) error
	ExpireStale(dbc dbctx.Context) (int64, error)
}

type recommendationService struct {
	db         *gorm.DB
	log        *logger.Logger
	catalog    repos.CatalogRepo
	blocks     repos.BlockAnalyticsRepo
	questions  repos.QuestionAnalyticsRepo
	recs       repos.RecommendationRepo
	content    repos.GeneratedContentRepo
	generation GenerationService
	notify     Notifier
	thresholds distress.Thresholds
	clock      clock.Clock
}

func NewRecommendationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r repos.Repos,
	generation GenerationService,
	notify Notifier,
	th distress.Thresholds,
	clk clock.Clock,
) RecommendationService {
	if clk == nil {
		clk = clock.Real()
	}
	return &recommendationService{
		db:         db,
		log:        baseLog.With("service", "RecommendationService"),
		catalog:    r.Catalog,
		blocks:     r.BlockAnalytics,
		questions:  r.QuestionAnalytics,
		recs:       r.Recommendation,
		content:    r.GeneratedContent,
		generation: generation,
		notify:     notify,
		thresholds: th,
		clock:      clk,
	}
}

func (s *recommendationService) Evaluate(dbc dbctx.Context, learnerID int64) (*EvaluateResult, error) {
	learner, err := s.catalog.GetLearner(dbc, learnerID)
	if err != nil {
		return nil, err
	}
	if learner == nil {
		return nil, apierr.NotFound("learner_not_found", "learner %d not found", learnerID)
	}
	now := s.clock.Now()

	recent, err := s.blocks.ListVisitedSince(dbc, learnerID, now.Add(-distress.FatigueWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent block analytics: %w", err)
	}
	long, err := s.blocks.ListAtLeast(dbc, learnerID, s.thresholds.StuckSeconds)
	if err != nil {
		return nil, fmt.Errorf("list long block analytics: %w", err)
	}
	failing, err := s.questions.ListFailingAtLeast(dbc, learnerID, s.thresholds.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("list failing questions: %w", err)
	}

	rows := mergeBlockAnalytics(recent, long)
	ids := make([]int64, 0, len(long))
	for _, a := range long {
		ids = append(ids, a.BlockID)
	}
	catalogBlocks, err := s.catalog.GetBlocksByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	index := make(map[int64]*types.Block, len(catalogBlocks))
	for _, b := range catalogBlocks {
		index[b.ID] = b
	}

	findings := distress.Detect(distress.Input{
		LearnerID:  learnerID,
		Blocks:     rows,
		Questions:  failing,
		BlockIndex: index,
	}, now, s.thresholds)

	out := &EvaluateResult{Findings: findings}
	for _, f := range findings {
		rec, created, err := s.materialize(dbc, f)
		if err != nil {
			return out, err
		}
		if created {
			out.Created = append(out.Created, rec)
		}
	}
	s.log.Debug("Evaluated learner", "learner_id", learnerID, "findings", len(findings), "created", len(out.Created))
	return out, nil
}

func mergeBlockAnalytics(sets ...[]*types.BlockAnalytics) []*types.BlockAnalytics {
	seen := map[int64]bool{}
	var out []*types.BlockAnalytics
	for _, set := range sets {
		for _, a := range set {
			if a == nil || seen[a.BlockID] {
				continue
			}
			seen[a.BlockID] = true
			out = append(out, a)
		}
	}
	return out
}

func (s *recommendationService) materialize(dbc dbctx.Context, f distress.Finding) (*types.Recommendation, bool, error) {
	switch f.Kind {
	case distress.KindStuck:
		return s.EnsureChangeApproach(dbc, f.LearnerID, f.BlockID)
	case distress.KindFatigue:
		return s.EnsurePause(dbc, f.LearnerID)
	case distress.KindFragile:
		q, err := s.catalog.GetQuestion(dbc, f.QuestionID)
		if err != nil || q == nil {
			return nil, false, err
		}
		block, err := resolveSourceBlock(dbc, s.catalog, q)
		if err != nil {
			return nil, false, err
		}
		if block == nil {
			s.log.Debug("Fragile question has no source block", "question_id", f.QuestionID)
			return nil, false, nil
		}
		return s.EnsureReviewBlock(dbc, f.LearnerID, f.QuestionID, block.ID)
	}
	return nil, false, nil
}

// EnsureChangeApproach links existing alternative content when there is
// some; otherwise it schedules generation for a newly created recommendation.
func (s *recommendationService) EnsureChangeApproach(dbc dbctx.Context, learnerID, blockID int64) (*types.Recommendation, bool, error) {
	existing, err := s.content.LatestFor(dbc, learnerID, blockID, learning.GenerationAlternative)
	if err != nil {
		return nil, false, err
	}
	rec, created, err := s.create(dbc, learnerID, learning.RecChangeApproach, &blockID, existing, msgChangeApproachPreparing)
	if err != nil || !created || existing != nil {
		return rec, created, err
	}
	if _, _, err := s.generation.ScheduleAlternative(dbc, learnerID, blockID); err != nil {
		s.log.Warn("Schedule alternative failed", "learner_id", learnerID, "block_id", blockID, "error", err)
	}
	return rec, created, nil
}

func (s *recommendationService) EnsureReviewBlock(dbc dbctx.Context, learnerID, questionID, blockID int64) (*types.Recommendation, bool, error) {
	existing, err := s.content.LatestFor(dbc, learnerID, blockID, learning.GenerationRemediation)
	if err != nil {
		return nil, false, err
	}
	rec, created, err := s.create(dbc, learnerID, learning.RecReviewBlock, &blockID, existing, msgReviewPreparing)
	if err != nil || !created || existing != nil {
		return rec, created, err
	}
	if _, _, err := s.generation.ScheduleRemediation(dbc, learnerID, questionID, blockID); err != nil {
		s.log.Warn("Schedule remediation failed", "learner_id", learnerID, "question_id", questionID, "block_id", blockID, "error", err)
	}
	return rec, created, nil
}

func (s *recommendationService) EnsurePause(dbc dbctx.Context, learnerID int64) (*types.Recommendation, bool, error) {
	return s.create(dbc, learnerID, learning.RecPause, nil, nil, msgPause)
}

func (s *recommendationService) create(dbc dbctx.Context, learnerID int64, kind learning.RecommendationKind, blockID *int64, content *types.GeneratedContent, message string) (*types.Recommendation, bool, error) {
	now := s.clock.Now()
	expires := now.Add(kind.DefaultTTL())
	rec := &types.Recommendation{
		LearnerID:     learnerID,
		Kind:          kind,
		Message:       message,
		TargetBlockID: blockID,
		Priority:      kind.DefaultPriority(),
		CreatedAt:     now,
		ExpiresAt:     &expires,
	}
	if content != nil {
		id := content.ID
		rec.GeneratedContentID = &id
		rec.Message = readyMessage(kind)
	}
	stored, created, err := s.recs.CreateIfAbsent(dbc, rec, now)
	if err != nil {
		return nil, false, fmt.Errorf("create %s recommendation: %w", kind, err)
	}
	observability.Current().IncRecommendation(string(kind), created)
	if created && s.notify != nil {
		s.notify.RecommendationCreated(dbc.Ctx, stored)
	}
	return stored, created, nil
}

func (s *recommendationService) ListActive(dbc dbctx.Context, learnerID int64) ([]*types.Recommendation, error) {
	return s.recs.ListActive(dbc, learnerID, s.clock.Now())
}

func (s *recommendationService) MarkSeen(dbc dbctx.Context, learnerID int64, id uuid.UUID) error {
	ok, err := s.recs.MarkSeen(dbc, learnerID, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("recommendation_not_found", "recommendation %s not found", id)
	}
	return nil
}

func (s *recommendationService) MarkFollowed(dbc dbctx.Context, learnerID int64, id uuid.UUID) error {
	ok, err := s.recs.MarkFollowed(dbc, learnerID, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFound("recommendation_not_found", "recommendation %s not found", id)
	}
	return nil
}

func (s *recommendationService) ExpireStale(dbc dbctx.Context) (int64, error) {
	n, err := s.recs.ExpireStale(dbc, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("Expired stale recommendations", "count", n)
	}
	return n, nil
}
