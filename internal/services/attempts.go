package services

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
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

type AttemptInput struct {
	QuestionID    int64    `json:"question_id" validate:"required,gt=0"`
	IsCorrect     *bool    `json:"is_correct" validate:"required"`
	ResponseTimeS float64  `json:"response_time_s" validate:"gte=0"`
	ChosenIDs     []string `json:"chosen_ids,omitempty" validate:"omitempty,dive,max=128"`
	Concepts      []string `json:"concepts,omitempty" validate:"omitempty,dive,max=128"`
}

type AttemptResult struct {
	Attempts int `json:"attempts"`
	Failures int `json:"failures"`
	// Recommendation is set when this attempt crossed the failure threshold.
	Recommendation *types.Recommendation `json:"-"`
}

type AttemptService interface {
	RecordAttempt(dbc dbctx.Context, learnerID int64, in AttemptInput) (*AttemptResult, error)
}

type attemptService struct {
	db         *gorm.DB
	log        *logger.Logger
	catalog    repos.CatalogRepo
	analytics  repos.QuestionAnalyticsRepo
	recs       RecommendationService
	thresholds distress.Thresholds
	clock      clock.Clock
}

func NewAttemptService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r repos.Repos,
	recs RecommendationService,
	th distress.Thresholds,
	clk clock.Clock,
) AttemptService {
	if clk == nil {
		clk = clock.Real()
	}
	return &attemptService{
		db:         db,
		log:        baseLog.With("service", "AttemptService"),
		catalog:    r.Catalog,
		analytics:  r.QuestionAnalytics,
		recs:       recs,
		thresholds: th,
		clock:      clk,
	}
}

func (s *attemptService) RecordAttempt(dbc dbctx.Context, learnerID int64, in AttemptInput) (*AttemptResult, error) {
	ctx, span := observability.StartSpan(dbc.Ctx, "attempts.record",
		attribute.Int64("ale.learner_id", learnerID),
		attribute.Int64("ale.question_id", in.QuestionID),
	)
	defer span.End()
	dbc.Ctx = ctx

	if err := validateInput(in); err != nil {
		return nil, err
	}
	learner, err := s.catalog.GetLearner(dbc, learnerID)
	if err != nil {
		return nil, err
	}
	if learner == nil {
		return nil, apierr.NotFound("learner_not_found", "learner %d not found", learnerID)
	}
	q, err := s.catalog.GetQuestion(dbc, in.QuestionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, apierr.NotFound("question_not_found", "question %d not found", in.QuestionID)
	}

	correct := *in.IsCorrect
	now := s.clock.Now()
	row, err := s.analytics.Fold(dbc, learnerID, q.ID, now, func(a *types.QuestionAnalytics) {
		prev := float64(a.Attempts)
		a.Attempts++
		if !correct {
			a.Failures++
		}
		a.MeanResponseTime = (a.MeanResponseTime*prev + in.ResponseTimeS) / float64(a.Attempts)
		if len(in.ChosenIDs) > 0 {
			a.FrequentErrors = prependCapped(a.FrequentErrors, cleanStrings(in.ChosenIDs), learning.FrequentErrorsCap)
		}
		if len(in.Concepts) > 0 {
			a.FragileConcepts = unionStrings(a.FragileConcepts, cleanStrings(in.Concepts))
		}
		a.LastAttemptAt = now
	})
	if err != nil {
		return nil, fmt.Errorf("fold question analytics: %w", err)
	}
	observability.Current().IncAttempt(correct)

	res := &AttemptResult{Attempts: row.Attempts, Failures: row.Failures}
	if !distress.FragileQuestion(row, s.thresholds) {
		return res, nil
	}

	block, err := resolveSourceBlock(dbc, s.catalog, q)
	if err != nil {
		s.log.Warn("Resolve source block failed", "question_id", q.ID, "error", err)
		return res, nil
	}
	if block == nil {
		s.log.Debug("Question has no source block; skipping review", "question_id", q.ID)
		return res, nil
	}
	rec, created, err := s.recs.EnsureReviewBlock(dbc, learnerID, q.ID, block.ID)
	if err != nil {
		s.log.Warn("Review-block recommendation failed", "learner_id", learnerID, "question_id", q.ID, "error", err)
		return res, nil
	}
	if created {
		res.Recommendation = rec
	}
	return res, nil
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// prependCapped puts fresh in front of prev, newest first, keeping at most max.
func prependCapped(prev, fresh []string, max int) []string {
	out := make([]string, 0, len(prev)+len(fresh))
	out = append(out, fresh...)
	out = append(out, prev...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func unionStrings(prev, add []string) []string {
	seen := make(map[string]bool, len(prev)+len(add))
	out := make([]string, 0, len(prev)+len(add))
	for _, set := range [][]string{prev, add} {
		for _, v := range set {
			if seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
