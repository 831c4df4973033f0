package services

import (
	"encoding/json"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

// TrackInput is one block interaction event.
type TrackInput struct {
	BlockID             int64           `json:"block_id" validate:"required,gt=0"`
	DtSeconds           float64         `json:"dt_seconds" validate:"gte=0"`
	ScrollPct           float64         `json:"scroll_pct" validate:"gte=0,lte=100"`
	Interactions        json.RawMessage `json:"interactions,omitempty"`
	Completed           *bool           `json:"completed,omitempty"`
	ComprehensionScore  *float64        `json:"comprehension_score,omitempty" validate:"omitempty,gte=0,lte=1"`
	PerceivedDifficulty *int            `json:"perceived_difficulty,omitempty" validate:"omitempty,gte=1,lte=5"`
}

type TrackResult struct {
	TotalTime float64 `json:"total_time"`
	Visits    int     `json:"visits"`
	// Recommendation is set when this event crossed the stuck threshold.
	Recommendation *types.Recommendation `json:"-"`
	Cascade        *CascadeResult        `json:"-"`
}

type TelemetryService interface {
	Track(dbc dbctx.Context, learnerID int64, in TrackInput) (*TrackResult, error)
}

type telemetryService struct {
	db          *gorm.DB
	log         *logger.Logger
	catalog     repos.CatalogRepo
	analytics   repos.BlockAnalyticsRepo
	recs        RecommendationService
	progression ProgressionService
	thresholds  distress.Thresholds
	clock       clock.Clock
}

func NewTelemetryService(
	db *gorm.DB,
	baseLog *logger.Logger,
	r repos.Repos,
	recs RecommendationService,
	progression ProgressionService,
	th distress.Thresholds,
	clk clock.Clock,
) TelemetryService {
	if clk == nil {
		clk = clock.Real()
	}
	return &telemetryService{
		db:          db,
		log:         baseLog.With("service", "TelemetryService"),
		catalog:     r.Catalog,
		analytics:   r.BlockAnalytics,
		recs:        recs,
		progression: progression,
		thresholds:  th,
		clock:       clk,
	}
}

func (s *telemetryService) Track(dbc dbctx.Context, learnerID int64, in TrackInput) (*TrackResult, error) {
	ctx, span := observability.StartSpan(dbc.Ctx, "telemetry.track",
		attribute.Int64("ale.learner_id", learnerID),
		attribute.Int64("ale.block_id", in.BlockID),
	)
	defer span.End()
	dbc.Ctx = ctx

	if err := validateTrack(in); err != nil {
		return nil, err
	}
	learner, err := s.catalog.GetLearner(dbc, learnerID)
	if err != nil {
		return nil, err
	}
	if learner == nil {
		return nil, apierr.NotFound("learner_not_found", "learner %d not found", learnerID)
	}
	block, err := s.catalog.GetBlock(dbc, in.BlockID)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, apierr.NotFound("block_not_found", "block %d not found", in.BlockID)
	}

	interactions := datatypes.JSON([]byte("{}"))
	if len(in.Interactions) > 0 && string(in.Interactions) != "null" {
		interactions = datatypes.JSON(in.Interactions)
	}

	now := s.clock.Now()
	row, err := s.analytics.Fold(dbc, learnerID, in.BlockID, now, func(a *types.BlockAnalytics) {
		a.TimeOnBlock += in.DtSeconds
		a.Visits++
		a.ScrollDepth = math.Max(a.ScrollDepth, in.ScrollPct)
		a.Interactions = interactions
		a.LastVisitAt = now
		if in.ComprehensionScore != nil {
			v := *in.ComprehensionScore
			a.ComprehensionScore = &v
		}
		if in.PerceivedDifficulty != nil {
			v := *in.PerceivedDifficulty
			a.PerceivedDifficulty = &v
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fold block analytics: %w", err)
	}
	observability.Current().IncEventIngested()

	res := &TrackResult{TotalTime: row.TimeOnBlock, Visits: row.Visits}

	// Analytics are committed. A failed recommendation follow-up is logged; a
	// failed completion write fails the event so the client resends it.
	if distress.StuckOnBlock(row, block, s.thresholds) {
		rec, created, err := s.recs.EnsureChangeApproach(dbc, learnerID, block.ID)
		if err != nil {
			s.log.Warn("Change-approach recommendation failed", "learner_id", learnerID, "block_id", block.ID, "error", err)
		} else if created {
			res.Recommendation = rec
		}
	}
	if in.Completed != nil {
		cascade, err := s.progression.SetBlockCompletion(dbc, learnerID, block.ID, *in.Completed)
		if err != nil {
			s.log.Error("Block completion cascade failed", "learner_id", learnerID, "block_id", block.ID, "error", err)
			return nil, fmt.Errorf("block completion cascade: %w", err)
		}
		res.Cascade = cascade
	}
	return res, nil
}

func validateTrack(in TrackInput) error {
	if math.IsNaN(in.DtSeconds) || math.IsInf(in.DtSeconds, 0) {
		return apierr.Validation("invalid_input", "dt_seconds must be a finite number")
	}
	if math.IsNaN(in.ScrollPct) {
		return apierr.Validation("invalid_input", "scroll_pct must be a number")
	}
	if len(in.Interactions) > 0 && !json.Valid(in.Interactions) {
		return apierr.Validation("invalid_input", "interactions must be valid JSON")
	}
	return validateInput(in)
}
