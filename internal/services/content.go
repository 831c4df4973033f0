package services

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type ContentService interface {
	// Consult returns the learner's content and counts the consultation.
	Consult(dbc dbctx.Context, learnerID int64, id uuid.UUID) (*types.GeneratedContent, error)
	Feedback(dbc dbctx.Context, learnerID int64, id uuid.UUID, helpful bool) error
}

type contentService struct {
	db      *gorm.DB
	log     *logger.Logger
	content repos.GeneratedContentRepo
	clock   clock.Clock
}

func NewContentService(db *gorm.DB, baseLog *logger.Logger, r repos.Repos, clk clock.Clock) ContentService {
	if clk == nil {
		clk = clock.Real()
	}
	return &contentService{
		db:      db,
		log:     baseLog.With("service", "ContentService"),
		content: r.GeneratedContent,
		clock:   clk,
	}
}

func (s *contentService) owned(dbc dbctx.Context, learnerID int64, id uuid.UUID) (*types.GeneratedContent, error) {
	row, err := s.content.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	// Other learners' content is reported as missing.
	if row == nil || row.LearnerID != learnerID {
		return nil, apierr.NotFound("content_not_found", "generated content %s not found", id)
	}
	return row, nil
}

func (s *contentService) Consult(dbc dbctx.Context, learnerID int64, id uuid.UUID) (*types.GeneratedContent, error) {
	row, err := s.owned(dbc, learnerID, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.content.RecordConsultation(dbc, id, now); err != nil {
		return nil, err
	}
	row.Consulted = true
	row.ConsultationCount++
	row.LastConsultedAt = &now
	return row, nil
}

func (s *contentService) Feedback(dbc dbctx.Context, learnerID int64, id uuid.UUID, helpful bool) error {
	if _, err := s.owned(dbc, learnerID, id); err != nil {
		return err
	}
	return s.content.SetHelpful(dbc, id, helpful)
}
