package learning

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type GeneratedContentRepo interface {
	// CreateOnce inserts c unless content for the same source job already
	// exists, in which case the existing row is returned with created=false.
	CreateOnce(dbc dbctx.Context, c *types.GeneratedContent) (*types.GeneratedContent, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GeneratedContent, error)
	GetBySourceJob(dbc dbctx.Context, jobID uuid.UUID) (*types.GeneratedContent, error)
	LatestFor(dbc dbctx.Context, learnerID, blockID int64, kind learning.GenerationKind) (*types.GeneratedContent, error)
	RecordConsultation(dbc dbctx.Context, id uuid.UUID, now time.Time) error
	SetHelpful(dbc dbctx.Context, id uuid.UUID, helpful bool) error
}

type generatedContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGeneratedContentRepo(db *gorm.DB, baseLog *logger.Logger) GeneratedContentRepo {
	return &generatedContentRepo{db: db, log: baseLog.With("repo", "GeneratedContentRepo")}
}

func (r *generatedContentRepo) CreateOnce(dbc dbctx.Context, c *types.GeneratedContent) (*types.GeneratedContent, bool, error) {
	q := dbc.DB(r.db)
	if c.SourceJobID == nil {
		if err := q.Create(c).Error; err != nil {
			return nil, false, err
		}
		return c, true, nil
	}
	res := q.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_job_id"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return c, true, nil
	}
	existing, err := r.GetBySourceJob(dbc, *c.SourceJobID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *generatedContentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GeneratedContent, error) {
	var rows []*types.GeneratedContent
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *generatedContentRepo) GetBySourceJob(dbc dbctx.Context, jobID uuid.UUID) (*types.GeneratedContent, error) {
	var rows []*types.GeneratedContent
	if err := dbc.DB(r.db).Where("source_job_id = ?", jobID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *generatedContentRepo) LatestFor(dbc dbctx.Context, learnerID, blockID int64, kind learning.GenerationKind) (*types.GeneratedContent, error) {
	var rows []*types.GeneratedContent
	if err := dbc.DB(r.db).
		Where("learner_id = ? AND block_id = ? AND kind = ?", learnerID, blockID, kind).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *generatedContentRepo) RecordConsultation(dbc dbctx.Context, id uuid.UUID, now time.Time) error {
	return dbc.DB(r.db).Model(&types.GeneratedContent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"consulted":          true,
			"consultation_count": gorm.Expr("consultation_count + 1"),
			"last_consulted_at":  now,
		}).Error
}

func (r *generatedContentRepo) SetHelpful(dbc dbctx.Context, id uuid.UUID, helpful bool) error {
	return dbc.DB(r.db).Model(&types.GeneratedContent{}).
		Where("id = ?", id).
		Update("helpful", helpful).Error
}
