package learning

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type QuestionAnalyticsRepo interface {
	Fold(dbc dbctx.Context, learnerID, questionID int64, now time.Time, fn func(*types.QuestionAnalytics)) (*types.QuestionAnalytics, error)
	Get(dbc dbctx.Context, learnerID, questionID int64) (*types.QuestionAnalytics, error)
	ListFailingAtLeast(dbc dbctx.Context, learnerID int64, minFailures int) ([]*types.QuestionAnalytics, error)
}

type questionAnalyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) QuestionAnalyticsRepo {
	return &questionAnalyticsRepo{db: db, log: baseLog.With("repo", "QuestionAnalyticsRepo")}
}

func (r *questionAnalyticsRepo) Fold(dbc dbctx.Context, learnerID, questionID int64, now time.Time, fn func(*types.QuestionAnalytics)) (*types.QuestionAnalytics, error) {
	var out *types.QuestionAnalytics
	run := func(tx *gorm.DB) error {
		seed := &types.QuestionAnalytics{
			LearnerID:       learnerID,
			QuestionID:      questionID,
			FrequentErrors:  []string{},
			FragileConcepts: []string{},
			LastAttemptAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "learner_id"}, {Name: "question_id"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}
		var row types.QuestionAnalytics
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("learner_id = ? AND question_id = ?", learnerID, questionID).
			Take(&row).Error; err != nil {
			return err
		}
		fn(&row)
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = &row
		return nil
	}
	if dbc.Tx != nil {
		if err := run(dbc.DB(r.db)); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := dbc.DB(r.db).Transaction(run); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *questionAnalyticsRepo) Get(dbc dbctx.Context, learnerID, questionID int64) (*types.QuestionAnalytics, error) {
	var rows []*types.QuestionAnalytics
	if err := dbc.DB(r.db).
		Where("learner_id = ? AND question_id = ?", learnerID, questionID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *questionAnalyticsRepo) ListFailingAtLeast(dbc dbctx.Context, learnerID int64, minFailures int) ([]*types.QuestionAnalytics, error) {
	var out []*types.QuestionAnalytics
	err := dbc.DB(r.db).
		Where("learner_id = ? AND failures >= ?", learnerID, minFailures).
		Order("question_id ASC").
		Find(&out).Error
	return out, err
}
