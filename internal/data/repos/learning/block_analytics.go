package learning

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type BlockAnalyticsRepo interface {
	// Fold locks the (learner, block) row, creating it first when missing,
	// applies fn and writes the result back. It joins dbc.Tx when set and
	// otherwise runs in its own transaction.
	Fold(dbc dbctx.Context, learnerID, blockID int64, now time.Time, fn func(*types.BlockAnalytics)) (*types.BlockAnalytics, error)
	Get(dbc dbctx.Context, learnerID, blockID int64) (*types.BlockAnalytics, error)
	ListVisitedSince(dbc dbctx.Context, learnerID int64, since time.Time) ([]*types.BlockAnalytics, error)
	ListAtLeast(dbc dbctx.Context, learnerID int64, minSeconds float64) ([]*types.BlockAnalytics, error)
	ActiveLearnerIDs(dbc dbctx.Context, since time.Time) ([]int64, error)
}

type blockAnalyticsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlockAnalyticsRepo(db *gorm.DB, baseLog *logger.Logger) BlockAnalyticsRepo {
	return &blockAnalyticsRepo{db: db, log: baseLog.With("repo", "BlockAnalyticsRepo")}
}

func (r *blockAnalyticsRepo) Fold(dbc dbctx.Context, learnerID, blockID int64, now time.Time, fn func(*types.BlockAnalytics)) (*types.BlockAnalytics, error) {
	var out *types.BlockAnalytics
	run := func(tx *gorm.DB) error {
		seed := &types.BlockAnalytics{
			LearnerID:    learnerID,
			BlockID:      blockID,
			Interactions: datatypes.JSON([]byte("{}")),
			FirstVisitAt: now,
			LastVisitAt:  now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "learner_id"}, {Name: "block_id"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}
		var row types.BlockAnalytics
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("learner_id = ? AND block_id = ?", learnerID, blockID).
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

func (r *blockAnalyticsRepo) Get(dbc dbctx.Context, learnerID, blockID int64) (*types.BlockAnalytics, error) {
	var rows []*types.BlockAnalytics
	if err := dbc.DB(r.db).
		Where("learner_id = ? AND block_id = ?", learnerID, blockID).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *blockAnalyticsRepo) ListVisitedSince(dbc dbctx.Context, learnerID int64, since time.Time) ([]*types.BlockAnalytics, error) {
	var out []*types.BlockAnalytics
	err := dbc.DB(r.db).
		Where("learner_id = ? AND last_visit_at >= ?", learnerID, since).
		Order("last_visit_at DESC").
		Find(&out).Error
	return out, err
}

func (r *blockAnalyticsRepo) ListAtLeast(dbc dbctx.Context, learnerID int64, minSeconds float64) ([]*types.BlockAnalytics, error) {
	var out []*types.BlockAnalytics
	err := dbc.DB(r.db).
		Where("learner_id = ? AND time_on_block >= ?", learnerID, minSeconds).
		Order("block_id ASC").
		Find(&out).Error
	return out, err
}

// ActiveLearnerIDs returns learners with telemetry or attempts since the cutoff.
func (r *blockAnalyticsRepo) ActiveLearnerIDs(dbc dbctx.Context, since time.Time) ([]int64, error) {
	var ids []int64
	err := dbc.DB(r.db).Raw(`
		SELECT learner_id FROM block_analytics WHERE last_visit_at >= ?
		UNION
		SELECT learner_id FROM question_analytics WHERE last_attempt_at >= ?
		ORDER BY learner_id
	`, since, since).Scan(&ids).Error
	return ids, err
}
