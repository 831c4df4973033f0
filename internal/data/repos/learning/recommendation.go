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

type RecommendationRepo interface {
	// CreateIfAbsent inserts rec unless a live row already holds its
	// (learner, kind, target). Expired rows for that key are retired first.
	// It returns the live row and whether rec was the one inserted.
	CreateIfAbsent(dbc dbctx.Context, rec *types.Recommendation, now time.Time) (*types.Recommendation, bool, error)
	GetActive(dbc dbctx.Context, learnerID int64, kind learning.RecommendationKind, targetKey int64, now time.Time) (*types.Recommendation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Recommendation, error)
	ListActive(dbc dbctx.Context, learnerID int64, now time.Time) ([]*types.Recommendation, error)
	MarkSeen(dbc dbctx.Context, learnerID int64, id uuid.UUID, now time.Time) (bool, error)
	MarkFollowed(dbc dbctx.Context, learnerID int64, id uuid.UUID, now time.Time) (bool, error)
	LinkContent(dbc dbctx.Context, id uuid.UUID, contentID uuid.UUID, message string) error
	ExpireStale(dbc dbctx.Context, now time.Time) (int64, error)
}

type recommendationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecommendationRepo(db *gorm.DB, baseLog *logger.Logger) RecommendationRepo {
	return &recommendationRepo{db: db, log: baseLog.With("repo", "RecommendationRepo")}
}

func (r *recommendationRepo) CreateIfAbsent(dbc dbctx.Context, rec *types.Recommendation, now time.Time) (*types.Recommendation, bool, error) {
	var (
		out     *types.Recommendation
		created bool
	)
	run := func(tx *gorm.DB) error {
		rec.Active = true
		rec.TargetKey = learning.TargetKeyFor(rec.TargetBlockID)
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if err := tx.Model(&types.Recommendation{}).
			Where("learner_id = ? AND kind = ? AND target_key = ? AND active = ?", rec.LearnerID, rec.Kind, rec.TargetKey, true).
			Where("expires_at IS NOT NULL AND expires_at <= ?", now).
			Update("active", false).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			out, created = rec, true
			return nil
		}
		var existing types.Recommendation
		if err := tx.Where("learner_id = ? AND kind = ? AND target_key = ? AND active = ?", rec.LearnerID, rec.Kind, rec.TargetKey, true).
			Take(&existing).Error; err != nil {
			return err
		}
		out = &existing
		return nil
	}
	var err error
	if dbc.Tx != nil {
		err = run(dbc.DB(r.db))
	} else {
		err = dbc.DB(r.db).Transaction(run)
	}
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *recommendationRepo) GetActive(dbc dbctx.Context, learnerID int64, kind learning.RecommendationKind, targetKey int64, now time.Time) (*types.Recommendation, error) {
	var rows []*types.Recommendation
	if err := dbc.DB(r.db).
		Where("learner_id = ? AND kind = ? AND target_key = ? AND active = ?", learnerID, kind, targetKey, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *recommendationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Recommendation, error) {
	var rows []*types.Recommendation
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *recommendationRepo) ListActive(dbc dbctx.Context, learnerID int64, now time.Time) ([]*types.Recommendation, error) {
	var out []*types.Recommendation
	err := dbc.DB(r.db).
		Where("learner_id = ? AND active = ? AND seen = ?", learnerID, true, false).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("priority ASC").
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *recommendationRepo) MarkSeen(dbc dbctx.Context, learnerID int64, id uuid.UUID, now time.Time) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Recommendation{}).
		Where("id = ? AND learner_id = ?", id, learnerID).
		Updates(map[string]interface{}{
			"seen":    true,
			"seen_at": gorm.Expr("COALESCE(seen_at, ?)", now),
			"active":  false,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *recommendationRepo) MarkFollowed(dbc dbctx.Context, learnerID int64, id uuid.UUID, now time.Time) (bool, error) {
	res := dbc.DB(r.db).Model(&types.Recommendation{}).
		Where("id = ? AND learner_id = ?", id, learnerID).
		Updates(map[string]interface{}{
			"followed": true,
			"seen":     true,
			"seen_at":  gorm.Expr("COALESCE(seen_at, ?)", now),
			"active":   false,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *recommendationRepo) LinkContent(dbc dbctx.Context, id uuid.UUID, contentID uuid.UUID, message string) error {
	updates := map[string]interface{}{"generated_content_id": contentID}
	if message != "" {
		updates["message"] = message
	}
	return dbc.DB(r.db).Model(&types.Recommendation{}).Where("id = ?", id).Updates(updates).Error
}

func (r *recommendationRepo) ExpireStale(dbc dbctx.Context, now time.Time) (int64, error) {
	res := dbc.DB(r.db).Model(&types.Recommendation{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}
