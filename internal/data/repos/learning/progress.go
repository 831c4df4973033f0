package learning

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

// ProgressRepo reads and writes the four completion tables through one
// level-agnostic shape.
type ProgressRepo interface {
	Get(dbc dbctx.Context, level learning.ProgressLevel, learnerID, id int64) (learning.ProgressState, error)
	Put(dbc dbctx.Context, level learning.ProgressLevel, learnerID, id int64, st learning.ProgressState, now time.Time) error
	// CountComplete returns how many of ids the learner has completed at level.
	CountComplete(dbc dbctx.Context, level learning.ProgressLevel, learnerID int64, ids []int64) (int, error)
}

type progressTable struct {
	table  string
	column string
}

var progressTables = map[learning.ProgressLevel]progressTable{
	learning.LevelBlock:    {"block_progress", "block_id"},
	learning.LevelSequence: {"sequence_progress", "sequence_id"},
	learning.LevelModule:   {"module_progress", "module_id"},
	learning.LevelCourse:   {"course_progress", "course_id"},
}

func tableFor(level learning.ProgressLevel) (progressTable, error) {
	t, ok := progressTables[level]
	if !ok {
		return progressTable{}, fmt.Errorf("unknown progress level %q", level)
	}
	return t, nil
}

type progressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProgressRepo(db *gorm.DB, baseLog *logger.Logger) ProgressRepo {
	return &progressRepo{db: db, log: baseLog.With("repo", "ProgressRepo")}
}

type progressRow struct {
	Complete    bool
	CompletedAt *time.Time
}

func (r *progressRepo) Get(dbc dbctx.Context, level learning.ProgressLevel, learnerID, id int64) (learning.ProgressState, error) {
	t, err := tableFor(level)
	if err != nil {
		return learning.ProgressState{}, err
	}
	var rows []progressRow
	if err := dbc.DB(r.db).Table(t.table).
		Select("complete, completed_at").
		Where("learner_id = ? AND "+t.column+" = ?", learnerID, id).
		Limit(1).
		Scan(&rows).Error; err != nil {
		return learning.ProgressState{}, err
	}
	if len(rows) == 0 {
		return learning.ProgressState{}, nil
	}
	return learning.ProgressState{Complete: rows[0].Complete, CompletedAt: rows[0].CompletedAt}, nil
}

func (r *progressRepo) Put(dbc dbctx.Context, level learning.ProgressLevel, learnerID, id int64, st learning.ProgressState, now time.Time) error {
	t, err := tableFor(level)
	if err != nil {
		return err
	}
	row := map[string]interface{}{
		"learner_id":   learnerID,
		t.column:       id,
		"complete":     st.Complete,
		"completed_at": st.CompletedAt,
		"updated_at":   now,
	}
	return dbc.DB(r.db).Table(t.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "learner_id"}, {Name: t.column}},
		DoUpdates: clause.AssignmentColumns([]string{"complete", "completed_at", "updated_at"}),
	}).Create(row).Error
}

func (r *progressRepo) CountComplete(dbc dbctx.Context, level learning.ProgressLevel, learnerID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	t, err := tableFor(level)
	if err != nil {
		return 0, err
	}
	var n int64
	err = dbc.DB(r.db).Table(t.table).
		Where("learner_id = ? AND complete = ? AND "+t.column+" IN ?", learnerID, true, ids).
		Count(&n).Error
	return int(n), err
}
