package catalog

import (
	"errors"

	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

// CatalogRepo reads the curriculum hierarchy. Getters return (nil, nil) when
// the row does not exist.
type CatalogRepo interface {
	GetLearner(dbc dbctx.Context, id int64) (*types.Learner, error)
	GetBlock(dbc dbctx.Context, id int64) (*types.Block, error)
	GetSequence(dbc dbctx.Context, id int64) (*types.Sequence, error)
	GetModule(dbc dbctx.Context, id int64) (*types.Module, error)
	GetQuestion(dbc dbctx.Context, id int64) (*types.Question, error)
	GetQuiz(dbc dbctx.Context, id int64) (*types.Quiz, error)
	GetBlocksByIDs(dbc dbctx.Context, ids []int64) ([]*types.Block, error)

	// GatingBlockIDs returns the visible and required blocks of a sequence.
	GatingBlockIDs(dbc dbctx.Context, sequenceID int64) ([]int64, error)
	SequenceIDsByModule(dbc dbctx.Context, moduleID int64) ([]int64, error)
	ModuleIDsByCourse(dbc dbctx.Context, courseID int64) ([]int64, error)
	FirstVisibleBlock(dbc dbctx.Context, sequenceID int64) (*types.Block, error)
}

type catalogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCatalogRepo(db *gorm.DB, baseLog *logger.Logger) CatalogRepo {
	return &catalogRepo{db: db, log: baseLog.With("repo", "CatalogRepo")}
}

func first[T any](q *gorm.DB, id int64) (*T, error) {
	var row T
	err := q.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *catalogRepo) GetLearner(dbc dbctx.Context, id int64) (*types.Learner, error) {
	return first[types.Learner](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetBlock(dbc dbctx.Context, id int64) (*types.Block, error) {
	return first[types.Block](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetSequence(dbc dbctx.Context, id int64) (*types.Sequence, error) {
	return first[types.Sequence](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetModule(dbc dbctx.Context, id int64) (*types.Module, error) {
	return first[types.Module](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetQuestion(dbc dbctx.Context, id int64) (*types.Question, error) {
	return first[types.Question](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetQuiz(dbc dbctx.Context, id int64) (*types.Quiz, error) {
	return first[types.Quiz](dbc.DB(r.db), id)
}

func (r *catalogRepo) GetBlocksByIDs(dbc dbctx.Context, ids []int64) ([]*types.Block, error) {
	var out []*types.Block
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *catalogRepo) GatingBlockIDs(dbc dbctx.Context, sequenceID int64) ([]int64, error) {
	var ids []int64
	err := dbc.DB(r.db).Model(&types.Block{}).
		Where("sequence_id = ? AND visible = ? AND required = ?", sequenceID, true, true).
		Order("position ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *catalogRepo) SequenceIDsByModule(dbc dbctx.Context, moduleID int64) ([]int64, error) {
	var ids []int64
	err := dbc.DB(r.db).Model(&types.Sequence{}).
		Where("module_id = ?", moduleID).
		Order("position ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *catalogRepo) ModuleIDsByCourse(dbc dbctx.Context, courseID int64) ([]int64, error) {
	var ids []int64
	err := dbc.DB(r.db).Model(&types.Module{}).
		Where("course_id = ?", courseID).
		Order("position ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *catalogRepo) FirstVisibleBlock(dbc dbctx.Context, sequenceID int64) (*types.Block, error) {
	var b types.Block
	err := dbc.DB(r.db).
		Where("sequence_id = ? AND visible = ?", sequenceID, true).
		Order("position ASC, id ASC").
		Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
