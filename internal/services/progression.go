package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	datadb "github.com/yungbote/neurobridge-ale/internal/data/db"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/domain/learning"
	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

const cascadeMaxTries = 3

type LevelState struct {
	ID          int64      `json:"id"`
	Complete    bool       `json:"complete"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Changed     bool       `json:"changed"`
}

type CascadeResult struct {
	Block    LevelState `json:"block"`
	Sequence LevelState `json:"sequence"`
	Module   LevelState `json:"module"`
	Course   LevelState `json:"course"`
}

type ProgressionService interface {
	// RecomputeFromBlock rewrites sequence, module and course progress above
	// the block in one transaction.
	RecomputeFromBlock(dbc dbctx.Context, learnerID, blockID int64) (*CascadeResult, error)
	// SetBlockCompletion writes the block's own progress and cascades in the
	// same transaction.
	SetBlockCompletion(dbc dbctx.Context, learnerID, blockID int64, complete bool) (*CascadeResult, error)
}

type progressionService struct {
	db       *gorm.DB
	log      *logger.Logger
	catalog  repos.CatalogRepo
	progress repos.ProgressRepo
	clock    clock.Clock
}

func NewProgressionService(db *gorm.DB, baseLog *logger.Logger, r repos.Repos, clk clock.Clock) ProgressionService {
	if clk == nil {
		clk = clock.Real()
	}
	return &progressionService{
		db:       db,
		log:      baseLog.With("service", "ProgressionService"),
		catalog:  r.Catalog,
		progress: r.Progress,
		clock:    clk,
	}
}

func (s *progressionService) RecomputeFromBlock(dbc dbctx.Context, learnerID, blockID int64) (*CascadeResult, error) {
	return s.inTx(dbc, func(txc dbctx.Context, now time.Time) (*CascadeResult, error) {
		return s.cascade(txc, learnerID, blockID, now, nil)
	})
}

func (s *progressionService) SetBlockCompletion(dbc dbctx.Context, learnerID, blockID int64, complete bool) (*CascadeResult, error) {
	return s.inTx(dbc, func(txc dbctx.Context, now time.Time) (*CascadeResult, error) {
		return s.cascade(txc, learnerID, blockID, now, &complete)
	})
}

// inTx runs fn serializably on Postgres, retrying serialization failures.
// Callers already inside a transaction are joined as is.
func (s *progressionService) inTx(dbc dbctx.Context, fn func(dbctx.Context, time.Time) (*CascadeResult, error)) (*CascadeResult, error) {
	ctx := context.Background()
	if dbc.Ctx != nil {
		ctx = context.WithoutCancel(dbc.Ctx)
	}
	if dbc.Tx != nil {
		return fn(dbctx.Context{Ctx: ctx, Tx: dbc.Tx}, s.clock.Now())
	}

	var opts []*sql.TxOptions
	if datadb.IsPostgres(s.db) {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	var (
		out *CascadeResult
		err error
	)
	for try := 1; try <= cascadeMaxTries; try++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, ferr := fn(dbctx.Context{Ctx: ctx, Tx: tx}, s.clock.Now())
			out = res
			return ferr
		}, opts...)
		if err == nil || !isSerializationFailure(err) {
			break
		}
		s.log.Debug("Cascade serialization conflict; retrying", "try", try)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type sqlStateError interface{ SQLState() string }

func isSerializationFailure(err error) bool {
	var se sqlStateError
	return errors.As(err, &se) && (se.SQLState() == "40001" || se.SQLState() == "40P01")
}

func (s *progressionService) cascade(dbc dbctx.Context, learnerID, blockID int64, now time.Time, setBlock *bool) (*CascadeResult, error) {
	block, err := s.catalog.GetBlock(dbc, blockID)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, apierr.NotFound("block_not_found", "block %d not found", blockID)
	}
	seq, err := s.catalog.GetSequence(dbc, block.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq == nil {
		return nil, apierr.Internal(fmt.Errorf("block %d references missing sequence %d", blockID, block.SequenceID))
	}
	mod, err := s.catalog.GetModule(dbc, seq.ModuleID)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, apierr.Internal(fmt.Errorf("sequence %d references missing module %d", seq.ID, seq.ModuleID))
	}

	res := &CascadeResult{}
	if res.Block, err = s.blockLevel(dbc, learnerID, blockID, now, setBlock); err != nil {
		return nil, err
	}

	seqDone, err := s.sequenceComplete(dbc, learnerID, seq.ID)
	if err != nil {
		return nil, err
	}
	if res.Sequence, err = s.settle(dbc, learning.LevelSequence, learnerID, seq.ID, seqDone, now, true); err != nil {
		return nil, err
	}

	// Sibling sequences are derived from their blocks; a sibling without
	// gating blocks has no row of its own until it is settled here.
	seqIDs, err := s.catalog.SequenceIDsByModule(dbc, mod.ID)
	if err != nil {
		return nil, err
	}
	modDone := true
	for _, id := range seqIDs {
		done := seqDone
		if id != seq.ID {
			if done, err = s.sequenceComplete(dbc, learnerID, id); err != nil {
				return nil, err
			}
			if _, err = s.settle(dbc, learning.LevelSequence, learnerID, id, done, now, false); err != nil {
				return nil, err
			}
		}
		modDone = modDone && done
	}
	if res.Module, err = s.settle(dbc, learning.LevelModule, learnerID, mod.ID, modDone, now, true); err != nil {
		return nil, err
	}

	modIDs, err := s.catalog.ModuleIDsByCourse(dbc, mod.CourseID)
	if err != nil {
		return nil, err
	}
	courseDone := true
	for _, id := range modIDs {
		done := modDone
		if id != mod.ID {
			if done, err = s.moduleComplete(dbc, learnerID, id); err != nil {
				return nil, err
			}
			if _, err = s.settle(dbc, learning.LevelModule, learnerID, id, done, now, false); err != nil {
				return nil, err
			}
		}
		courseDone = courseDone && done
	}
	if res.Course, err = s.settle(dbc, learning.LevelCourse, learnerID, mod.CourseID, courseDone, now, true); err != nil {
		return nil, err
	}

	if res.Sequence.Changed || res.Module.Changed || res.Course.Changed {
		s.log.Info("Progress cascade changed",
			"learner_id", learnerID,
			"block_id", blockID,
			"sequence_complete", res.Sequence.Complete,
			"module_complete", res.Module.Complete,
			"course_complete", res.Course.Complete,
		)
	}
	return res, nil
}

func (s *progressionService) blockLevel(dbc dbctx.Context, learnerID, blockID int64, now time.Time, set *bool) (LevelState, error) {
	cur, err := s.progress.Get(dbc, learning.LevelBlock, learnerID, blockID)
	if err != nil {
		return LevelState{}, err
	}
	if set == nil {
		return LevelState{ID: blockID, Complete: cur.Complete, CompletedAt: cur.CompletedAt}, nil
	}
	next, changed := cur.Transition(*set, now)
	if changed {
		if err := s.progress.Put(dbc, learning.LevelBlock, learnerID, blockID, next, now); err != nil {
			return LevelState{}, err
		}
	}
	return LevelState{ID: blockID, Complete: next.Complete, CompletedAt: next.CompletedAt, Changed: changed}, nil
}

// sequenceComplete reports whether every gating block is complete. A
// sequence without gating blocks is complete.
func (s *progressionService) sequenceComplete(dbc dbctx.Context, learnerID, seqID int64) (bool, error) {
	gating, err := s.catalog.GatingBlockIDs(dbc, seqID)
	if err != nil {
		return false, err
	}
	if len(gating) == 0 {
		return true, nil
	}
	done, err := s.progress.CountComplete(dbc, learning.LevelBlock, learnerID, gating)
	if err != nil {
		return false, err
	}
	return done == len(gating), nil
}

// moduleComplete reports whether every sequence of the module is complete.
// A module without sequences is complete.
func (s *progressionService) moduleComplete(dbc dbctx.Context, learnerID, modID int64) (bool, error) {
	seqIDs, err := s.catalog.SequenceIDsByModule(dbc, modID)
	if err != nil {
		return false, err
	}
	for _, id := range seqIDs {
		done, err := s.sequenceComplete(dbc, learnerID, id)
		if err != nil || !done {
			return false, err
		}
	}
	return true, nil
}

// settle applies the completion transition to the stored row. Unchanged rows
// are only rewritten when always is set.
func (s *progressionService) settle(dbc dbctx.Context, level learning.ProgressLevel, learnerID, id int64, complete bool, now time.Time, always bool) (LevelState, error) {
	cur, err := s.progress.Get(dbc, level, learnerID, id)
	if err != nil {
		return LevelState{}, err
	}
	next, changed := cur.Transition(complete, now)
	if changed || always {
		if err := s.progress.Put(dbc, level, learnerID, id, next, now); err != nil {
			return LevelState{}, err
		}
	}
	return LevelState{ID: id, Complete: next.Complete, CompletedAt: next.CompletedAt, Changed: changed}, nil
}
