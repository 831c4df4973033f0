package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type JobRunRepo interface {
	// Enqueue inserts job unless a non-terminal job with the same dedup key
	// exists. It returns the pending job and whether job was the one inserted.
	Enqueue(dbc dbctx.Context, job *types.JobRun) (*types.JobRun, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, now time.Time, staleRunning time.Duration) (*types.JobRun, error)
	// ClaimQueued marks one still-queued job running at the given attempt. It
	// returns nil when the job has left the queued state.
	ClaimQueued(dbc dbctx.Context, id uuid.UUID, attempt int, now time.Time) (*types.JobRun, error)
	// ListUndispatched returns queued jobs never handed to Temporal, oldest first.
	ListUndispatched(dbc dbctx.Context, limit int) ([]*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateQueued applies updates only while the job is still queued.
	UpdateQueued(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID, now time.Time) error
	CountByStatus(dbc dbctx.Context, statuses ...string) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Enqueue(dbc dbctx.Context, job *types.JobRun) (*types.JobRun, bool, error) {
	transaction := dbc.DB(r.db)
	if job.Status == "" {
		job.Status = jobs.StatusQueued
	}
	if job.Stage == "" {
		job.Stage = jobs.StatusQueued
	}
	if job.DedupKey == "" {
		if err := transaction.Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}
	res := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(job)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return job, true, nil
	}
	var existing types.JobRun
	err := transaction.
		Where("dedup_key = ? AND status IN ?", job.DedupKey, jobs.NonTerminalStatuses).
		Order("created_at DESC").
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The pending job finished between the insert and the read.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	var rows []*types.JobRun
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// ClaimNextRunnable locks the oldest runnable job and marks it running with
// attempts incremented. Runnable means queued, retrying past its backoff, or
// running with a heartbeat older than staleRunning.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, now time.Time, staleRunning time.Duration) (*types.JobRun, error) {
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (status = ? AND (next_run_at IS NULL OR next_run_at <= ?))
          OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
        )
      `, jobs.StatusQueued, jobs.StatusRetrying, now, jobs.StatusRunning, staleCutoff).
			Order("created_at ASC").
			Take(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       jobs.StatusRunning,
				"stage":        jobs.StatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = jobs.StatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) ClaimQueued(dbc dbctx.Context, id uuid.UUID, attempt int, now time.Time) (*types.JobRun, error) {
	res := dbc.DB(r.db).Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobs.StatusQueued).
		Updates(map[string]interface{}{
			"status":       jobs.StatusRunning,
			"stage":        jobs.StatusRunning,
			"attempts":     attempt,
			"locked_at":    now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(dbc, id)
}

func (r *jobRunRepo) ListUndispatched(dbc dbctx.Context, limit int) ([]*types.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.JobRun
	err := dbc.DB(r.db).
		Where("status = ? AND stage IN ?", jobs.StatusQueued, []string{jobs.StatusQueued, jobs.StageDispatchPending}).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) UpdateQueued(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobs.StatusQueued).
		Updates(updates).Error
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, now time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, jobs.StatusRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *jobRunRepo) CountByStatus(dbc dbctx.Context, statuses ...string) (int64, error) {
	var n int64
	q := dbc.DB(r.db).Model(&types.JobRun{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Count(&n).Error
	return n, err
}
