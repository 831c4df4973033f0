package worker

import (
	"context"
	"time"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	StaleRunning time.Duration
	Heartbeat    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		PollInterval: time.Second,
		StaleRunning: 30 * time.Minute,
		Heartbeat:    30 * time.Second,
	}
}

// Worker polls job_run and executes claimed jobs through a Runner. It is the
// scheduler used when no Temporal cluster is configured.
type Worker struct {
	log    *logger.Logger
	repo   repos.JobRunRepo
	runner *runtime.Runner
	cfg    Config
	clock  clock.Clock
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, runner *runtime.Runner, cfg Config, clk clock.Clock) *Worker {
	def := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = def.StaleRunning
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Worker{
		log:    baseLog.With("component", "JobWorker"),
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		clock:  clk,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain whatever is runnable before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims at most one runnable job and executes it. It reports whether
// a job was claimed. Handler failures are recorded on the job, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.clock.Now(), w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.heartbeat(hbCtx, job.ID.String(), func(now time.Time) error {
		return w.repo.Heartbeat(dbctx.New(hbCtx), job.ID, now)
	})

	_ = w.runner.Execute(ctx, job, true)
	return true, nil
}

func (w *Worker) heartbeat(ctx context.Context, jobID string, beat func(time.Time) error) {
	t := time.NewTicker(w.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := beat(w.clock.Now()); err != nil && ctx.Err() == nil {
				w.log.Debug("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
