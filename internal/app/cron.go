package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	jobruntime "github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

// Scheduler runs the periodic engine sweeps.
type Scheduler struct {
	log         *logger.Logger
	analytics   repos.BlockAnalyticsRepo
	recs        services.RecommendationService
	window      time.Duration
	parallelism int
	clock       clock.Clock

	// Set only when jobs go through Temporal.
	jobs          services.JobService
	runner        *jobruntime.Runner
	dispatchSpec  string
	dispatchGrace time.Duration

	cron        *cron.Cron
	running     atomic.Bool
	dispatching atomic.Bool
}

func NewScheduler(log *logger.Logger, analytics repos.BlockAnalyticsRepo, recs services.RecommendationService, cfg Config, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	p := cfg.EvaluateParallelism
	if p < 1 {
		p = 1
	}
	return &Scheduler{
		log:         log.With("component", "Scheduler"),
		analytics:   analytics,
		recs:        recs,
		window:      cfg.ActiveWindow,
		parallelism: p,
		clock:       clk,

		dispatchSpec:  cfg.CronDispatch,
		dispatchGrace: cfg.DispatchGrace,
	}
}

// WithDispatchSweep enables the sweep that re-dispatches queued jobs which
// never reached Temporal and runs stranded ones locally.
func (s *Scheduler) WithDispatchSweep(jobs services.JobService, runner *jobruntime.Runner) *Scheduler {
	s.jobs, s.runner = jobs, runner
	return s
}

// Start registers both sweeps. Specs use six fields, seconds first.
func (s *Scheduler) Start(ctx context.Context, evaluateSpec, expireSpec string) error {
	c := cron.New()
	if err := c.AddFunc(evaluateSpec, func() {
		n, err := s.EvaluateActive(ctx)
		if err != nil {
			s.log.Warn("Nightly evaluate failed", "error", err)
			return
		}
		s.log.Info("Nightly evaluate done", "learners", n)
	}); err != nil {
		return fmt.Errorf("cron evaluate spec %q: %w", evaluateSpec, err)
	}
	if err := c.AddFunc(expireSpec, func() {
		if _, err := s.recs.ExpireStale(dbctx.New(ctx)); err != nil {
			s.log.Warn("Recommendation expiry failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("cron expire spec %q: %w", expireSpec, err)
	}
	if s.jobs != nil && s.dispatchSpec != "" {
		if err := c.AddFunc(s.dispatchSpec, func() {
			if _, err := s.SweepDispatch(ctx); err != nil {
				s.log.Warn("Dispatch sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("cron dispatch spec %q: %w", s.dispatchSpec, err)
		}
	}
	c.Start()
	s.cron = c
	s.log.Info("Scheduler started", "evaluate", evaluateSpec, "expire", expireSpec, "dispatch", s.jobs != nil)
	return nil
}

func (s *Scheduler) Stop() {
	if s != nil && s.cron != nil {
		s.cron.Stop()
	}
}

// EvaluateActive runs Evaluate for every learner active within the window.
// A failure for one learner is logged and does not stop the others.
func (s *Scheduler) EvaluateActive(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("Evaluate sweep already running; skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	since := s.clock.Now().Add(-s.window)
	ids, err := s.analytics.ActiveLearnerIDs(dbctx.New(ctx), since)
	if err != nil {
		return 0, fmt.Errorf("list active learners: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		learnerID := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if _, err := s.recs.Evaluate(dbctx.New(gctx), learnerID); err != nil {
				s.log.Warn("Evaluate failed", "learner_id", learnerID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// SweepDispatch re-dispatches undispatched jobs and runs the ones stranded
// past the grace period on their final attempt, which uses the template
// generator. It returns how many jobs were dispatched or run.
func (s *Scheduler) SweepDispatch(ctx context.Context) (int, error) {
	if s.jobs == nil || s.runner == nil {
		return 0, nil
	}
	if !s.dispatching.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer s.dispatching.Store(false)

	dispatched, stranded, err := s.jobs.RedispatchPending(ctx, s.dispatchGrace)
	if err != nil {
		return dispatched, err
	}
	ran := 0
	for _, job := range stranded {
		ok, err := s.runner.ExecuteFinal(ctx, job.ID)
		if err != nil {
			s.log.Error("Stranded job failed locally", "job_id", job.ID.String(), "error", err)
			continue
		}
		if ok {
			ran++
		}
	}
	if ran > 0 {
		s.log.Warn("Ran stranded jobs locally", "jobs", ran)
	}
	return dispatched + ran, nil
}
