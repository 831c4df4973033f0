package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	"github.com/yungbote/neurobridge-ale/internal/jobs/generation"
	jobruntime "github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/jobs/worker"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/services"
	"github.com/yungbote/neurobridge-ale/internal/temporalx/temporalworker"
)

type Services struct {
	Notifier       services.Notifier
	Jobs           services.JobService
	Generation     services.GenerationService
	Recommendation services.RecommendationService
	Progression    services.ProgressionService
	Telemetry      services.TelemetryService
	Attempts       services.AttemptService
	Content        services.ContentService

	// Job infra. Exactly one of JobWorker / TemporalWorker is set.
	JobRegistry    *jobruntime.Registry
	JobRunner      *jobruntime.Runner
	JobWorker      *worker.Worker
	TemporalWorker *temporalworker.Runner
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r repos.Repos, clients Clients, clk clock.Clock) (Services, error) {
	log.Info("Wiring services...")
	notify := services.NewNotifier(clients.Bus, log)
	jobs := services.NewJobService(db, log, r.JobRun, clk, clients.Temporal, cfg.Temporal.TaskQueue)
	gen := services.NewGenerationService(db, log, r, jobs, clients.Primary, clients.Fallback, notify, clk)
	recs := services.NewRecommendationService(db, log, r, gen, notify, cfg.Thresholds, clk)
	progression := services.NewProgressionService(db, log, r, clk)

	out := Services{
		Notifier:       notify,
		Jobs:           jobs,
		Generation:     gen,
		Recommendation: recs,
		Progression:    progression,
		Telemetry:      services.NewTelemetryService(db, log, r, recs, progression, cfg.Thresholds, clk),
		Attempts:       services.NewAttemptService(db, log, r, recs, cfg.Thresholds, clk),
		Content:        services.NewContentService(db, log, r, clk),
	}

	// Job handlers
	out.JobRegistry = jobruntime.NewRegistry()
	if err := out.JobRegistry.Register(generation.New(gen)); err != nil {
		return Services{}, fmt.Errorf("register generation handler: %w", err)
	}
	out.JobRunner = jobruntime.NewRunner(db, log, r.JobRun, out.JobRegistry, cfg.Retry, clk)

	if clients.Temporal != nil {
		tw, err := temporalworker.NewRunner(log, cfg.Temporal, clients.Temporal, r.JobRun, out.JobRunner, cfg.Worker.Concurrency)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal worker: %w", err)
		}
		out.TemporalWorker = tw
	} else {
		out.JobWorker = worker.NewWorker(log, r.JobRun, out.JobRunner, cfg.Worker, clk)
	}
	return out, nil
}
