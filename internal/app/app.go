package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	datadb "github.com/yungbote/neurobridge-ale/internal/data/db"
	"github.com/yungbote/neurobridge-ale/internal/data/repos"
	apphttp "github.com/yungbote/neurobridge-ale/internal/http"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/clock"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type App struct {
	Log       *logger.Logger
	DB        *gorm.DB
	Cfg       Config
	Repos     repos.Repos
	Clients   Clients
	Services  Services
	Server    *apphttp.Server
	Scheduler *Scheduler
	Metrics   *observability.Metrics

	dbService    *datadb.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, cfg.Otel)
	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.Init(log)
	}

	dbService, err := datadb.New(cfg.DB, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	theDB := dbService.DB()
	if err := datadb.AutoMigrateAll(theDB, datadb.MigrateOptions{IncludeCatalog: cfg.MigrateCatalog}); err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	reposet := repos.New(theDB, log)
	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = dbService.Close()
		log.Sync()
		return nil, err
	}
	clk := clock.Real()
	serviceset, err := wireServices(theDB, log, cfg, reposet, clients, clk)
	if err != nil {
		clients.Close()
		_ = dbService.Close()
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, theDB, serviceset)
	scheduler := NewScheduler(log, reposet.BlockAnalytics, serviceset.Recommendation, cfg, clk)
	if serviceset.TemporalWorker != nil {
		scheduler.WithDispatchSweep(serviceset.Jobs, serviceset.JobRunner)
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Server:       wireServer(log, cfg, handlerset, metrics),
		Scheduler:    scheduler,
		Metrics:      metrics,
		dbService:    dbService,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the job backend, the scheduler and the metrics collector.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Metrics.StartJobQueueCollector(ctx, a.Log, a.DB, 15*time.Second)

	switch {
	case a.Services.TemporalWorker != nil:
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	case a.Services.JobWorker != nil:
		a.Services.JobWorker.Start(ctx)
	}

	if err := a.Scheduler.Start(ctx, a.Cfg.CronEvaluate, a.Cfg.CronExpire); err != nil {
		return err
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return errors.New("app not initialized")
	}
	addr := ":" + a.Cfg.Port
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return nil
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Scheduler.Stop()
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("db close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
