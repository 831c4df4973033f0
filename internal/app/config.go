package app

import (
	"time"

	datadb "github.com/yungbote/neurobridge-ale/internal/data/db"
	"github.com/yungbote/neurobridge-ale/internal/jobs/runtime"
	"github.com/yungbote/neurobridge-ale/internal/jobs/worker"
	"github.com/yungbote/neurobridge-ale/internal/learning/distress"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/envutil"
	"github.com/yungbote/neurobridge-ale/internal/platform/llm"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/realtime/bus"
	"github.com/yungbote/neurobridge-ale/internal/temporalx"
)

const serviceName = "neurobridge-ale"

type Config struct {
	Port           string
	JWTSecretKey   string
	CORSOrigins    []string
	MetricsEnabled bool

	DB             datadb.Config
	MigrateCatalog bool

	Thresholds distress.Thresholds

	LLM       llm.Config
	UseAIMock bool

	Worker   worker.Config
	Retry    runtime.RetryPolicy
	Redis    bus.RedisConfig
	Temporal temporalx.Config
	Otel     observability.OtelConfig

	CronEvaluate        string
	CronExpire          string
	CronDispatch        string
	DispatchGrace       time.Duration
	ActiveWindow        time.Duration
	EvaluateParallelism int
}

func LoadConfig(log *logger.Logger) Config {
	def := distress.DefaultThresholds()
	retry := runtime.DefaultRetryPolicy()
	wdef := worker.DefaultConfig()

	dbCfg := datadb.ConfigFromEnv(log)
	return Config{
		Port:           envutil.String("PORT", "8080", log),
		JWTSecretKey:   envutil.String("JWT_SECRET_KEY", "defaultsecret", log),
		CORSOrigins:    envutil.List("CORS_ALLOWED_ORIGINS", nil, log),
		MetricsEnabled: envutil.Bool("METRICS_ENABLED", true, log),

		DB:             dbCfg,
		MigrateCatalog: envutil.Bool("DB_MIGRATE_CATALOG", dbCfg.Driver == datadb.DriverSQLite, log),

		Thresholds: distress.Thresholds{
			StuckSeconds:   envutil.Float("T_STUCK", def.StuckSeconds, log),
			FailureCount:   envutil.Int("F_STUCK", def.FailureCount, log),
			FatigueSeconds: envutil.Float("T_FATIGUE", def.FatigueSeconds, log),
		},

		LLM: llm.Config{
			Provider:  envutil.String("LLM_PROVIDER", llm.ProviderAnthropic, log),
			APIKey:    envutil.String("LLM_API_KEY", "", log),
			Model:     envutil.String("LLM_MODEL", "", log),
			BaseURL:   envutil.String("LLM_BASE_URL", "", log),
			MaxTokens: envutil.Int("LLM_MAX_TOKENS", llm.DefaultMaxTokens, log),
			Timeout:   envutil.Duration("LLM_TIMEOUT_SECONDS", llm.DefaultTimeout, log),
		},
		UseAIMock: envutil.Bool("USE_AI_MOCK", false, log),

		Worker: worker.Config{
			Concurrency:  envutil.Int("WORKER_CONCURRENCY", wdef.Concurrency, log),
			PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", wdef.PollInterval, log),
			StaleRunning: envutil.Duration("JOB_STALE_RUNNING", 10*time.Minute, log),
			Heartbeat:    envutil.Duration("JOB_HEARTBEAT", wdef.Heartbeat, log),
		},
		Retry: runtime.RetryPolicy{
			MaxAttempts: envutil.Int("JOB_MAX_ATTEMPTS", retry.MaxAttempts, log),
			BackoffBase: envutil.Duration("JOB_BACKOFF_BASE", retry.BackoffBase, log),
			BackoffMax:  envutil.Duration("JOB_BACKOFF_MAX", retry.BackoffMax, log),
		},
		Redis: bus.RedisConfig{
			Addr:     envutil.String("REDIS_ADDR", "", log),
			Password: envutil.String("REDIS_PASSWORD", "", log),
			DB:       envutil.Int("REDIS_DB", 0, log),
			Channel:  envutil.String("REDIS_CHANNEL", "ale.events", log),
		},
		Temporal: temporalx.LoadConfig(log),
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false, log),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", serviceName, log),
			Environment: envutil.String("APP_ENV", "development", log),
			Version:     envutil.String("APP_VERSION", "", log),
			Exporter:    envutil.String("OTEL_EXPORTER", "otlp", log),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "", log)),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false, log),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1, log),
		},

		CronEvaluate:        envutil.String("CRON_EVALUATE", "0 0 3 * * *", log),
		CronExpire:          envutil.String("CRON_EXPIRE", "0 */15 * * * *", log),
		CronDispatch:        envutil.String("CRON_DISPATCH", "0 * * * * *", log),
		DispatchGrace:       envutil.Duration("JOB_DISPATCH_GRACE", 10*time.Minute, log),
		ActiveWindow:        envutil.Duration("EVALUATE_ACTIVE_WINDOW", 30*24*time.Hour, log),
		EvaluateParallelism: envutil.Int("EVALUATE_PARALLELISM", 4, log),
	}
}
