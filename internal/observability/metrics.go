package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/domain/jobs"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type Metrics struct {
	reg *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	eventsIngested   prometheus.Counter
	attemptsRecorded *prometheus.CounterVec
	recommendations  *prometheus.CounterVec
	generationJobs   *prometheus.CounterVec
	llmRequests      *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process metrics, or nil before Init. Every method is
// nil-safe so callers never need to check.
func Current() *Metrics {
	return instance
}

func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		instance = NewMetrics(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ale_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ale_api_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "ale_api_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		eventsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "ale_block_events_ingested_total",
			Help: "Block telemetry events folded into analytics.",
		}),
		attemptsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ale_attempts_recorded_total",
			Help: "Question attempts recorded, by correctness.",
		}, []string{"correct"}),
		recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ale_recommendations_total",
			Help: "Recommendation materializations by kind and outcome (created, deduplicated).",
		}, []string{"kind", "outcome"}),
		generationJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ale_generation_jobs_total",
			Help: "Generation job executions by kind, outcome and generator.",
		}, []string{"kind", "outcome", "generator"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ale_llm_requests_total",
			Help: "Model calls by provider and status.",
		}, []string{"provider", "status"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ale_llm_request_duration_seconds",
			Help:    "Model call latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"provider"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ale_job_queue_depth",
			Help: "job_run rows by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncEventIngested() {
	if m == nil {
		return
	}
	m.eventsIngested.Inc()
}

func (m *Metrics) IncAttempt(correct bool) {
	if m == nil {
		return
	}
	m.attemptsRecorded.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func (m *Metrics) IncRecommendation(kind string, created bool) {
	if m == nil {
		return
	}
	outcome := "deduplicated"
	if created {
		outcome = "created"
	}
	m.recommendations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncGenerationJob(kind, outcome, generator string) {
	if m == nil {
		return
	}
	if generator == "" {
		generator = "none"
	}
	m.generationJobs.WithLabelValues(kind, outcome, generator).Inc()
}

func (m *Metrics) ObserveLLMRequest(provider, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, status).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(dur.Seconds())
}

// ObserveLLMCall records a model call on the process metrics.
func ObserveLLMCall(provider string, err error, dur time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
		var sc interface{ HTTPStatusCode() int }
		if errors.As(err, &sc) && sc.HTTPStatusCode() > 0 {
			status = strconv.Itoa(sc.HTTPStatusCode())
		}
	}
	Current().ObserveLLMRequest(provider, status, dur)
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	statuses := []string{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusRetrying, jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusCanceled}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range statuses {
					m.queueDepth.WithLabelValues(s).Set(0)
				}
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, row := range rows {
					status := strings.TrimSpace(row.Status)
					if status == "" {
						status = "unknown"
					}
					m.queueDepth.WithLabelValues(status).Set(float64(row.Count))
				}
			}
		}
	}()
}
