package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/neurobridge-ale/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-ale/internal/http/middleware"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	AnalyticsHandler      *httpH.AnalyticsHandler
	RecommendationHandler *httpH.RecommendationHandler
	ContentHandler        *httpH.ContentHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	protected := r.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Analytics ingest
	if cfg.AnalyticsHandler != nil {
		g := protected.Group("/analytics", httpMW.RequireCapability(ctxutil.CapTrackTelemetry))
		g.POST("/block-events", cfg.AnalyticsHandler.TrackBlockEvent)
		g.POST("/attempts", cfg.AnalyticsHandler.RecordAttempt)
	}

	// Recommendations
	if cfg.RecommendationHandler != nil {
		g := protected.Group("/recommendations", httpMW.RequireCapability(ctxutil.CapReadRecommendations))
		g.GET("", cfg.RecommendationHandler.List)
		g.POST("/:id/seen", cfg.RecommendationHandler.MarkSeen)
		g.POST("/:id/followed", cfg.RecommendationHandler.MarkFollowed)
	}

	// Generated content
	if cfg.ContentHandler != nil {
		g := protected.Group("/generated-content", httpMW.RequireCapability(ctxutil.CapReadContent))
		g.GET("/:id", cfg.ContentHandler.Get)
		g.POST("/:id/feedback", cfg.ContentHandler.Feedback)
	}

	return r
}
