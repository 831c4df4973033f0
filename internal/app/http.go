package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/neurobridge-ale/internal/http"
	httpH "github.com/yungbote/neurobridge-ale/internal/http/handlers"
	httpMW "github.com/yungbote/neurobridge-ale/internal/http/middleware"
	"github.com/yungbote/neurobridge-ale/internal/observability"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type Handlers struct {
	Health         *httpH.HealthHandler
	Analytics      *httpH.AnalyticsHandler
	Recommendation *httpH.RecommendationHandler
	Content        *httpH.ContentHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:         httpH.NewHealthHandler(db),
		Analytics:      httpH.NewAnalyticsHandler(log, svc.Telemetry, svc.Attempts),
		Recommendation: httpH.NewRecommendationHandler(log, svc.Recommendation),
		Content:        httpH.NewContentHandler(log, svc.Content),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *apphttp.Server {
	name := ""
	if cfg.Otel.Enabled {
		name = cfg.Otel.ServiceName
	}
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:                   log,
		Metrics:               metrics,
		ServiceName:           name,
		CORSOrigins:           cfg.CORSOrigins,
		AuthMiddleware:        httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey),
		AnalyticsHandler:      handlers.Analytics,
		RecommendationHandler: handlers.Recommendation,
		ContentHandler:        handlers.Content,
		HealthHandler:         handlers.Health,
	})
}
