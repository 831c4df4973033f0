package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ale/internal/http/response"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

type AnalyticsHandler struct {
	log       *logger.Logger
	telemetry services.TelemetryService
	attempts  services.AttemptService
}

func NewAnalyticsHandler(log *logger.Logger, telemetry services.TelemetryService, attempts services.AttemptService) *AnalyticsHandler {
	return &AnalyticsHandler{log: log.With("handler", "AnalyticsHandler"), telemetry: telemetry, attempts: attempts}
}

// POST /analytics/block-events
func (h *AnalyticsHandler) TrackBlockEvent(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	var in services.TrackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	res, err := h.telemetry.Track(dbcFrom(c), learnerID, in)
	if err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /analytics/attempts
func (h *AnalyticsHandler) RecordAttempt(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	var in services.AttemptInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	res, err := h.attempts.RecordAttempt(dbcFrom(c), learnerID, in)
	if err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondOK(c, res)
}
