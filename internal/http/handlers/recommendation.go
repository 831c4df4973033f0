package handlers

import (
	"github.com/gin-gonic/gin"

	types "github.com/yungbote/neurobridge-ale/internal/domain"
	"github.com/yungbote/neurobridge-ale/internal/http/response"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

type RecommendationHandler struct {
	log  *logger.Logger
	recs services.RecommendationService
}

func NewRecommendationHandler(log *logger.Logger, recs services.RecommendationService) *RecommendationHandler {
	return &RecommendationHandler{log: log.With("handler", "RecommendationHandler"), recs: recs}
}

// GET /recommendations
func (h *RecommendationHandler) List(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	recs, err := h.recs.ListActive(dbcFrom(c), learnerID)
	if err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	if recs == nil {
		recs = []*types.Recommendation{}
	}
	response.RespondOK(c, gin.H{"recommendations": recs})
}

// POST /recommendations/:id/seen
func (h *RecommendationHandler) MarkSeen(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "invalid_recommendation_id")
	if !ok {
		return
	}
	if err := h.recs.MarkSeen(dbcFrom(c), learnerID, id); err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondAck(c)
}

// POST /recommendations/:id/followed
func (h *RecommendationHandler) MarkFollowed(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "invalid_recommendation_id")
	if !ok {
		return
	}
	if err := h.recs.MarkFollowed(dbcFrom(c), learnerID, id); err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondAck(c)
}
