package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ale/internal/http/response"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
	"github.com/yungbote/neurobridge-ale/internal/services"
)

type ContentHandler struct {
	log     *logger.Logger
	content services.ContentService
}

func NewContentHandler(log *logger.Logger, content services.ContentService) *ContentHandler {
	return &ContentHandler{log: log.With("handler", "ContentHandler"), content: content}
}

// GET /generated-content/:id
func (h *ContentHandler) Get(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "invalid_content_id")
	if !ok {
		return
	}
	row, err := h.content.Consult(dbcFrom(c), learnerID, id)
	if err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondOK(c, row)
}

type feedbackRequest struct {
	Helpful *bool `json:"helpful"`
}

// POST /generated-content/:id/feedback
func (h *ContentHandler) Feedback(c *gin.Context) {
	learnerID, ok := learnerFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "invalid_content_id")
	if !ok {
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if req.Helpful == nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", errors.New("helpful is required"))
		return
	}
	if err := h.content.Feedback(dbcFrom(c), learnerID, id, *req.Helpful); err != nil {
		response.RespondServiceError(c, h.log, err)
		return
	}
	response.RespondAck(c)
}
