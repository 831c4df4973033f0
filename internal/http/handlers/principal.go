package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-ale/internal/http/response"
	"github.com/yungbote/neurobridge-ale/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ale/internal/platform/dbctx"
)

func learnerFrom(c *gin.Context) (int64, bool) {
	p := ctxutil.GetPrincipal(c.Request.Context())
	if p == nil || p.LearnerID <= 0 {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return 0, false
	}
	return p.LearnerID, true
}

func uuidParam(c *gin.Context, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, code, err)
		return uuid.Nil, false
	}
	return id, true
}

func dbcFrom(c *gin.Context) dbctx.Context { return dbctx.New(c.Request.Context()) }
