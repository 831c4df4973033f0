package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ale/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError maps an apierr-carrying error to its status. Anything
// else is logged and reported as a bare 500.
func RespondServiceError(c *gin.Context, log *logger.Logger, err error) {
	status := apierr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Error("Request failed", "path", c.FullPath(), "error", err)
		}
		c.JSON(status, ErrorEnvelope{Error: APIError{Message: "internal error", Code: "internal"}})
		return
	}
	RespondError(c, status, apierr.CodeOf(err), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
