package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-registry/internal/handler"
	apperrors "github.com/jwalitptl/patient-registry/pkg/errors"
	"github.com/jwalitptl/patient-registry/pkg/logger"
)

// ErrorHandler renders the last error a handler pushed with c.Error. Server
// errors are logged with their cause; the client only sees the envelope.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		lastErr := c.Errors.Last().Err
		status, resp := handler.ErrorResponseFor(lastErr)

		if status >= 500 {
			log.Error(lastErr, "Request error",
				"request_id", c.GetString(ContextRequestID),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else if appErr, ok := apperrors.As(lastErr); ok && appErr.Err != nil {
			log.Debug("Request rejected",
				"request_id", c.GetString(ContextRequestID),
				"path", c.Request.URL.Path,
				"cause", appErr.Err.Error(),
			)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(status, resp)
	}
}
