package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/learner-state/internal/logger"
)

// #region request-logger

// RequestLogger emits one structured line per request. Errors attached to
// the context via c.Error end up in the line, so handlers stay silent.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// #endregion request-logger
