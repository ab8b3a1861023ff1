package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chorus/chat-service/utils"
)

const requestIDHeader = "X-Request-ID"

// Logger logs one line per request and tags it with a request id
func Logger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		args := []interface{}{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
		}
		if userID := UserID(c); userID != "" {
			args = append(args, "user_id", userID)
		}

		// poll traffic is constant; keep it out of info logs
		if c.Writer.Status() >= 500 {
			logger.Error("Request failed", args...)
		} else if c.FullPath() == "/ajax/poll" {
			logger.Debug("Request", args...)
		} else {
			logger.Info("Request", args...)
		}
	}
}
