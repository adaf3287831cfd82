// internal/api/middleware.go
package api

import (
	"time"

	"presence-tracker/internal/common/auth"
	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// authenticate resolves the caller from the bearer token. The resolved id
// is the only identity handlers trust.
func authenticate(verifier *auth.TokenVerifier, errs *apperrors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			status, body := errs.Resolve(c.FullPath(), apperrors.NewUnauthorizedError("authentication not configured"))
			c.AbortWithStatusJSON(status, body)
			return
		}
		userID, err := verifier.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			status, body := errs.Resolve(c.FullPath(), err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		}
		if id := callerID(c); id != "" {
			fields["userId"] = id
		}
		log.Debug("request handled", fields)
	}
}
