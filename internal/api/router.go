// internal/api/router.go
package api

import (
	"context"
	"net/http"
	"time"

	"presence-tracker/internal/common/auth"
	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/common/validation"
	"presence-tracker/internal/presence/engine"
	"presence-tracker/internal/presence/query"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether one backing dependency can serve traffic.
type ReadinessCheck = func(ctx context.Context) error

type Deps struct {
	Engine   *engine.Engine
	Query    *query.Service
	Verifier *auth.TokenVerifier
	Logger   logger.Logger
	// Readiness checks keyed by dependency name, run by GET /ready.
	Readiness map[string]ReadinessCheck
	// ServiceName and Version are echoed by GET /health.
	ServiceName string
	Version     string
}

type handler struct {
	engine    *engine.Engine
	query     *query.Service
	validator *validation.Validator
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

// NewRouter builds the HTTP surface. Everything under /api/v1 requires a
// bearer token.
func NewRouter(deps Deps) (*gin.Engine, error) {
	validator, err := validation.NewValidator(validation.HeartbeatSchema)
	if err != nil {
		return nil, err
	}
	log := logger.ForComponent(deps.Logger, "http")
	h := &handler{
		engine:    deps.Engine,
		query:     deps.Query,
		validator: validator,
		errors:    apperrors.NewErrorHandler(log),
		logger:    log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": deps.ServiceName,
			"version": deps.Version,
		})
	})
	router.GET("/ready", readiness(deps.Readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authenticate(deps.Verifier, h.errors))
	{
		presence := v1.Group("/presence")
		presence.POST("/heartbeat", h.heartbeat)
		presence.GET("/status/:userId", h.status)
		presence.GET("/online", h.online)
		presence.GET("/sessions/:userId", h.sessions)
		presence.GET("/report", h.report)
	}

	return router, nil
}

func readiness(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status, body := h.errors.Resolve(c.FullPath(), err)
	c.AbortWithStatusJSON(status, body)
}
