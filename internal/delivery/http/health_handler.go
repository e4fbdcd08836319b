package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/queue"
	"github.com/Harsh-BH/warden/internal/repository"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler reports the reachability of every backing service.
type HealthHandler struct {
	store     repository.JobResultStore
	cache     repository.ResultCache
	publisher queue.Publisher
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. cache may be nil.
func NewHealthHandler(store repository.JobResultStore, cache repository.ResultCache, publisher queue.Publisher, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

// Health handles GET /api/v1/health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	services := gin.H{}
	healthy := true
	check := func(name string, err error) {
		if err != nil {
			healthy = false
			services[name] = "down"
			h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
			return
		}
		services[name] = "ok"
	}

	check("database", h.store.Ping(ctx))
	if h.cache != nil {
		check("redis", h.cache.Ping(ctx))
	}
	if h.publisher.Healthy() {
		services["rabbitmq"] = "ok"
	} else {
		healthy = false
		services["rabbitmq"] = "down"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"services": services,
	})
}
