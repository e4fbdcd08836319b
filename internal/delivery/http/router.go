package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/delivery/http/middleware"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/queue"
	"github.com/Harsh-BH/warden/internal/repository"
	"github.com/Harsh-BH/warden/internal/usecase"
)

// RouterDeps carries everything the gateway routes need.
type RouterDeps struct {
	Submit         *usecase.SubmitJobUsecase
	SubmitDocument *usecase.SubmitDocumentUsecase
	GetResult      *usecase.GetResultUsecase
	Languages      *language.Registry
	Executions     ExecutionRegistry

	// Health checks. Cache may be nil.
	Store     repository.JobResultStore
	Cache     repository.ResultCache
	Publisher queue.Publisher

	Logger          *zap.Logger
	RateLimitPerMin int
	MaxBodyBytes    int64
}

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(deps.Logger))

	// Metrics endpoint (no rate limiting)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Health check (no rate limiting)
		healthHandler := NewHealthHandler(deps.Store, deps.Cache, deps.Publisher, deps.Logger)
		v1.GET("/health", healthHandler.Health)

		langHandler := NewLanguageHandler(deps.Languages)
		v1.GET("/languages", langHandler.List)

		limited := v1.Group("")
		limited.Use(middleware.RateLimiter(deps.RateLimitPerMin))
		limited.Use(middleware.BodySizeLimit(deps.MaxBodyBytes))

		subHandler := NewSubmissionHandler(deps.Submit, deps.SubmitDocument, deps.GetResult, deps.Logger)
		limited.POST("/submissions", subHandler.Submit)
		limited.POST("/submissions/document", subHandler.SubmitDocument)
		v1.GET("/submissions/:id", subHandler.GetByID)

		wsHandler := NewWebSocketHandler(deps.GetResult, deps.Logger)
		v1.GET("/submissions/:id/stream", wsHandler.Stream)

		execHandler := NewExecutionHandler(deps.Executions, deps.Logger)
		limited.POST("/executions", execHandler.Create)
		limited.POST("/executions/:id/input", execHandler.Input)
		v1.GET("/executions/:id/stream", execHandler.Stream)
		v1.DELETE("/executions/:id", execHandler.Delete)
	}

	return router
}
