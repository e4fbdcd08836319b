package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/config"
	handler "github.com/Harsh-BH/warden/internal/delivery/http"
	"github.com/Harsh-BH/warden/internal/interactive"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/queue"
	redisrepo "github.com/Harsh-BH/warden/internal/repository/redis"
	"github.com/Harsh-BH/warden/internal/storage"
	"github.com/Harsh-BH/warden/internal/usecase"
	"github.com/Harsh-BH/warden/internal/workspace"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Warden API Server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	gin.SetMode(cfg.Server.GinMode)

	ctx := context.Background()

	stores, err := storage.Open(ctx, cfg.Database, "warden-api", logger)
	if err != nil {
		logger.Fatal("Failed to open result store", zap.Error(err))
	}
	defer stores.Close()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to ping Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis")

	// Initialize RabbitMQ publisher
	pub, err := queue.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize RabbitMQ publisher", zap.Error(err))
	}
	defer pub.Close()
	logger.Info("Connected to RabbitMQ")

	languages := language.NewRegistry(cfg.Sandbox.ImagePrefix)
	cache := redisrepo.NewResultCache(rdb)

	// Initialize use cases
	submitUC := usecase.NewSubmitJobUsecase(stores.Results, pub, languages, logger)
	documentUC := usecase.NewSubmitDocumentUsecase(stores.Documents, languages, submitUC, logger)
	getUC := usecase.NewGetResultUsecase(stores.Results, cache, cfg.Redis.ResultCacheTTL, logger)

	// Interactive processes run on this host, not in the sandbox.
	interactiveRoot, err := workspace.NewManager(cfg.Interactive.TempRoot)
	if err != nil {
		logger.Fatal("Failed to prepare interactive temp root", zap.Error(err))
	}
	executions := interactive.NewRegistry(interactive.Config{
		Grace:             cfg.Interactive.Grace,
		UnattachedGrace:   cfg.Interactive.UnattachedGrace,
		MaxLifetime:       cfg.Interactive.MaxLifetime,
		MaxBufferedEvents: cfg.Interactive.MaxBufferedEvents,
		AllowedCommands:   cfg.Interactive.AllowedCommands,
		PythonBin:         cfg.Interactive.PythonBin,
		NodeBin:           cfg.Interactive.NodeBin,
	}, interactiveRoot, logger)
	defer executions.Close()

	router := handler.NewRouter(handler.RouterDeps{
		Submit:          submitUC,
		SubmitDocument:  documentUC,
		GetResult:       getUC,
		Languages:       languages,
		Executions:      executions,
		Store:           stores.Results,
		Cache:           cache,
		Publisher:       pub,
		Logger:          logger,
		RateLimitPerMin: cfg.Server.RateLimit,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	})

	// Create HTTP server. The WebSocket upgrader clears these deadlines on
	// hijacked connections.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
