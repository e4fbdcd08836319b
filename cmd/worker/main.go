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

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/config"
	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/pool"
	"github.com/Harsh-BH/warden/internal/queue"
	redisrepo "github.com/Harsh-BH/warden/internal/repository/redis"
	"github.com/Harsh-BH/warden/internal/sandbox"
	"github.com/Harsh-BH/warden/internal/storage"
	"github.com/Harsh-BH/warden/internal/usecase"
	"github.com/Harsh-BH/warden/internal/workspace"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting Warden Execution Worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := storage.Open(ctx, cfg.Database, "warden-worker", logger)
	if err != nil {
		logger.Fatal("Failed to open result store", zap.Error(err))
	}
	defer stores.Close()

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Connect to Docker
	dockerOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Sandbox.DockerHost != "" {
		dockerOpts = append(dockerOpts, client.WithHost(cfg.Sandbox.DockerHost))
	}
	docker, err := client.NewClientWithOpts(dockerOpts...)
	if err != nil {
		logger.Fatal("Failed to create Docker client", zap.Error(err))
	}
	defer docker.Close()
	if _, err := docker.Ping(ctx); err != nil {
		logger.Fatal("Failed to reach Docker daemon", zap.Error(err))
	}
	logger.Info("Connected to Docker")

	jobRoot, err := workspace.NewManager(cfg.Sandbox.TempRoot)
	if err != nil {
		logger.Fatal("Failed to prepare sandbox temp root", zap.Error(err))
	}

	languages := language.NewRegistry(cfg.Sandbox.ImagePrefix)
	runner := sandbox.NewRunner(docker, languages, jobRoot, sandbox.Config{
		MemoryBytes:    cfg.Sandbox.MemoryMB << 20,
		CPUQuota:       cfg.Sandbox.CPUQuota,
		CPUPeriod:      cfg.Sandbox.CPUPeriod,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		Timeout:        cfg.Sandbox.Timeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		User:           cfg.Sandbox.User,
		Runtime:        cfg.Sandbox.Runtime,
	}, logger)

	if cfg.Sandbox.PullImages {
		pullCtx, pullCancel := context.WithTimeout(ctx, 10*time.Minute)
		err := runner.EnsureImages(pullCtx)
		pullCancel()
		if err != nil {
			logger.Fatal("Failed to pull sandbox images", zap.Error(err))
		}
	}

	// Initialize use case
	idempotencyStore := redisrepo.NewIdempotencyStore(redisClient, cfg.Worker.LockTTL)
	executeUC := usecase.NewExecuteJobUsecase(stores.Results, idempotencyStore, runner, cfg.Sandbox.Timeout, logger)

	// Unbuffered so prefetch alone bounds the unacked deliveries held here.
	jobsChan := make(chan *domain.JobMessage)

	// Initialize AMQP consumer
	consumer, err := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.Worker.PoolSize, jobsChan, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
	}
	defer consumer.Close()
	logger.Info("Connected to RabbitMQ")

	// Start worker pool
	workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, jobsChan, executeUC, logger)
	workerPool.Start(ctx)

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("AMQP consumer error", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down worker...")
	cancel()

	// In-flight jobs see the cancelled context and are requeued.
	workerPool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
}
