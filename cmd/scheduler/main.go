// Package main runs the standalone scheduler service: the cron engine,
// the reconciliation loop, and the fire pipeline, plus a small HTTP
// surface for manual triggers and health checks.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentplane/agentplane/internal/activity"
	"github.com/agentplane/agentplane/internal/agent"
	"github.com/agentplane/agentplane/internal/common/config"
	"github.com/agentplane/agentplane/internal/common/httpmw"
	"github.com/agentplane/agentplane/internal/common/logger"
	"github.com/agentplane/agentplane/internal/common/tracing"
	"github.com/agentplane/agentplane/internal/lock"
	"github.com/agentplane/agentplane/internal/persistence"
	"github.com/agentplane/agentplane/internal/queue"
	"github.com/agentplane/agentplane/internal/redis"
	"github.com/agentplane/agentplane/internal/schedule"
	"github.com/agentplane/agentplane/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting scheduler service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, driver, cleanup, err := persistence.Provide(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer cleanup()

	scheduleRepo, err := schedule.NewSQLRepository(pool, driver)
	if err != nil {
		log.Fatal("Failed to initialize schedule store", zap.Error(err))
	}
	agentRepo, err := agent.NewSQLRepository(pool, driver)
	if err != nil {
		log.Fatal("Failed to initialize agent store", zap.Error(err))
	}

	// Redis backs the per-agent lock, the execution queue, and event
	// publishing.
	redisClient, err := redis.Connect(cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	locker := lock.NewRedisLocker(redisClient, log)
	execQueue := queue.NewExecutionQueue(
		queue.NewRedisStore(redisClient),
		queue.Options{
			MaxSize:      cfg.Queue.MaxSize,
			ExecutionTTL: cfg.Queue.ExecutionTTLDuration(),
		},
		log,
	)
	publisher := scheduler.NewRedisPublisher(redisClient)

	// Activities are tracked through the control plane's internal API.
	tracker := activity.NewClient(cfg.Scheduler.ControlPlaneURL, log)

	executor := scheduler.NewExecutor(
		scheduleRepo,
		agentRepo,
		tracker,
		locker,
		execQueue,
		publisher,
		scheduler.DefaultRuntimeFactory(log),
		cfg.Scheduler,
		log,
	)

	// Entries promoted when a firing releases the slot are executed here,
	// routed by source to the runtime's chat or task endpoint.
	executor.SetDispatcher(queue.NewDispatcher(
		execQueue,
		agent.NewQueueRunner(agentRepo, agent.DefaultRuntimeFactory(log), cfg.Scheduler.DefaultTimeout, log),
		log,
	))

	svc := scheduler.NewService(scheduleRepo, executor, cfg.Scheduler, log)
	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	log.Info("Scheduler running",
		zap.Int("jobs", svc.JobCount()),
		zap.Int("reload_interval_seconds", cfg.Scheduler.ReloadInterval),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.Recovery(log))
	router.Use(httpmw.OtelTracing("scheduler"))
	router.Use(httpmw.RequestLogger(log, "scheduler"))
	scheduler.RegisterRoutes(router, scheduleRepo, executor, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Scheduler.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Scheduler HTTP server listening", zap.Int("port", cfg.Scheduler.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-gctx.Done():
		}

		log.Info("Shutting down scheduler...")
		svc.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Scheduler exited with error", zap.Error(err))
	}
	log.Info("Scheduler stopped")
}
