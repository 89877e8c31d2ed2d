// Package main runs the control plane: schedule CRUD, the agent
// registry and lifecycle endpoints, chat dispatch through the
// execution queue, the internal activities API, and the scheduler
// event relay.
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
	"github.com/agentplane/agentplane/internal/docker"
	"github.com/agentplane/agentplane/internal/events"
	"github.com/agentplane/agentplane/internal/events/bus"
	"github.com/agentplane/agentplane/internal/lifecycle"
	"github.com/agentplane/agentplane/internal/persistence"
	"github.com/agentplane/agentplane/internal/queue"
	"github.com/agentplane/agentplane/internal/redis"
	"github.com/agentplane/agentplane/internal/schedule"
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

	log.Info("Starting control plane...")

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
	activityRepo, err := activity.NewSQLRepository(pool, driver)
	if err != nil {
		log.Fatal("Failed to initialize activity store", zap.Error(err))
	}

	scheduleSvc := schedule.NewService(scheduleRepo, log)
	activitySvc := activity.NewService(activityRepo, log)

	// Redis backs the execution queue shared with the scheduler.
	redisClient, err := redis.Connect(cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	execQueue := queue.NewExecutionQueue(
		queue.NewRedisStore(redisClient),
		queue.Options{
			MaxSize:      cfg.Queue.MaxSize,
			ExecutionTTL: cfg.Queue.ExecutionTTLDuration(),
		},
		log,
	)
	runtimes := agent.DefaultRuntimeFactory(log)
	dispatcher := queue.NewDispatcher(
		execQueue,
		agent.NewQueueRunner(agentRepo, runtimes, cfg.Scheduler.DefaultTimeout, log),
		log,
	)

	// Event bus: in-memory by default, NATS when configured.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// Relay scheduler events from Redis onto the bus.
	relay := events.NewRelay(redisClient, eventBus, log)
	relay.Start(ctx)
	defer relay.Stop()

	// Docker-backed lifecycle controller. The control plane still serves
	// schedules and chat when Docker is unavailable; lifecycle endpoints
	// then fail per-request.
	var lifecycleCtrl agent.Starter
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Warn("Docker unavailable, lifecycle operations disabled", zap.Error(err))
		lifecycleCtrl = unavailableLifecycle{}
	} else {
		defer func() { _ = dockerClient.Close() }()
		if err := dockerClient.Ping(ctx); err != nil {
			log.Warn("Docker daemon not reachable, lifecycle operations disabled", zap.Error(err))
			lifecycleCtrl = unavailableLifecycle{}
		} else {
			lifecycleCtrl = lifecycle.NewController(dockerClient, agentRepo, cfg.Docker, log)
			log.Info("Connected to Docker daemon")
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmw.Recovery(log))
	router.Use(httpmw.OtelTracing("controlplane"))
	router.Use(httpmw.RequestLogger(log, "controlplane"))

	schedule.RegisterRoutes(router, scheduleSvc, log)
	activity.RegisterRoutes(router, activitySvc, log)
	agent.RegisterRoutes(router, agentRepo, lifecycleCtrl, execQueue, dispatcher, runtimes, log)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "controlplane"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Control plane listening", zap.Int("port", cfg.Server.Port))
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

		log.Info("Shutting down control plane...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Control plane exited with error", zap.Error(err))
	}
	log.Info("Control plane stopped")
}

// unavailableLifecycle rejects lifecycle operations when Docker is not
// reachable at startup.
type unavailableLifecycle struct{}

func (unavailableLifecycle) Start(ctx context.Context, agentName string) error {
	return fmt.Errorf("docker unavailable: cannot start agent %s", agentName)
}

func (unavailableLifecycle) Stop(ctx context.Context, agentName string) error {
	return fmt.Errorf("docker unavailable: cannot stop agent %s", agentName)
}
