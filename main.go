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
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"chorus/chat-service/config"
	"chorus/chat-service/db"
	"chorus/chat-service/handlers"
	"chorus/chat-service/services"
	"chorus/chat-service/store"
	"chorus/chat-service/transport"
	"chorus/chat-service/utils"
)

type backend struct {
	presence services.PresenceStore
	queue    services.QueueStore
	users    services.UserDirectory

	redis *redis.Client
	sql   *gorm.DB
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.LogFormat, cfg.LogLevel)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open store backend", "backend", cfg.StoreBackend, "error", err)
	}
	logger.Info("Store backend ready", "backend", cfg.StoreBackend)

	// Initialize services
	tracker := services.NewPresenceTracker(stores.presence, cfg.PresenceTimeout, nil)
	queue := services.NewMessageQueue(stores.queue, nil)

	var hub *transport.Hub
	if cfg.HasTarget(config.TargetWebSocket) || cfg.HasTarget(config.TargetRedis) {
		hub = transport.NewHub(logger)
	}

	var push []transport.Dispatcher
	if cfg.HasTarget(config.TargetRedis) {
		if stores.redis == nil {
			client, err := db.NewRedisClient(ctx, cfg)
			if err != nil {
				logger.Fatal("Failed to connect to Redis", "error", err)
			}
			stores.redis = client
		}
		// Every instance relays the channel into its own hub, so the hub is
		// reached through Redis rather than directly.
		push = append(push, transport.NewRedisPublisher(stores.redis, cfg.RedisEventsChannel))
		go transport.NewRelay(stores.redis, cfg.RedisEventsChannel, hub, logger).Run(ctx)
	} else if hub != nil {
		push = append(push, hub)
	}

	var nc *nats.Conn
	if cfg.HasTarget(config.TargetNATS) {
		nc, err = transport.ConnectNATS(cfg.NatsURL, cfg.NatsUser, cfg.NatsPass, "chat-service")
		if err != nil {
			logger.Fatal("Failed to connect to NATS", "error", err)
		}
		push = append(push, transport.NewNATSPublisher(nc, cfg.NatsSubject))
	}

	events := push
	if cfg.HasTarget(config.TargetQueue) {
		events = append([]transport.Dispatcher{services.NewQueueRelay(queue)}, push...)
	}

	poller := services.NewPoller(tracker, queue, stores.users, dispatcher(events), logger)
	poller.SetLimit(cfg.PollLimit)
	poller.SetTrimPolicy(services.NewTrimPolicy(cfg.TrimStrategy, cfg.TrimSampleRate))

	sender := services.NewSender(queue, stores.users, senderDispatcher(cfg, push), nil, logger)
	syncer := services.NewSynchronizer(tracker, stores.users)

	sweeper := services.NewSweeper(poller, cfg.PresenceSweepInterval, logger)
	sweeper.Start()

	router := handlers.NewRouter(handlers.RouterDeps{
		Chat:      handlers.NewChatHandler(poller, sender, syncer, logger),
		Presence:  tracker,
		Hub:       hub,
		Users:     stores.users,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting Chat Service", "port", cfg.Port, "targets", cfg.DispatchTargets)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	sweeper.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	if stores.redis != nil {
		if err := stores.redis.Close(); err != nil {
			logger.Warn("Failed to close Redis client", "error", err)
		}
	}
	if stores.sql != nil {
		if sqlDB, err := stores.sql.DB(); err == nil {
			sqlDB.Close()
		}
	}

	logger.Info("Server exited")
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := db.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			presence: store.NewRedisPresence(client, cfg.RedisPrefix),
			queue:    store.NewRedisQueue(client, cfg.RedisPrefix),
			users:    store.NewRedisDirectory(client, cfg.RedisPrefix),
			redis:    client,
		}, nil
	case config.BackendPostgres, config.BackendSQLite:
		database, err := db.Connect(cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			presence: store.NewGormPresence(database),
			queue:    store.NewGormQueue(database),
			users:    store.NewGormDirectory(database),
			sql:      database,
		}, nil
	case config.BackendMemory:
		return &backend{
			presence: store.NewMemoryPresence(),
			queue:    store.NewMemoryQueue(),
			users:    store.NewMemoryDirectory(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// dispatcher returns nil for an empty target list so senders can report that
// no transport is configured.
func dispatcher(targets []transport.Dispatcher) transport.Dispatcher {
	if len(targets) == 0 {
		return nil
	}
	return transport.NewFanout(targets...)
}

// senderDispatcher picks the push path for sent messages. A queue-only setup
// is still a working transport: sent messages are already appended and
// polling clients read them from there.
func senderDispatcher(cfg *config.Config, push []transport.Dispatcher) transport.Dispatcher {
	if len(push) == 0 && cfg.HasTarget(config.TargetQueue) {
		return transport.Discard
	}
	return dispatcher(push)
}
