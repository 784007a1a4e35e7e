package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"messenger/internal/app/messaging"
	"messenger/internal/config"
	"messenger/internal/infra/broker/kafka"
	mongodb "messenger/internal/infra/db/mongo"
	ginserver "messenger/internal/infra/http/gin"
	"messenger/internal/infra/identity"
	"messenger/internal/infra/notify"
	"messenger/internal/infra/ratelimit"
	"messenger/internal/infra/storage/memory"
	"messenger/internal/infra/storage/s3"
	"messenger/internal/infra/ws"
	"messenger/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev", "info")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	sendLimiter, typingLimiter := buildLimiters(cfg, logger)

	hub := ws.NewHub(nil, logger)

	events, runConsumer, closeBroker, err := buildBroker(cfg, hub, logger)
	if err != nil {
		logger.Error("broker init failed", "error", err)
		os.Exit(1)
	}
	defer closeBroker()

	var directory messaging.Directory
	var verifier ginserver.TokenVerifier
	if cfg.IdentityBaseURL != "" {
		idClient := identity.NewClient(cfg.IdentityBaseURL, cfg.IdentityCacheTTL, logger)
		directory = idClient
		verifier = idClient
	}

	var notifier messaging.Notifier
	if cfg.NotifyURL != "" {
		notifier = notify.NewClient(cfg.NotifyURL, logger)
	}

	service := messaging.NewService(messaging.ServiceConfig{
		Store:        store,
		Events:       events,
		Directory:    directory,
		Notifier:     notifier,
		SendLimiter:  sendLimiter,
		DeleteWindow: cfg.DeleteWindow,
		Logger:       logger,
	})
	presence := messaging.NewCoordinator(messaging.CoordinatorConfig{
		Events:   events,
		Limiter:  typingLimiter,
		TTL:      cfg.TypingTTL,
		Debounce: cfg.TypingDebounce,
		Logger:   logger,
	})
	defer presence.Close()

	wsHandler := ginserver.NewWSHandler(hub, service, presence, logger)
	hub.SetHandler(wsHandler)

	uploader := buildUploader(cfg, logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Ready: func() error { return nil },
	}, ginserver.Handlers{
		Chat: ginserver.ChatHandler{
			Service:   service,
			Directory: directory,
			Logger:    logger,
		},
		Attachments: ginserver.AttachmentHandler{
			Uploader: uploader,
			Service:  service,
			MaxBytes: cfg.AttachmentMaxBytes,
			Logger:   logger,
		},
		WS:             wsHandler,
		AuthMiddleware: ginserver.AuthMiddleware{Verifier: verifier, Logger: logger}.Handle,
	})

	go hub.Run(ctx)
	if runConsumer != nil {
		go func() {
			if err := runConsumer(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer failed", "error", err)
				stop()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("messenger starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	hub.Wait()
	logger.Info("messenger stopped")
}

// buildStore prefers Mongo and falls back to the in-memory store for
// local runs.
func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (messaging.Store, func(), error) {
	if cfg.MongoURI == "" {
		logger.Info("no MONGO_URI, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}
	client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, nil, err
	}
	store := mongodb.NewStore(client, logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Error("mongo close failed", "error", err)
		}
	}
	return store, cleanup, nil
}

func buildLimiters(cfg config.Config, logger *slog.Logger) (messaging.Limiter, messaging.Limiter) {
	if cfg.RedisAddr == "" {
		logger.Info("no REDIS_ADDR, using in-process rate limits")
		return messaging.NewWindowLimiter(cfg.SendPerMinute, time.Minute),
			messaging.NewWindowLimiter(cfg.TypingPerMinute, time.Minute)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return ratelimit.NewRedisLimiter(rdb, "rl:send", cfg.SendPerMinute, time.Minute),
		ratelimit.NewRedisLimiter(rdb, "rl:typing", cfg.TypingPerMinute, time.Minute)
}

// buildBroker returns the broadcaster the service publishes through.
// With Kafka configured, events go through the topic and a consumer
// feeds this node's hub; otherwise the hub is the broadcaster.
func buildBroker(cfg config.Config, hub *ws.Hub, logger *slog.Logger) (messaging.Broadcaster, func(context.Context) error, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("no KAFKA_BROKERS, using single-node fan-out")
		return hub, nil, func() {}, nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, nil, hub, logger)
	if err != nil {
		producer.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close failed", "error", err)
		}
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer close failed", "error", err)
		}
	}
	return producer, consumer.Run, closeAll, nil
}

func buildUploader(cfg config.Config, logger *slog.Logger) s3.Uploader {
	if cfg.S3Endpoint == "" {
		logger.Info("no S3_ENDPOINT, attachments disabled")
		return s3.NoopUploader{}
	}
	client, err := s3.NewClient(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
	if err != nil {
		logger.Error("s3 init failed, attachments disabled", "error", err)
		return s3.NoopUploader{}
	}
	return client
}
