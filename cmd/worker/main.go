package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/clinic-api/internal/cache"
	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/service/notification"
	internalWorker "github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/worker"
)

const healthAddr = ":8081"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	}).Component("worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics("clinic_worker", registry)

	// Domain events are fanned out on Redis channels named after the event type
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal(err, "failed to connect to Redis")
	}
	eventBroker := redis.NewRedisBrokerFromClient(redisClient, log.Zerolog())
	defer eventBroker.Close()

	base := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(base)

	processor := worker.NewOutboxProcessor(
		postgres.NewTransactor(base),
		outboxRepo,
		eventBroker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		log,
		m,
	)

	cleanup := internalWorker.NewOutboxCleanupWorker(
		eventService.NewEventService(outboxRepo, log),
		cfg.Outbox.Retention,
		cfg.Outbox.CleanupSchedule,
		log,
		m,
	)
	if err := cleanup.Start(ctx); err != nil {
		log.Fatal(err, "failed to schedule outbox cleanup")
	}
	defer cleanup.Stop()

	checks := map[string]health.Check{
		"database": db.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}

	// Front desk emails for booked appointments
	if cfg.RabbitMQ.Enabled && cfg.Email.Enabled {
		broker, err := rabbitmq.NewRabbitMQBroker(rabbitmq.Config{
			URL:            cfg.RabbitMQ.URL,
			Prefetch:       cfg.RabbitMQ.Prefetch,
			ReconnectDelay: cfg.RabbitMQ.ReconnectDelay,
		}, log.Zerolog())
		if err != nil {
			log.Fatal(err, "failed to connect to RabbitMQ")
		}
		// failed emails are requeued, see RabbitMQBroker.Consume
		consumer := messaging.NewBrokerAdapter(broker)
		defer consumer.Close()

		notifier := notification.NewFrontDeskNotifier(email.NewSMTPService(cfg.Email), cfg.Email.FrontDesk, cfg.RabbitMQ.Pattern, log)
		err = consumer.Subscribe(ctx, cfg.RabbitMQ.Queue, func(body []byte) error {
			return notifier.Handle(ctx, body)
		})
		if err != nil {
			log.Fatal(err, "failed to subscribe to notification queue")
		}
		log.Info("consuming booked notifications", "queue", cfg.RabbitMQ.Queue)
	}

	gin.SetMode(cfg.Server.Mode)
	srv := newHealthServer(checks, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down...")
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health server forced to shutdown")
	}
}

func newHealthServer(checks map[string]health.Check, registry *prometheus.Registry) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", prometheusHandler.New(registry).Handler())

	return &http.Server{
		Addr:              healthAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
