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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/cache"
	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/handler/appointment"
	"github.com/jwalitptl/clinic-api/internal/handler/availability"
	"github.com/jwalitptl/clinic-api/internal/handler/doctor"
	"github.com/jwalitptl/clinic-api/internal/handler/health"
	prometheusHandler "github.com/jwalitptl/clinic-api/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-api/internal/handler/user"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/repository/postgres"
	"github.com/jwalitptl/clinic-api/internal/router"
	authService "github.com/jwalitptl/clinic-api/internal/service/auth"
	availabilityService "github.com/jwalitptl/clinic-api/internal/service/availability"
	"github.com/jwalitptl/clinic-api/internal/service/booking"
	doctorService "github.com/jwalitptl/clinic-api/internal/service/doctor"
	eventService "github.com/jwalitptl/clinic-api/internal/service/event"
	"github.com/jwalitptl/clinic-api/internal/service/notification"
	userService "github.com/jwalitptl/clinic-api/internal/service/user"
	"github.com/jwalitptl/clinic-api/pkg/auth"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/security"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	if err := validator.RegisterBinding(); err != nil {
		log.Fatal(err, "failed to register request validators")
	}

	ctx := context.Background()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal(err, "failed to apply schema")
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("clinic", registry)

	checks := map[string]health.Check{
		"database": db.PingContext,
	}

	// Slot cache
	cacheOpts := cache.Options{KeyPrefix: cfg.Cache.KeyPrefix, TTL: cfg.Cache.TTL}
	var slotCache cache.SlotCache
	switch cfg.Cache.Driver {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal(err, "failed to connect to Redis")
		}
		defer client.Close()
		slotCache = cache.NewRedisSlotCache(client, cacheOpts)
		checks["redis"] = redisCheck(client)
	default:
		slotCache = cache.NewMemorySlotCache(cacheOpts)
	}

	// Booked notifications
	notifier := notification.NewNoopService(log)
	if cfg.RabbitMQ.Enabled {
		broker, err := rabbitmq.NewRabbitMQBroker(rabbitmq.Config{
			URL:            cfg.RabbitMQ.URL,
			Prefetch:       cfg.RabbitMQ.Prefetch,
			ReconnectDelay: cfg.RabbitMQ.ReconnectDelay,
		}, log.Zerolog())
		if err != nil {
			log.Fatal(err, "failed to connect to RabbitMQ")
		}
		defer broker.Close()
		notifier = notification.NewService(broker, notification.Config{
			Queue:   cfg.RabbitMQ.Queue,
			Pattern: cfg.RabbitMQ.Pattern,
		}, log, m)
	}

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	transactor := postgres.NewTransactor(base)
	userRepo := postgres.NewUserRepository(base)
	doctorRepo := postgres.NewDoctorRepository(base)
	availabilityRepo := postgres.NewAvailabilityRepository(base)
	appointmentRepo := postgres.NewAppointmentRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	// Initialize services
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	authSvc := authService.NewService(jwtSvc)
	eventSvc := eventService.NewEventService(outboxRepo, log)
	userSvc := userService.NewService(userRepo, security.NewBcryptHasher(bcrypt.DefaultCost), log)

	doctorSvc, err := doctorService.NewService(doctorRepo, doctorService.Config{
		LookupSize: cfg.Cache.DoctorLookupSize,
		LookupTTL:  cfg.Cache.DoctorLookupTTL,
	}, log)
	if err != nil {
		log.Fatal(err, "failed to create doctor service")
	}

	availabilitySvc := availabilityService.NewService(transactor, availabilityRepo, doctorSvc, eventSvc, slotCache, log, m)
	bookingSvc := booking.NewService(booking.Dependencies{
		Transactor:   transactor,
		Doctors:      doctorRepo,
		Users:        userRepo,
		Availability: availabilityRepo,
		Appointments: appointmentRepo,
		Events:       eventSvc,
		Cache:        slotCache,
		Notifier:     notifier,
		Logger:       log,
		Metrics:      m,
	})

	// Initialize middleware and handlers
	authMiddleware := middleware.NewAuthMiddleware(authSvc)

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(checks),
		prometheusHandler.New(registry),
		m,
		router.RouterConfig{
			Mode:         cfg.Server.Mode,
			RateLimit:    rate.Limit(cfg.RateLimit.RPS),
			RateBurst:    cfg.RateLimit.Burst,
			RateLimitOff: !cfg.RateLimit.Enabled,
			CORSConfig:   middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins),
			Security:     middleware.DefaultSecurityConfig(),
		},
		appointment.NewHandler(bookingSvc, authMiddleware),
		availability.NewHandler(availabilitySvc, authMiddleware),
		doctor.NewHandler(doctorSvc, authMiddleware),
		user.NewHandler(userSvc, authMiddleware),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}

func redisCheck(client *redis.Client) health.Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
