package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/medflow/medflow-stock/internal/stock/consumers"
	"github.com/medflow/medflow-stock/internal/stock/events"
	"github.com/medflow/medflow-stock/internal/stock/handler"
	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/auth"
	"github.com/medflow/medflow-stock/pkg/config"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/httputil"
	"github.com/medflow/medflow-stock/pkg/lock"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/messaging"
	"github.com/unrolled/secure"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate stock schema")
		}
		log.Info().Msg("stock schema ready")
	}

	// RabbitMQ is optional; without it no events are published or consumed
	var rmq *messaging.RabbitMQ
	var publisher *events.StockEventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewStockEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ disabled, stock events will not be published")
	}

	// Redis medicine lock is optional; row locks alone keep allocation correct
	var locker service.Locker
	if cfg.Redis.Enabled {
		rdb, err := lock.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		locker = lock.New(rdb, &cfg.Redis, log)
	}

	// Initialize repository and services
	store := repository.NewStore(db)
	settings := service.SettingsFromConfig(&cfg.Stock)

	allocationService := service.NewAllocationService(store, locker, publisher, settings, log)
	ledgerService := service.NewLedgerService(store, log)
	adjustmentService := service.NewAdjustmentService(store, locker, publisher, log)
	batchService := service.NewBatchService(store, locker, publisher, settings, log)
	reportService := service.NewReportService(store, settings, log)

	stockHandler := handler.NewStockHandler(
		allocationService,
		ledgerService,
		adjustmentService,
		batchService,
		reportService,
		settings.Location,
		log,
	)

	// Start request event consumer
	if rmq != nil {
		requestConsumer, err := consumers.NewRequestEventConsumer(rmq, allocationService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create request event consumer")
		}
		if err := requestConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start request event consumer")
		}
	}

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		IsDevelopment:      cfg.Server.Environment == config.EnvDevelopment,
	})

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.Authenticate(verifier, cfg.Auth.TrustGatewayHeaders))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	// Mutating routes are limited per client IP
	var writeLimit func(http.Handler) http.Handler
	if cfg.RateLimit.RequestsPerMinute > 0 {
		writeLimit = httprate.Limit(cfg.RateLimit.RequestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		)
	}

	// API routes
	r.Mount("/api/v1/stock", stockHandler.Routes(writeLimit))

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
