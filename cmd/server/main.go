package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/obsrv/monitor-service/config"
	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/handlers"
	"github.com/obsrv/monitor-service/internal/jobs"
	"github.com/obsrv/monitor-service/internal/middleware"
	"github.com/obsrv/monitor-service/internal/pipeline"
	"github.com/obsrv/monitor-service/internal/scheduler"
	"github.com/obsrv/monitor-service/internal/sweepers"
	"github.com/obsrv/monitor-service/internal/taskqueue"
	"github.com/obsrv/monitor-service/internal/telemetry"
	"github.com/obsrv/monitor-service/internal/webhook"
	"github.com/obsrv/monitor-service/internal/workers"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting monitor service")

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	store := database.NewStore(database.Pool())

	if failed, err := store.FailInterruptedCrawls(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to handle interrupted crawls")
	} else if failed > 0 {
		logger.Info().Int64("count", failed).Msg("Marked interrupted crawls as failed")
	}

	if err := store.EnsureHistoryPartitions(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create history partitions")
	}

	queue := taskqueue.New(database.Pool())
	fetcher := crawler.NewFetcher(cfg.Crawl)
	pipe := pipeline.New(store, fetcher, nil, queue)
	pipe.RequireHTTPS(cfg.IsProduction())

	sched := scheduler.New(store, pipe, cfg.Crawl.MaxConcurrent)
	sched.Start(ctx)

	hostname, _ := os.Hostname()
	deliveryWorker := workers.New(queue, webhook.NewDeliverer(cfg.Webhook), workers.Config{
		WorkerID: hostname,
	})
	deliveryWorker.Start(ctx)

	deliverySweeper := sweepers.NewDeliverySweeper(queue, logger, time.Minute)
	go deliverySweeper.Start(ctx)

	maintenance := jobs.NewMaintenance(store, logger, cfg.Retention, 24*time.Hour)
	go maintenance.Start(ctx)

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	setupMiddleware(router, logger)

	websiteHandler := handlers.NewWebsiteHandler(store, sched)

	public := router.Group("/")
	public.Use(middleware.RateLimit())
	{
		public.GET("/health", handlers.HealthCheck)
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuth())
	internal.Use(middleware.ServiceRateLimit(50, 100))
	{
		internal.GET("/health", handlers.HealthCheck)

		websites := internal.Group("/websites")
		{
			websites.GET("", websiteHandler.List)
			websites.GET("/:websiteId", websiteHandler.Get)
			websites.POST("/:websiteId/crawl", websiteHandler.TriggerCrawl)
			websites.GET("/:websiteId/history/export", handlers.ExportHistory)
		}

		crawls := internal.Group("/crawls")
		{
			crawls.GET("", handlers.ListCrawls)
			crawls.GET("/:crawlId", handlers.GetCrawl)
		}

		deliveries := internal.Group("/deliveries")
		{
			deliveries.GET("", handlers.ListDeliveries)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	sched.Stop()
	deliveryWorker.Stop()
	deliverySweeper.Stop()
	maintenance.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Telemetry shutdown failed")
	}

	logger.Info().Msg("Server exited")
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "monitor-service").Logger()
	return &logger
}

func setupMiddleware(router *gin.Engine, logger *zerolog.Logger) {
	router.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	})
}
