package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-ingest/internal/api/http"
	"github.com/i474232898/weather-ingest/internal/config"
	"github.com/i474232898/weather-ingest/internal/ingest"
	"github.com/i474232898/weather-ingest/internal/logging"
	"github.com/i474232898/weather-ingest/internal/scheduler"
	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/telemetry"
	"github.com/i474232898/weather-ingest/internal/tinybird"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration; a bad config or missing secret stops the process here.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := telemetry.Init(cfg.ZipkinURL, "weather-ingest", version)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	var (
		records httpapi.RecordReader
		stats   httpapi.StatsFunc
		done    = make(chan struct{})
	)

	switch cfg.Mode {
	case config.ModeBulk:
		pipe := tinybird.NewPipeClient(httpClient, cfg.BulkURL, cfg.Credentials.Downstream, cfg.BulkQuery)
		bulkLog := logger.Named("scheduler")

		sched, err := scheduler.New(func(ctx context.Context) error {
			code, err := pipe.Query(ctx)
			if err != nil {
				return err
			}
			bulkLog.Debug("pipe query complete", zap.Int("status", code))
			return nil
		}, scheduler.Options{
			RequestsPerMinute: cfg.BulkRequestsPerMinute,
			Workers:           cfg.MaxInFlight,
			QueueSize:         cfg.BulkQueueSize,
		}, bulkLog)
		if err != nil {
			logger.Fatal("failed to create scheduler", zap.Error(err))
		}
		if err := sched.Start(); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
		stats = func() interface{} { return sched.Snapshot() }

		go func() {
			defer close(done)
			<-ctx.Done()
			sched.Stop()
		}()

	default:
		memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge, cfg.Location)
		records = memStore

		source := providers.NewOpenWeatherProvider(httpClient, providers.OpenWeatherOptions{
			BaseURL:    cfg.UpstreamURL,
			APIKey:     cfg.Credentials.Upstream,
			Units:      cfg.UpstreamUnits,
			MaxRetries: cfg.UpstreamMaxRetries,
		})
		sink := tinybird.NewEventsClient(httpClient, cfg.DownstreamURL, cfg.Credentials.Downstream)

		loop, err := ingest.New(source, sink, memStore, ingest.Options{
			Entities:      cfg.Entities,
			FetchInterval: cfg.FetchInterval,
			RequestDelay:  cfg.RequestDelay,
			MaxInFlight:   cfg.MaxInFlight,
			Location:      cfg.Location,
		}, logger.Named("ingest"))
		if err != nil {
			logger.Fatal("failed to create ingestion loop", zap.Error(err))
		}
		stats = func() interface{} { return loop.Stats().Snapshot() }

		go func() {
			defer close(done)
			_ = loop.Run(ctx)
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:               "weather-ingest",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-ingest",
			"mode":    cfg.Mode,
		})
	})

	httpapi.RegisterRoutes(app, records, stats)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Warn("fiber server stopped", zap.Error(err))
		}
	}()

	logger.Info("weather-ingest started",
		zap.String("mode", cfg.Mode),
		zap.Int("entities", len(cfg.Entities)),
		zap.String("port", cfg.Port),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for workers to stop")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("error flushing traces", zap.Error(err))
	}
}
