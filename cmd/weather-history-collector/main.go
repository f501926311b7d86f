package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-history-collector/internal/api/http"
	"github.com/i474232898/weather-history-collector/internal/config"
	"github.com/i474232898/weather-history-collector/internal/cyclelock"
	"github.com/i474232898/weather-history-collector/internal/events"
	"github.com/i474232898/weather-history-collector/internal/geocode"
	"github.com/i474232898/weather-history-collector/internal/logging"
	"github.com/i474232898/weather-history-collector/internal/scheduler"
	"github.com/i474232898/weather-history-collector/internal/store"
	"github.com/i474232898/weather-history-collector/internal/weather"
	"github.com/i474232898/weather-history-collector/internal/weather/providers"
)

// storage is what both store implementations offer.
type storage interface {
	weather.Store
	weather.HistoryReader
}

func main() {
	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration.
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()
	if !cfg.DotEnvLoaded {
		lg.Info("no .env file found; using process environment")
	}

	st, closeStore := openStorage(ctx, cfg, lg)
	defer closeStore()

	targets := cfg.Targets
	if cfg.GeocoderAPIKey != "" {
		targets = geocode.NewResolver(geocode.GoogleLookup(cfg.GeocoderAPIKey), lg).Resolve(targets)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := resty.New().
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("User-Agent", "weather-history-collector")

	provider, err := providers.New(providers.Settings{
		Name:         cfg.Provider,
		APIKey:       cfg.APIKey(),
		BaseURL:      cfg.APIBaseURL,
		LookbackDays: cfg.LookbackDays,
		HTTP: providers.HTTPClientConfig{
			Client: httpClient,
			Retry: providers.RetryPolicy{
				MaxAttempts: cfg.RetryAttempts,
				Backoff:     providers.ExponentialBackoff(cfg.RetryBaseDelay),
			},
			Logger: lg.With(zap.String("component", "provider")),
		},
	})
	if err != nil {
		lg.Fatal("failed to build weather provider", zap.Error(err))
	}

	opts := []weather.Option{
		weather.WithCycleMode(weather.CycleMode(cfg.CycleMode)),
		weather.WithLogger(lg.With(zap.String("component", "collector"))),
	}

	if cfg.RedisURL != "" {
		rdb, err := cyclelock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			lg.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		opts = append(opts, weather.WithLocker(cyclelock.New(rdb, cyclelock.DefaultKey, cfg.CycleLockTTL, lg)))
	}

	if len(cfg.KafkaBrokers) > 0 {
		kc, err := events.NewKafkaClient(cfg.KafkaBrokers)
		if err != nil {
			lg.Fatal("failed to create kafka client", zap.Error(err))
		}
		defer kc.Close()
		opts = append(opts, weather.WithReporter(events.NewPublisher(kc, cfg.KafkaCycleTopic, lg)))
	}

	// Core service orchestrating provider and store.
	service := weather.NewService(provider, st, targets, opts...)

	var app *fiber.App
	if cfg.HTTPEnabled {
		app = newApp()
		httpapi.RegisterRoutes(app, st, service)

		go func() {
			if err := app.Listen(":" + cfg.Port); err != nil {
				lg.Error("fiber server stopped", zap.Error(err))
			}
		}()
	}

	loc, _ := cfg.ScheduleLocation()
	sched := scheduler.New(service, cfg.ScheduleAt, loc, cfg.RunOnStart, lg)
	if err := sched.Start(ctx); err != nil {
		lg.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	lg.Info("collector running",
		zap.String("provider", provider.Name()),
		zap.Int("targets", len(targets)),
		zap.Time("next_run", sched.NextRun()),
	)

	<-ctx.Done()
	lg.Info("shutting down")

	if app != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			lg.Error("error during shutdown", zap.Error(err))
		}
	}
}

func openStorage(ctx context.Context, cfg *config.AppConfig, lg *zap.Logger) (storage, func()) {
	if cfg.DBDriver == "memory" {
		lg.Warn("using in-memory storage; observations are lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DSN(),
		store.WithMigrationMode(store.MigrationMode(cfg.SchemaMigration)),
		store.WithLogger(lg),
	)
	if err != nil {
		lg.Fatal("failed to open storage", zap.Error(err), zap.String("driver", cfg.DBDriver))
	}
	return st, func() {
		if err := st.Close(); err != nil {
			lg.Warn("closing storage", zap.Error(err))
		}
	}
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weather-history-collector",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Manual cycles run inside the request.
		WriteTimeout: 5 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
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

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	return app
}
