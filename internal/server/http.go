package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/Anvoria/loginguard/internal/cache"
	"github.com/Anvoria/loginguard/internal/config"
	"github.com/Anvoria/loginguard/internal/database"
	"github.com/Anvoria/loginguard/internal/migrations"
	"github.com/Anvoria/loginguard/internal/utils"
)

// NewApp builds the Fiber app with the error handler and the security,
// rate limiting and CORS middleware
func NewApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if apiErr, ok := err.(*utils.APIError); ok {
				return utils.ErrorResponse(c, apiErr)
			}

			var e *fiber.Error
			if errors.As(err, &e) {
				return utils.ErrorResponse(c, utils.NewAPIError(
					"HTTP_ERROR",
					e.Message,
					e.Code,
				))
			}

			return utils.ErrorResponse(c, utils.ErrInternalServer)
		},
	})

	app.Use(helmet.New())

	if cfg.Server.RateLimit.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Server.RateLimit.Max,
			Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return utils.ErrorResponse(c, utils.ErrTooManyRequest)
			},
		}))
	}

	if len(cfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
			AllowMethods:     "GET,POST,DELETE,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
			AllowCredentials: true,
			ExposeHeaders:    "Content-Length",
			MaxAge:           3600,
		}))
	}

	return app
}

// Start connects the stores, runs migrations, wires the services, starts
// housekeeping and serves HTTP until SIGINT or SIGTERM
func Start(cfg *config.Config) error {
	InitLogger(cfg.Logging.Level)

	if err := database.ConnectDB(cfg); err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	defer database.CloseDB()
	slog.Info("Database connected successfully")

	if err := cache.ConnectRedis(&cfg.Redis); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		return err
	}
	defer cache.CloseRedis()

	if err := migrations.RunMigrations(database.DB); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}
	slog.Info("Migrations completed successfully")

	deps, err := NewDependencies(cfg, database.DB, cache.RedisClient)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			slog.Warn("Failed to close dependencies", "error", err)
		}
	}()

	app := NewApp(cfg)
	SetupRoutes(app, cfg, deps)

	deps.Scheduler.Start()

	errCh := make(chan error, 1)
	addr := cfg.Server.Address()
	go func() {
		slog.Info("Server starting",
			"address", addr,
			"app", cfg.App.Name,
			"version", cfg.App.Version,
		)
		errCh <- app.Listen(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Failed to start server", "error", err)
		}
		deps.Scheduler.Stop(context.Background())
		return err
	case sig := <-quit:
		slog.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps.Scheduler.Stop(ctx)
	if err := app.ShutdownWithContext(ctx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
		return err
	}
	return nil
}

// InitLogger installs the default slog text handler at the given level
func InitLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(handler))
}
