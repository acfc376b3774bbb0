// Package api assembles the fiber application: middleware, routes and probes.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/api/handlers"
	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/internal/middleware/ratelimit"
	"github.com/sop-monitor/backend/internal/middleware/security"
	"github.com/sop-monitor/backend/internal/middleware/validation"
	"github.com/sop-monitor/backend/internal/pipeline"
	"github.com/sop-monitor/backend/pkg/config"
)

// Pinger is anything the readiness probe should check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Server        config.ServerConfig
	RateLimit     config.RateLimitConfig
	Runner        *pipeline.Runner
	Store         handlers.SOPStore
	Dependencies  map[string]Pinger
	Logger        *zap.Logger
	IsDevelopment bool
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// NewServer returns the app and a cleanup func that stops background work.
func NewServer(opts Options) (*fiber.App, func()) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(opts.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(opts.Server.WriteTimeout) * time.Second,
		BodyLimit:    opts.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: opts.RateLimit.RequestsPerMinute,
		Logger:               opts.Logger,
	})

	origins := "*"
	if len(opts.Server.AllowedOrigins) > 0 {
		origins = strings.Join(opts.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.ClientHeader,
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: opts.IsDevelopment}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		checks := fiber.Map{}
		ready := true
		for name, dep := range opts.Dependencies {
			if err := dep.Ping(c.UserContext()); err != nil {
				opts.Logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
				checks[name] = err.Error()
				ready = false
				continue
			}
			checks[name] = "ok"
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"checks": checks,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	})

	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxObservations: opts.Server.MaxObservations,
		Logger:          opts.Logger,
	}))

	evaluationHandler := handlers.NewEvaluationHandler(opts.Runner)
	sopHandler := handlers.NewSOPHandler(opts.Store)

	api.Post("/evaluations", evaluationHandler.HandleEvaluate)

	api.Post("/sops", sopHandler.CreateSOP)
	api.Get("/sops", sopHandler.ListSOPs)
	api.Get("/sops/:name", sopHandler.GetSOP)
	api.Delete("/sops/:name", sopHandler.DeleteSOP)

	return app, limiter.Stop
}
