package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/api"
	"github.com/sop-monitor/backend/internal/bootstrap"
	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/internal/pipeline"
	"github.com/sop-monitor/backend/internal/storage/sqlite"
	"github.com/sop-monitor/backend/pkg/config"
	appLogger "github.com/sop-monitor/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dev := flag.Bool("dev", false, "development mode (no HSTS, access log on)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting SOP Compliance API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if n, err := sqliteClient.CountSOPs(context.Background()); err == nil {
		metrics.SOPsStored.Set(float64(n))
	}

	provider, err := bootstrap.NewProvider(cfg)
	if err != nil {
		appLogger.Fatal("Failed to create similarity provider", zap.Error(err))
	}
	defer provider.Close()

	evaluator, err := bootstrap.NewEvaluator(cfg, provider)
	if err != nil {
		appLogger.Fatal("Failed to create evaluator", zap.Error(err))
	}

	deps := map[string]api.Pinger{"sqlite": sqliteClient}
	for name, dep := range provider.Dependencies {
		deps[name] = dep
	}

	app, cleanup := api.NewServer(api.Options{
		Server:        cfg.Server,
		RateLimit:     cfg.RateLimit,
		Runner:        pipeline.NewRunner(evaluator, sqliteClient),
		Store:         sqliteClient,
		Dependencies:  deps,
		Logger:        appLogger.GetLogger(),
		IsDevelopment: *dev,
		AccessLog:     *dev,
	})
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.String("provider", cfg.Embedding.Provider),
		zap.Float64("threshold", cfg.Compliance.Threshold),
	)

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
