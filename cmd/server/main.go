package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/sheetimport/internal/application"
	"github.com/JonMunkholm/sheetimport/internal/config"
	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/logging"
	"github.com/JonMunkholm/sheetimport/internal/storage/postgres"
	"github.com/JonMunkholm/sheetimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"space", cfg.Contentful.SpaceID,
		"environment", cfg.Contentful.Environment,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"database", cfg.Database.Enabled(),
	)
	if cfg.Security.ImporterPassword == "" {
		slog.Warn("IMPORTER_PASSWORD is not set, import requests will be refused")
	}

	ctx := context.Background()

	var (
		history   core.HistoryStore
		templates core.TemplateStore
	)
	if cfg.Database.Enabled() {
		pool, err := connectDatabase(ctx, &cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := postgres.New(pool)
		history, templates = store, store
	} else {
		slog.Info("no database configured, keeping run history in memory",
			"capacity", cfg.History.MemoryCapacity)
		history = core.NewMemoryHistory(cfg.History.MemoryCapacity)
	}

	app, err := application.New(cfg, nil, slog.Default())
	if err != nil {
		slog.Error("failed to create clients", "error", err)
		os.Exit(1)
	}
	service := app.Service(history, templates)

	// Create server with config
	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Purge old run history
	go service.StartPurgeScheduler(jobCtx, cfg.History.Purge())

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Give active runs the shutdown window, then cancel what is left
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for import runs to complete", "active", status.Active)
			if err := service.Drain(shutdownCtx); err != nil {
				slog.Warn("import runs did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all import runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// connectDatabase opens the pool with the configured limits and applies the
// schema.
func connectDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := postgres.Connect(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
