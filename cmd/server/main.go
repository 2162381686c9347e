package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/copybook/internal/config"
	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/logging"
	"github.com/JonMunkholm/copybook/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"framing", cfg.Codec.Framing,
		"job_max_concurrent", cfg.Jobs.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"database", cfg.Database.Enabled(),
	)

	n, err := core.LoadSchemas(cfg)
	if err != nil {
		slog.Error("failed to load schemas", "dir", cfg.Codec.SchemaDir, "error", err)
		os.Exit(1)
	}
	slog.Info("schemas registered", "count", n)
	for _, e := range core.All() {
		slog.Debug("schema", "name", e.Name, "charset", e.Schema.CharsetName, "shapes", len(e.Schema.Shapes))
	}

	sc, err := core.ServiceConfigFrom(cfg)
	if err != nil {
		slog.Error("invalid codec configuration", "error", err)
		os.Exit(1)
	}
	service := core.NewService(sc)

	// The load endpoints stay disabled without a database.
	var db core.DBTX
	if cfg.Database.Enabled() {
		pool, err := core.OpenPool(context.Background(), cfg)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		db = pool
	}

	server := web.NewServer(service, cfg, db)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running jobs to finish (with timeout)
		if status := service.Limiter().Status(); status.Active > 0 {
			slog.Info("waiting for jobs to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("jobs did not complete in time", "error", err)
			} else {
				slog.Info("all jobs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
