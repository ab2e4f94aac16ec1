package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/handlers"
	"github.com/fjmerc/airlift/internal/middleware"
	"github.com/fjmerc/airlift/internal/registry"
	"github.com/fjmerc/airlift/internal/repository"
	"github.com/fjmerc/airlift/internal/repository/postgres"
	"github.com/fjmerc/airlift/internal/repository/sqlite"
	"github.com/fjmerc/airlift/internal/staging"
	"github.com/fjmerc/airlift/internal/storage"
	"github.com/fjmerc/airlift/internal/storage/filesystem"
	s3storage "github.com/fjmerc/airlift/internal/storage/s3"
	"github.com/fjmerc/airlift/internal/utils"
	"github.com/fjmerc/airlift/internal/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting airlift",
		"port", cfg.Port,
		"db_backend", cfg.DBBackend,
		"archive_backend", cfg.ArchiveBackend,
		"chunk_size", cfg.ChunkSize,
		"max_file_size", cfg.MaxFileSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer repos.Cleanup()

	slog.Info("database initialized", "backend", repos.DatabaseType)

	stagingStore, err := staging.NewStore(cfg.StagingDir)
	if err != nil {
		slog.Error("failed to initialize staging area", "error", err)
		os.Exit(1)
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize archive storage", "error", err)
		os.Exit(1)
	}

	tracker := utils.NewTransferTracker()
	reg := registry.New(repos.Uploads, repos.Imports, stagingStore, archive, tracker,
		cfg.ChunkSize, cfg.MaxFileSize)

	// Finish anything a previous process left behind before taking traffic.
	workers.RunRecovery(ctx, reg)

	cleanup := workers.NewCleanupWorker(reg,
		time.Duration(cfg.CleanupIntervalMin)*time.Minute,
		time.Duration(cfg.StaleUploadHours)*time.Hour,
	)
	go cleanup.Run(ctx)

	mux := http.NewServeMux()

	// Specific paths first; ServeMux prefers the longest pattern.
	mux.HandleFunc("/api/upload", handlers.UploadHandler(reg, repos, cfg))
	mux.HandleFunc("/api/upload/imported", handlers.ImportsHandler(repos, cfg))
	mux.HandleFunc("/api/upload/", handlers.UploadItemHandler(reg, cfg))

	checkers := handlers.StatusCheckers(repos, stagingStore, archive)
	mux.HandleFunc("/api/status/", handlers.StatusHandler(checkers))

	mux.Handle("/metrics", promhttp.Handler())

	handler := middleware.RequestID(middleware.Logging(middleware.Recovery(middleware.Metrics(mux))))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("shutdown signal received", "signal", sig)

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
		defer shutdownCancel()

		// Stop accepting chunks, then drain the in-flight ones before the
		// HTTP server closes.
		if !tracker.Wait(shutdownCtx) {
			slog.Warn("shutdown timeout reached with transfers in flight")
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				slog.Error("server close failed", "error", err)
			}
			os.Exit(1)
		}

		slog.Info("server shutdown complete")
	}
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.DBBackend {
	case repository.DatabaseTypePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewRepositories(pool)
	default:
		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return sqlite.NewRepositories(db)
	}
}

func openArchive(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.ArchiveBackend {
	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3Endpoint != "",
		})
	default:
		return filesystem.New(cfg.ArchiveDir)
	}
}
