package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ember/internal/server/api"
	"ember/internal/server/config"
	"ember/internal/server/database"
	"ember/internal/server/meta"
	"ember/internal/server/service"
	"ember/internal/server/storage"
)

// linkLength is the identifier length for public and analytics links.
const linkLength = 16

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"default_expiry", cfg.DefaultExpiry,
		"default_max_downloads", cfg.DefaultMaxDownloads,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize content store
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("content store initialized", "path", cfg.StoragePath)

	// Requester metadata deriver (GeoIP is optional)
	deriver, err := meta.NewResolver(cfg.GeoIPDatabasePath)
	if err != nil {
		slog.Error("failed to initialize metadata resolver", "error", err)
		os.Exit(1)
	}
	defer deriver.Close()
	if cfg.GeoIPDatabasePath != "" {
		slog.Info("geoip database loaded", "path", cfg.GeoIPDatabasePath)
	}

	// Initialize repository and services
	repo := database.NewRepository(db)
	minter := service.NewSecureMinter(linkLength)
	uploads := service.NewUploadService(repo, store, minter, cfg)
	gate := service.NewAccessGate(repo, deriver)
	analytics := service.NewAnalyticsService(repo)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(repo, store, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(uploads, gate, analytics, store, db)
	e := api.SetupRouter(handler)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}
