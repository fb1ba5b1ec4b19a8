package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/fieldsync/internal/config"
	"github.com/iudanet/fieldsync/internal/server/auth"
	"github.com/iudanet/fieldsync/internal/server/conflict"
	"github.com/iudanet/fieldsync/internal/server/engine"
	"github.com/iudanet/fieldsync/internal/server/handlers"
	"github.com/iudanet/fieldsync/internal/server/media"
	"github.com/iudanet/fieldsync/internal/server/middleware"
	"github.com/iudanet/fieldsync/internal/server/sequence"
	"github.com/iudanet/fieldsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadServer(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	ctx := context.Background()

	store, err := sqlite.New(ctx, cfg.DatabaseDSN, sequence.NewAllocator())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	blobs, err := media.NewBlobStore(cfg.MediaDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	coordinator := media.NewCoordinator(store, blobs, media.NewSigner(cfg.TokenSecret), logger)
	resolver := conflict.NewResolver(store, logger)
	eng := engine.New(store, resolver, logger)

	authCfg := auth.Config{
		Secret:   []byte(cfg.TokenSecret),
		TokenTTL: cfg.TokenTTL,
	}

	syncHandler := handlers.NewSyncHandler(logger, eng)
	conflictHandler := handlers.NewConflictHandler(logger, eng)
	mediaHandler := handlers.NewMediaHandler(logger, coordinator)
	healthHandler := handlers.NewHealthHandler(logger, Version)

	authMW := middleware.AuthMiddleware(logger, authCfg)
	rateMW := middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateWindow, logger)

	protected := func(h http.HandlerFunc) http.Handler {
		return authMW(rateMW(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)
	mux.Handle("POST /api/v1/sync", protected(syncHandler.HandlePost))
	mux.Handle("GET /api/v1/sync", protected(syncHandler.HandleGet))
	mux.Handle("GET /api/v1/conflicts", protected(conflictHandler.HandleList))
	mux.Handle("POST /api/v1/conflicts/{id}/resolve", protected(conflictHandler.HandleResolve))
	mux.Handle("POST /api/v1/media/request-upload", protected(mediaHandler.HandleRequestUpload))
	mux.Handle("POST /api/v1/media/finalize", protected(mediaHandler.HandleFinalize))
	// Загрузка авторизуется подписью в URL, не токеном
	mux.Handle("PUT /api/v1/media/upload/{grant_id}", rateMW(http.HandlerFunc(mediaHandler.HandleUpload)))

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(mux))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errC:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func printVersion() {
	fmt.Printf("FieldSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
