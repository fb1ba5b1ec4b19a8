package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/iudanet/fieldsync/internal/client/cli"
	"github.com/iudanet/fieldsync/internal/client/data"
	"github.com/iudanet/fieldsync/internal/client/scheduler"
	"github.com/iudanet/fieldsync/internal/client/storage/boltdb"
	"github.com/iudanet/fieldsync/internal/client/sync"
	"github.com/iudanet/fieldsync/internal/config"

	httpapi "github.com/iudanet/fieldsync/internal/client/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	fs := flag.NewFlagSet("fieldsync-client", flag.ExitOnError)
	showVersion := fs.Bool("version", false, "Show version information")
	cfg := config.LoadClient(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := fs.Args()
	command := ""
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	boltStorage, err := boltdb.New(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	// Идентификатор устройства должен совпадать с claims токена
	if cfg.ClientID != "" {
		if err := boltStorage.SetClientID(ctx, cfg.ClientID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to pin client id: %v\n", err)
			os.Exit(1)
		}
	}

	apiClient := httpapi.NewClient(cfg.ServerURL, cfg.Token)
	dataService := data.NewService(boltStorage, boltStorage, logger)
	syncService := sync.NewService(apiClient, boltStorage, boltStorage, boltStorage, boltStorage, cfg.BatchSize, logger)
	sched := scheduler.New(syncService, cfg.SyncInterval, logger)

	app := cli.New(apiClient, dataService, syncService, sched, boltStorage, boltStorage, logger)
	app.Run(ctx, command, args)
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

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printVersion() {
	fmt.Printf("FieldSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
