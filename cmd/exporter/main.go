package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"opendome.systems/pipeline/internal/application"
	"opendome.systems/pipeline/internal/config"
	"opendome.systems/pipeline/internal/db"
	"opendome.systems/pipeline/internal/export"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting exporter service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	exporter := export.New(dbc.Videos(), conf.ExportDir, slog.Default())

	// "once" renders the site data a single time; the default is the
	// batch-threshold watch loop.
	if len(os.Args) > 1 && os.Args[1] == "once" {
		if _, err := exporter.Export(ctx); err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
		return
	}

	stateFile := filepath.Join(conf.ExportDir, ".export_state.json")
	watcher := export.NewWatcher(exporter, dbc.Videos(), stateFile,
		conf.ExportBatchSize, conf.ExportInterval(), slog.Default())

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watcher stopped", "error", err)
		os.Exit(1)
	}
}
