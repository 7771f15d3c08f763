package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"opendome.systems/pipeline/internal/application"
	"opendome.systems/pipeline/internal/config"
	"opendome.systems/pipeline/internal/db"
	"opendome.systems/pipeline/internal/queue"
	"opendome.systems/pipeline/internal/transcribe"
	"opendome.systems/pipeline/internal/worker"
	"opendome.systems/pipeline/pkg/whisper"
	"opendome.systems/pipeline/pkg/ytdlp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting transcriber service")

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

	workerID := application.WorkerID(conf.WorkerName, "transcriber")

	coord := queue.NewCoordinator(dbc.Videos(),
		queue.WithStaleThreshold(conf.StaleClaimThreshold()),
		queue.WithClaimRetries(conf.ClaimRetries),
		queue.WithMaxDuration(conf.MaxDurationSeconds),
	)

	processor := transcribe.New(ytdlp.New(), whisper.New(), whisper.Options{
		Cmd:   conf.WhisperCmd,
		Model: conf.WhisperModel,
	}, conf.MaxDurationSeconds)

	runner := worker.NewRunner(coord, processor, queue.StageTranscribe, workerID)

	slog.Info("Transcriber worker started",
		"worker_id", workerID,
		"batch_size", conf.BatchSize,
		"continuous", conf.Continuous,
		"whisper_model", conf.WhisperModel,
	)

	_, err = runner.Run(ctx, worker.Options{
		BatchSize:  conf.BatchSize,
		Continuous: conf.Continuous,
		Delay:      conf.ItemDelay(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker run failed", "error", err)
		os.Exit(1)
	}
}
