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
	"opendome.systems/pipeline/internal/summarize"
	"opendome.systems/pipeline/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting summarizer service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	processor, err := summarize.New(conf.OpenAIAPIKey, conf.SummaryModel, conf.SummaryMaxTokens)
	if err != nil {
		slog.Error("failed to create summarizer", "error", err)
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

	workerID := application.WorkerID(conf.WorkerName, "summarizer")

	coord := queue.NewCoordinator(dbc.Videos(),
		queue.WithStaleThreshold(conf.StaleClaimThreshold()),
		queue.WithClaimRetries(conf.ClaimRetries),
	)

	runner := worker.NewRunner(coord, processor, queue.StageSummarize, workerID)

	slog.Info("Summarizer worker started",
		"worker_id", workerID,
		"batch_size", conf.BatchSize,
		"continuous", conf.Continuous,
		"model", conf.SummaryModel,
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
