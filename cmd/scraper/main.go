package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"opendome.systems/pipeline/internal/application"
	"opendome.systems/pipeline/internal/config"
	"opendome.systems/pipeline/internal/db"
	"opendome.systems/pipeline/internal/scrape"
	"opendome.systems/pipeline/pkg/ytdlp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting scraper")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	year := time.Now().Year()
	if len(os.Args) > 1 {
		y, err := strconv.Atoi(os.Args[1])
		if err != nil {
			slog.Error("invalid session year argument", "arg", os.Args[1])
			os.Exit(1)
		}
		year = y
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

	scraper := scrape.New(dbc.Videos(), ytdlp.New(), slog.Default())
	results := scraper.Run(ctx, year)

	slog.Info("scrape finished",
		"session_year", year,
		"new", results.New,
		"existing", results.Existing,
		"errors", results.Errors,
	)
	if results.Errors > 0 && results.New == 0 && results.Existing == 0 {
		os.Exit(1)
	}
}
