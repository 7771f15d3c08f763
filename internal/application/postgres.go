package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"opendome.systems/pipeline/internal/config"
)

var (
	dbOpenBackoffBase  = 1 * time.Second
	dbOpenBackoffScale = 1.618
)

// OpenDBPoolWithRetry initializes a PostgreSQL connection pool, retrying both
// the open and the first ping with golden-ratio backoff. Workers start before
// the database in most deployments, so patience here is mandatory.
func OpenDBPoolWithRetry(ctx context.Context, conf config.Config) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	retries := conf.DatabaseRetries
	if retries <= 0 {
		retries = 10
	}

	slog.Info("connecting to database", "host", cfg.ConnConfig.Host)

	pool, err := retryWithBackoff(retries, func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retries, err)
	}

	_, err = retryWithBackoff(retries, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()
		return struct{}{}, pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", retries, err)
	}

	slog.Info("database connection established", "host", cfg.ConnConfig.Host)
	return pool, nil
}

func retryWithBackoff[T any](attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		backoff := time.Duration(float64(dbOpenBackoffBase) * math.Pow(dbOpenBackoffScale, float64(i)))
		slog.Warn("database not ready, retrying", "backoff", backoff, "error", err)
		time.Sleep(backoff)
	}
	return zero, lastErr
}
