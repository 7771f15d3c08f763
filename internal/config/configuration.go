package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Worker Configuration
	WorkerName       string `mapstructure:"WORKER_NAME"`
	BatchSize        int    `mapstructure:"BATCH_SIZE"`
	Continuous       bool   `mapstructure:"CONTINUOUS"`
	ItemDelaySeconds int    `mapstructure:"ITEM_DELAY_SECONDS"`

	// Claim Protocol
	StaleClaimHours    int `mapstructure:"STALE_CLAIM_HOURS"`
	ClaimRetries       int `mapstructure:"CLAIM_RETRIES"`
	MaxDurationSeconds int `mapstructure:"MAX_DURATION_SECONDS"`

	// Transcription
	WhisperCmd   string `mapstructure:"WHISPER_CMD"`
	WhisperModel string `mapstructure:"WHISPER_MODEL"`

	// Summarization
	OpenAIAPIKey     string `mapstructure:"OPENAI_API_KEY"`
	SummaryModel     string `mapstructure:"SUMMARY_MODEL"`
	SummaryMaxTokens int    `mapstructure:"SUMMARY_MAX_TOKENS"`

	// Site Export
	ExportDir             string `mapstructure:"EXPORT_DIR"`
	ExportBatchSize       int    `mapstructure:"EXPORT_BATCH_SIZE"`
	ExportIntervalSeconds int    `mapstructure:"EXPORT_INTERVAL_SECONDS"`
}

// ItemDelay returns the configured pause between items.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelaySeconds) * time.Second
}

// StaleClaimThreshold returns the claim age after which any worker may
// reclaim an in-progress video.
func (c Config) StaleClaimThreshold() time.Duration {
	return time.Duration(c.StaleClaimHours) * time.Hour
}

// ExportInterval returns the pause between export checks.
func (c Config) ExportInterval() time.Duration {
	return time.Duration(c.ExportIntervalSeconds) * time.Second
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("BATCH_SIZE", 1)
	viper.SetDefault("ITEM_DELAY_SECONDS", 30)
	viper.SetDefault("STALE_CLAIM_HOURS", 2)
	viper.SetDefault("CLAIM_RETRIES", 5)
	viper.SetDefault("MAX_DURATION_SECONDS", 14400)
	viper.SetDefault("WHISPER_CMD", "whisper")
	viper.SetDefault("WHISPER_MODEL", "base")
	viper.SetDefault("SUMMARY_MODEL", "gpt-4o-mini")
	viper.SetDefault("SUMMARY_MAX_TOKENS", 2000)
	viper.SetDefault("EXPORT_DIR", "web/data")
	viper.SetDefault("EXPORT_BATCH_SIZE", 10)
	viper.SetDefault("EXPORT_INTERVAL_SECONDS", 300)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"database_retries", cfg.DatabaseRetries,
		"batch_size", cfg.BatchSize,
		"continuous", cfg.Continuous,
		"stale_claim_hours", cfg.StaleClaimHours)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
