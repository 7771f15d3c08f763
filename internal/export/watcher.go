package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"opendome.systems/pipeline/internal/queue"
)

// watchState is persisted between runs so a restart does not re-export
// unchanged data.
type watchState struct {
	LastExportedCount int       `json:"last_exported_count"`
	LastExportTime    time.Time `json:"last_export_time"`
}

// Watcher re-exports site data whenever enough new summaries accumulate.
type Watcher struct {
	exporter  *Exporter
	store     VideoLister
	stateFile string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

func NewWatcher(exporter *Exporter, store VideoLister, stateFile string, batchSize int, interval time.Duration, logger *slog.Logger) *Watcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watcher{
		exporter:  exporter,
		store:     store,
		stateFile: stateFile,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}
}

// Run checks the summarized count on each tick and exports when at least
// batchSize new summaries exist since the last export. Check failures are
// logged and retried on the next tick. Returns when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("export watcher started",
		"batch_size", w.batchSize,
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.checkOnce(ctx); err != nil {
			w.logger.Error("export check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) checkOnce(ctx context.Context) error {
	counts, err := w.store.CountsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counts by status: %w", err)
	}
	current := counts[queue.StatusSummarized]

	state, err := w.loadState()
	if err != nil {
		return err
	}

	if current < state.LastExportedCount {
		// A requeue pulled summarized videos back into the pipeline. Reset
		// the high-water mark so the watcher re-arms once they come through
		// again instead of waiting out a stale threshold.
		w.logger.Info("summarized count dropped, resetting export state",
			"summarized", current,
			"last_exported", state.LastExportedCount,
		)
		state.LastExportedCount = current
		if err := w.saveState(state); err != nil {
			return err
		}
	}

	pending := current - state.LastExportedCount
	if pending < w.batchSize {
		w.logger.Debug("export threshold not met",
			"summarized", current,
			"new", pending,
			"needed", w.batchSize,
		)
		return nil
	}

	w.logger.Info("exporting", "summarized", current, "new", pending)
	if _, err := w.exporter.Export(ctx); err != nil {
		return err
	}
	return w.saveState(watchState{LastExportedCount: current, LastExportTime: time.Now().UTC()})
}

func (w *Watcher) loadState() (watchState, error) {
	data, err := os.ReadFile(w.stateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return watchState{}, nil
	}
	if err != nil {
		return watchState{}, fmt.Errorf("read export state: %w", err)
	}
	var state watchState
	if err := json.Unmarshal(data, &state); err != nil {
		return watchState{}, fmt.Errorf("parse export state: %w", err)
	}
	return state, nil
}

func (w *Watcher) saveState(state watchState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export state: %w", err)
	}
	if err := os.WriteFile(w.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("write export state: %w", err)
	}
	return nil
}
