// Package worker drives one worker process's lifecycle over the shared queue:
// claim an item, hand it to the stage processor, commit the result, repeat.
// Failures are resolved per item and never abort the loop; only context
// cancellation stops a continuous run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"opendome.systems/pipeline/internal/queue"
)

// ErrSkipItem signals that a processor declined an item by policy rather than
// failing it. The loop releases the claim and marks the item skipped. Wrap it
// with the concrete reason: fmt.Errorf("video too long: %dh: %w", h, ErrSkipItem).
var ErrSkipItem = errors.New("worker: item skipped by policy")

// Processor performs one stage's unit of work on a claimed video. It must
// honor ctx (including any deadline), return a failure rather than hang, and
// tolerate re-invocation on the same video: a reclaimed item may be retried by
// a different worker after a previous attempt partially ran.
type Processor interface {
	Process(ctx context.Context, video *queue.Video) (queue.Payload, error)
}

// Options configures a run.
type Options struct {
	BatchSize  int
	Continuous bool
	Delay      time.Duration
}

// Tally aggregates per-run outcomes for the shutdown report.
type Tally struct {
	Processed int
	Failed    int
	Skipped   int
}

// Runner binds a stage processor to the claim coordinator for one worker identity.
type Runner struct {
	coord     *queue.Coordinator
	processor Processor
	stage     queue.Stage
	workerID  string
}

// NewRunner constructs a Runner.
func NewRunner(coord *queue.Coordinator, processor Processor, stage queue.Stage, workerID string) *Runner {
	return &Runner{coord: coord, processor: processor, stage: stage, workerID: workerID}
}

// Run claims and processes videos until the batch is exhausted
// (non-continuous) or ctx is cancelled. The shutdown check happens between
// items only; an in-flight processor call is left to finish or to hit its own
// timeout.
func (r *Runner) Run(ctx context.Context, opts Options) (Tally, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}

	var tally Tally
	for {
		claimedAny := false
		var claimErr error
		for i := 0; i < opts.BatchSize; i++ {
			if ctx.Err() != nil {
				r.report(tally)
				return tally, ctx.Err()
			}

			video, err := r.coord.Claim(ctx, r.stage, r.workerID)
			if err != nil {
				slog.Error("claim failed", "worker", r.workerID, "stage", r.stage, "error", err)
				claimErr = err
				break
			}
			if video == nil {
				slog.Info("no work available", "worker", r.workerID, "stage", r.stage)
				break
			}
			claimedAny = true

			switch outcome := r.processOne(ctx, video); outcome {
			case outcomeProcessed:
				tally.Processed++
			case outcomeSkipped:
				tally.Skipped++
			default:
				tally.Failed++
			}

			if opts.Delay > 0 && i < opts.BatchSize-1 {
				if !sleepCtx(ctx, opts.Delay) {
					r.report(tally)
					return tally, ctx.Err()
				}
			}
		}

		if !opts.Continuous {
			// A one-shot run should fail loudly on a store outage instead of
			// exiting clean with a partial batch.
			if claimErr != nil {
				r.report(tally)
				return tally, claimErr
			}
			break
		}
		if !claimedAny {
			slog.Info("waiting before next batch", "worker", r.workerID, "stage", r.stage, "delay", opts.Delay)
		}
		if !sleepCtx(ctx, maxDelay(opts.Delay, time.Second)) {
			r.report(tally)
			return tally, ctx.Err()
		}
	}

	r.report(tally)
	return tally, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

// processOne runs the stage processor on a claimed video and commits the
// result. Every exit path, including a panic inside the processor, clears the
// claim through a guarded status write.
func (r *Runner) processOne(ctx context.Context, video *queue.Video) (result outcome) {
	started := time.Now()
	slog.Info("processing video",
		"worker", r.workerID,
		"stage", r.stage,
		"video_id", video.VideoID,
		"title", video.DisplayTitle())

	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprintf("panic during %s: %v", r.stage, rec)
			slog.Error("processor panicked", "worker", r.workerID, "video_id", video.VideoID, "panic", rec)
			r.commitFailure(ctx, video.VideoID, reason)
			result = outcomeFailed
		}
	}()

	payload, err := r.processor.Process(ctx, video)
	elapsed := time.Since(started).Round(time.Second)

	if errors.Is(err, ErrSkipItem) {
		// A post-claim policy decision: release the claim, then mark skipped.
		// Both writes are guarded, so a concurrent claimer in the gap just
		// causes the skip to affect zero rows.
		if relErr := r.coord.Release(ctx, r.stage, video.VideoID); relErr != nil {
			slog.Warn("release before skip lost", "worker", r.workerID, "video_id", video.VideoID, "error", relErr)
			return outcomeFailed
		}
		if skipErr := r.coord.Skip(ctx, r.stage, video.VideoID, err.Error()); skipErr != nil {
			slog.Warn("skip update lost", "worker", r.workerID, "video_id", video.VideoID, "error", skipErr)
		}
		slog.Info("video skipped", "worker", r.workerID, "video_id", video.VideoID, "reason", err.Error(), "elapsed", elapsed)
		return outcomeSkipped
	}
	if err != nil {
		slog.Error("stage failed",
			"worker", r.workerID,
			"stage", r.stage,
			"video_id", video.VideoID,
			"elapsed", elapsed,
			"error", err)
		r.commitFailure(ctx, video.VideoID, err.Error())
		return outcomeFailed
	}

	if err := r.coord.CompleteStage(ctx, r.stage, video.VideoID, payload); err != nil {
		// ErrClaimLost means the claim went stale and someone else owns the
		// item now; the guard already protected their payload from us.
		slog.Error("commit failed", "worker", r.workerID, "video_id", video.VideoID, "error", err)
		return outcomeFailed
	}

	slog.Info("video completed",
		"worker", r.workerID,
		"stage", r.stage,
		"video_id", video.VideoID,
		"elapsed", elapsed,
		"payload_chars", humanize.Comma(int64(payloadSize(r.stage, payload))))
	return outcomeProcessed
}

func (r *Runner) commitFailure(ctx context.Context, videoID, reason string) {
	if err := r.coord.FailStage(ctx, r.stage, videoID, reason); err != nil {
		// Worst case the claim stays put until the stale sweep frees it;
		// never clear ownership through an unguarded write.
		slog.Error("failed to record failure", "worker", r.workerID, "video_id", videoID, "error", err)
	}
}

func (r *Runner) report(t Tally) {
	slog.Info("worker run finished",
		"worker", r.workerID,
		"stage", r.stage,
		"processed", t.Processed,
		"failed", t.Failed,
		"skipped", t.Skipped)
}

func payloadSize(stage queue.Stage, p queue.Payload) int {
	if stage == queue.StageSummarize {
		return len(p.Summary)
	}
	return len(p.Transcript)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func maxDelay(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
