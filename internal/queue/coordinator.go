package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"
)

const (
	// DefaultStaleThreshold is how long a claim is honored before any worker
	// may sweep it back to the stage's available status.
	DefaultStaleThreshold = 2 * time.Hour

	// DefaultClaimRetries bounds the select-then-claim loop under contention.
	DefaultClaimRetries = 5

	// maxErrorMessageLen keeps stored failure reasons readable.
	maxErrorMessageLen = 500
)

// Coordinator implements claiming, reclaiming, and stage commits on top of a
// Store. It holds no state of its own beyond configuration; any number of
// worker processes may run their own Coordinator against the same table.
type Coordinator struct {
	store          Store
	staleThreshold time.Duration
	claimRetries   int
	maxDuration    int // seconds; 0 disables the claim-time skip policy
	now            func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStaleThreshold overrides the claim age after which a claim is reclaimable.
func WithStaleThreshold(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.staleThreshold = d
		}
	}
}

// WithClaimRetries overrides the bounded retry count for claim races.
func WithClaimRetries(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.claimRetries = n
		}
	}
}

// WithMaxDuration enables the skip policy: candidates whose known duration
// exceeds max seconds are marked skipped at claim time instead of claimed.
func WithMaxDuration(seconds int) Option {
	return func(c *Coordinator) {
		if seconds > 0 {
			c.maxDuration = seconds
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires a Coordinator over the given store.
func NewCoordinator(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		staleThreshold: DefaultStaleThreshold,
		claimRetries:   DefaultClaimRetries,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim atomically takes exclusive responsibility for the best available video
// in the stage. It sweeps stale claims first so crashed workers' items are
// immediately eligible, then loops: select one candidate, try a guarded
// available→claimed update, retry on a lost race. Returns (nil, nil) when no
// work is available; a race loss within the retry bound is not an error.
func (c *Coordinator) Claim(ctx context.Context, stage Stage, worker string) (*Video, error) {
	if worker == "" {
		return nil, fmt.Errorf("queue: worker identity is required")
	}

	if _, err := c.ReclaimStale(ctx, stage); err != nil {
		return nil, fmt.Errorf("reclaim before claim: %w", err)
	}

	available := stage.Available()
	claimed := stage.Claimed()

	for attempt := 0; attempt < c.claimRetries; attempt++ {
		candidates, err := c.store.FindCandidates(ctx, available, 1)
		if err != nil {
			return nil, fmt.Errorf("find candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		candidate := candidates[0]

		if c.maxDuration > 0 && candidate.DurationSeconds > c.maxDuration {
			reason := fmt.Sprintf("video too long: %ds exceeds limit of %ds", candidate.DurationSeconds, c.maxDuration)
			if err := c.Skip(ctx, stage, candidate.VideoID, reason); err != nil {
				slog.Warn("skip policy update lost", "video_id", candidate.VideoID, "error", err)
			}
			continue
		}

		claimedAt := c.now().UTC()
		empty := ""
		affected, err := c.store.ConditionalUpdate(ctx, candidate.VideoID, available, Fields{
			Status:       claimed,
			SetClaim:     true,
			ClaimedBy:    worker,
			ClaimedAt:    claimedAt,
			ErrorMessage: &empty,
		})
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", candidate.VideoID, err)
		}
		if affected == 0 {
			// Another worker won the race; pick a fresh candidate.
			continue
		}

		candidate.Status = claimed
		candidate.ClaimedBy = worker
		candidate.ClaimedAt = &claimedAt
		candidate.ErrorMessage = ""
		return &candidate, nil
	}

	return nil, nil
}

// ReclaimStale frees claims in the stage's claimed status whose claimed_at is
// older than the configured threshold, returning them to the stage's available
// status with claim fields cleared. Reclaiming an already-available video is a
// no-op through the status guard, so concurrent sweeps are safe.
func (c *Coordinator) ReclaimStale(ctx context.Context, stage Stage) (int64, error) {
	cutoff := c.now().UTC().Add(-c.staleThreshold)
	count, err := c.store.BulkConditionalUpdate(ctx, stage.Claimed(), cutoff, Fields{
		Status:     stage.Available(),
		ClearClaim: true,
	})
	if err != nil {
		return 0, fmt.Errorf("reclaim stale %s claims: %w", stage, err)
	}
	if count > 0 {
		slog.Info("reclaimed stale claims", "stage", stage, "count", count, "older_than", c.staleThreshold)
	}
	return count, nil
}

// Payload carries a stage processor's outputs into the commit.
type Payload struct {
	Transcript      string
	Summary         string
	DurationSeconds int
}

// CompleteStage commits a successful stage run: claimed→done with the stage's
// payload written once and claim fields cleared. Returns ErrClaimLost when the
// video is no longer claimed (reclaimed or already committed elsewhere), in
// which case nothing is overwritten.
func (c *Coordinator) CompleteStage(ctx context.Context, stage Stage, videoID string, payload Payload) error {
	set := Fields{
		Status:       stage.Done(),
		ClearClaim:   true,
		ErrorMessage: ptr(""),
	}
	switch stage {
	case StageSummarize:
		set.Summary = &payload.Summary
	default:
		set.Transcript = &payload.Transcript
		if payload.DurationSeconds > 0 {
			set.DurationSeconds = &payload.DurationSeconds
		}
	}
	return c.guardedWrite(ctx, videoID, stage.Claimed(), set)
}

// FailStage commits a stage failure: claimed→error with a truncated reason and
// claim fields cleared.
func (c *Coordinator) FailStage(ctx context.Context, stage Stage, videoID string, reason string) error {
	if reason == "" {
		reason = "unknown failure"
	}
	return c.guardedWrite(ctx, videoID, stage.Claimed(), Fields{
		Status:       StatusError,
		ClearClaim:   true,
		ErrorMessage: ptr(truncate(reason, maxErrorMessageLen)),
	})
}

// Release returns a claimed video to the stage's available status without
// recording a result. Used before a post-claim policy skip.
func (c *Coordinator) Release(ctx context.Context, stage Stage, videoID string) error {
	return c.guardedWrite(ctx, videoID, stage.Claimed(), Fields{
		Status:     stage.Available(),
		ClearClaim: true,
	})
}

// Skip marks an available video as permanently excluded by policy. Skipped is
// terminal and distinct from error so reporting can tell "will not be
// attempted" from "failed".
func (c *Coordinator) Skip(ctx context.Context, stage Stage, videoID string, reason string) error {
	return c.guardedWrite(ctx, videoID, stage.Available(), Fields{
		Status:       StatusSkipped,
		ClearClaim:   true,
		ErrorMessage: ptr(truncate(reason, maxErrorMessageLen)),
	})
}

// Requeue moves an errored video back to the given stage's available status,
// clearing the stored failure. The re-entry stage is always explicit; the
// coordinator never guesses which stage failed.
func (c *Coordinator) Requeue(ctx context.Context, videoID string, stage Stage) error {
	return c.guardedWrite(ctx, videoID, StatusError, Fields{
		Status:       stage.Available(),
		ClearClaim:   true,
		ErrorMessage: ptr(""),
	})
}

// RequeueErrors moves every errored video back to the given stage's available
// status. Returns the number of videos requeued.
func (c *Coordinator) RequeueErrors(ctx context.Context, stage Stage) (int64, error) {
	if !CanTransition(StatusError, stage.Available()) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, StatusError, stage.Available())
	}
	count, err := c.store.BulkConditionalUpdate(ctx, StatusError, c.now().UTC(), Fields{
		Status:       stage.Available(),
		ClearClaim:   true,
		ErrorMessage: ptr(""),
	})
	if err != nil {
		return 0, fmt.Errorf("requeue errored videos: %w", err)
	}
	return count, nil
}

// Counts reports how many videos sit in each status.
func (c *Coordinator) Counts(ctx context.Context) (map[Status]int, error) {
	return c.store.CountsByStatus(ctx)
}

func (c *Coordinator) guardedWrite(ctx context.Context, videoID string, expected Status, set Fields) error {
	if !CanTransition(expected, set.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, set.Status)
	}
	affected, err := c.store.ConditionalUpdate(ctx, videoID, expected, set)
	if err != nil {
		return fmt.Errorf("update %s (%s -> %s): %w", videoID, expected, set.Status, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s (%s -> %s): %w", videoID, expected, set.Status, ErrClaimLost)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune. Postgres
// rejects invalid UTF-8 text, so a mid-rune cut would make the error write
// itself fail.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func ptr(s string) *string { return &s }
