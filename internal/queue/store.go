package queue

import (
	"context"
	"errors"
	"time"
)

// ErrIllegalTransition is returned when a caller asks for a status edge that
// is not in the transition table. It indicates a bug in the caller, not a race.
var ErrIllegalTransition = errors.New("queue: illegal status transition")

// ErrClaimLost is returned when a guarded write affected zero rows because the
// video's status no longer matched: another worker committed, or the claim was
// reclaimed while this worker was busy. Payloads are never overwritten in that
// situation; the late writer just loses.
var ErrClaimLost = errors.New("queue: claim lost")

// Fields is the settable column subset for a guarded update. Nil pointers
// leave the column untouched. ClaimedBy and ClaimedAt travel together:
// SetClaim writes both, ClearClaim nulls both, and the store must never
// write one without the other.
type Fields struct {
	Status          Status
	SetClaim        bool
	ClaimedBy       string
	ClaimedAt       time.Time
	ClearClaim      bool
	Transcript      *string
	Summary         *string
	DurationSeconds *int
	ErrorMessage    *string
}

// Store is the record-store boundary. Every mutation of the
// status/claimed_by/claimed_at triple goes through a single atomic write
// guarded by the expected prior status; that guard is the only
// synchronization primitive in the system.
type Store interface {
	// FindCandidates returns up to limit videos in the given status, best
	// first: session_year descending, then video_date descending, ties broken
	// by video_id ascending.
	FindCandidates(ctx context.Context, status Status, limit int) ([]Video, error)

	// ConditionalUpdate applies set to the video only if its status still
	// equals expected at the moment of the write. Returns the number of rows
	// affected (0 or 1).
	ConditionalUpdate(ctx context.Context, videoID string, expected Status, set Fields) (int64, error)

	// BulkConditionalUpdate applies set to every video in the given status
	// whose claimed_at is older than claimedBefore. Rows with no claimed_at
	// are treated as infinitely old and match; claimed rows always carry a
	// claimed_at, so stale sweeps are unaffected. Returns the affected count.
	BulkConditionalUpdate(ctx context.Context, in Status, claimedBefore time.Time, set Fields) (int64, error)

	// CountsByStatus reports how many videos sit in each status.
	CountsByStatus(ctx context.Context) (map[Status]int, error)
}
