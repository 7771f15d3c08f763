package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestClaimTakesBestCandidate(t *testing.T) {
	store := newMemStore(
		Video{VideoID: "old", SessionYear: 2025, VideoDate: "2025-03-01"},
		Video{VideoID: "new", SessionYear: 2026, VideoDate: "2026-01-10"},
	)
	coord := NewCoordinator(store)

	video, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, video)
	require.Equal(t, "new", video.VideoID)
	require.Equal(t, StatusProcessing, video.Status)
	require.Equal(t, "worker-a", video.ClaimedBy)
	require.NotNil(t, video.ClaimedAt)

	stored := store.get("new")
	require.Equal(t, StatusProcessing, stored.Status)
	require.Equal(t, "worker-a", stored.ClaimedBy)
}

func TestClaimReturnsNilWhenNoWork(t *testing.T) {
	coord := NewCoordinator(newMemStore())
	video, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)
	require.Nil(t, video)
}

func TestClaimRequiresWorkerIdentity(t *testing.T) {
	coord := NewCoordinator(newMemStore())
	_, err := coord.Claim(context.Background(), StageTranscribe, "")
	require.Error(t, err)
}

func TestClaimClearsPreviousError(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1", ErrorMessage: "download audio: 403"})
	coord := NewCoordinator(store)

	video, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, video)
	require.Empty(t, video.ErrorMessage)
	require.Empty(t, store.get("v1").ErrorMessage)
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	videos := make([]Video, 10)
	for i := range videos {
		videos[i] = Video{VideoID: string(rune('a' + i)), SessionYear: 2026}
	}
	store := newMemStore(videos...)
	coord := NewCoordinator(store)

	type claim struct {
		videoID string
		worker  string
		err     error
	}
	claims := make(chan claim, 100)

	var wg sync.WaitGroup
	for w := 0; w < 20; w++ {
		wg.Add(1)
		worker := "worker-" + string(rune('a'+w))
		go func() {
			defer wg.Done()
			for {
				video, err := coord.Claim(context.Background(), StageTranscribe, worker)
				if err != nil {
					claims <- claim{err: err}
					return
				}
				if video == nil {
					return
				}
				claims <- claim{videoID: video.VideoID, worker: worker}
			}
		}()
	}
	wg.Wait()
	close(claims)

	claimedBy := make(map[string]string)
	for c := range claims {
		require.NoError(t, c.err)
		prev, dup := claimedBy[c.videoID]
		require.False(t, dup, "video %s claimed by both %s and %s", c.videoID, prev, c.worker)
		claimedBy[c.videoID] = c.worker
	}
	require.Len(t, claimedBy, 10)
}

func TestClaimSkipsOverlongCandidate(t *testing.T) {
	store := newMemStore(
		Video{VideoID: "long", SessionYear: 2026, DurationSeconds: 18000},
		Video{VideoID: "short", SessionYear: 2025, DurationSeconds: 3600},
	)
	coord := NewCoordinator(store, WithMaxDuration(14400))

	video, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, video)
	require.Equal(t, "short", video.VideoID)

	skipped := store.get("long")
	require.Equal(t, StatusSkipped, skipped.Status)
	require.Contains(t, skipped.ErrorMessage, "video too long")
}

func TestReclaimStaleFreesOnlyOldClaims(t *testing.T) {
	clock := newFakeClock()
	stale := clock.Now().Add(-3 * time.Hour)
	fresh := clock.Now().Add(-10 * time.Minute)
	store := newMemStore(
		Video{VideoID: "stale", Status: StatusProcessing, ClaimedBy: "dead-worker", ClaimedAt: &stale},
		Video{VideoID: "fresh", Status: StatusProcessing, ClaimedBy: "live-worker", ClaimedAt: &fresh},
	)
	coord := NewCoordinator(store, withClock(clock.Now))

	count, err := coord.ReclaimStale(context.Background(), StageTranscribe)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	reclaimed := store.get("stale")
	require.Equal(t, StatusPending, reclaimed.Status)
	require.Empty(t, reclaimed.ClaimedBy)
	require.Nil(t, reclaimed.ClaimedAt)

	kept := store.get("fresh")
	require.Equal(t, StatusProcessing, kept.Status)
	require.Equal(t, "live-worker", kept.ClaimedBy)

	// A second sweep finds nothing.
	count, err = coord.ReclaimStale(context.Background(), StageTranscribe)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestClaimPicksUpCrashedWorkersItem(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store, withClock(clock.Now))

	video, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)
	require.NotNil(t, video)

	// worker-a never commits. Before the threshold nobody can touch it.
	video2, err := coord.Claim(context.Background(), StageTranscribe, "worker-b")
	require.NoError(t, err)
	require.Nil(t, video2)

	clock.Advance(DefaultStaleThreshold + time.Minute)

	video2, err = coord.Claim(context.Background(), StageTranscribe, "worker-b")
	require.NoError(t, err)
	require.NotNil(t, video2)
	require.Equal(t, "v1", video2.VideoID)
	require.Equal(t, "worker-b", video2.ClaimedBy)
}

func TestCompleteTranscribeStage(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)

	err = coord.CompleteStage(context.Background(), StageTranscribe, "v1", Payload{
		Transcript:      "the house will come to order",
		DurationSeconds: 5400,
	})
	require.NoError(t, err)

	v := store.get("v1")
	require.Equal(t, StatusTranscribed, v.Status)
	require.Equal(t, "the house will come to order", v.Transcript)
	require.Equal(t, 5400, v.DurationSeconds)
	require.Empty(t, v.ClaimedBy)
	require.Nil(t, v.ClaimedAt)
}

func TestCompleteSummarizeStage(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1", Status: StatusTranscribed, Transcript: "HB 1 passed"})
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), StageSummarize, "worker-a")
	require.NoError(t, err)

	err = coord.CompleteStage(context.Background(), StageSummarize, "v1", Payload{Summary: "## Overview"})
	require.NoError(t, err)

	v := store.get("v1")
	require.Equal(t, StatusSummarized, v.Status)
	require.Equal(t, "## Overview", v.Summary)
	require.Equal(t, "HB 1 passed", v.Transcript)
}

func TestLateCommitLosesAfterReclaim(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store, withClock(clock.Now))

	_, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)

	clock.Advance(DefaultStaleThreshold + time.Minute)

	// worker-b reclaims, re-claims, and commits first.
	_, err = coord.Claim(context.Background(), StageTranscribe, "worker-b")
	require.NoError(t, err)
	require.NoError(t, coord.CompleteStage(context.Background(), StageTranscribe, "v1", Payload{Transcript: "good transcript"}))

	// worker-a finally finishes; its commit must affect nothing.
	err = coord.CompleteStage(context.Background(), StageTranscribe, "v1", Payload{Transcript: "stale transcript"})
	require.ErrorIs(t, err, ErrClaimLost)
	require.Equal(t, "good transcript", store.get("v1").Transcript)
}

func TestFailStageRecordsTruncatedReason(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)

	reason := strings.Repeat("x", 600)
	require.NoError(t, coord.FailStage(context.Background(), StageTranscribe, "v1", reason))

	v := store.get("v1")
	require.Equal(t, StatusError, v.Status)
	require.Len(t, v.ErrorMessage, 500)
	require.Empty(t, v.ClaimedBy)
}

func TestFailStageTruncatesMultibyteReasonOnRuneBoundary(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)

	// 200 three-byte runes; a raw 500-byte cut would land mid-rune.
	reason := strings.Repeat("あ", 200)
	require.NoError(t, coord.FailStage(context.Background(), StageTranscribe, "v1", reason))

	v := store.get("v1")
	require.Equal(t, StatusError, v.Status)
	require.True(t, utf8.ValidString(v.ErrorMessage))
	require.LessOrEqual(t, len(v.ErrorMessage), 500)
	require.NotEmpty(t, v.ErrorMessage)
}

func TestReleaseThenSkip(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1"})
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), StageTranscribe, "worker-a")
	require.NoError(t, err)

	require.NoError(t, coord.Release(context.Background(), StageTranscribe, "v1"))
	require.Equal(t, StatusPending, store.get("v1").Status)

	require.NoError(t, coord.Skip(context.Background(), StageTranscribe, "v1", "video too long"))

	v := store.get("v1")
	require.Equal(t, StatusSkipped, v.Status)
	require.Contains(t, v.ErrorMessage, "video too long")
}

func TestRequeueSingleError(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1", Status: StatusError, ErrorMessage: "whisper crashed"})
	coord := NewCoordinator(store)

	require.NoError(t, coord.Requeue(context.Background(), "v1", StageTranscribe))

	v := store.get("v1")
	require.Equal(t, StatusPending, v.Status)
	require.Empty(t, v.ErrorMessage)
}

func TestRequeueKeepsTranscriptForSummarizeRetry(t *testing.T) {
	store := newMemStore(Video{
		VideoID:      "v1",
		Status:       StatusError,
		Transcript:   "HB 1 passed",
		ErrorMessage: "rate limited",
	})
	coord := NewCoordinator(store)

	require.NoError(t, coord.Requeue(context.Background(), "v1", StageSummarize))

	v := store.get("v1")
	require.Equal(t, StatusTranscribed, v.Status)
	require.Equal(t, "HB 1 passed", v.Transcript)
	require.Empty(t, v.ErrorMessage)
}

func TestRequeueNonErroredVideoIsLost(t *testing.T) {
	store := newMemStore(Video{VideoID: "v1", Status: StatusSummarized})
	coord := NewCoordinator(store)

	err := coord.Requeue(context.Background(), "v1", StageTranscribe)
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestRequeueErrorsSweepsAll(t *testing.T) {
	store := newMemStore(
		Video{VideoID: "v1", Status: StatusError, ErrorMessage: "403"},
		Video{VideoID: "v2", Status: StatusError, ErrorMessage: "timeout"},
		Video{VideoID: "v3", Status: StatusPending},
	)
	coord := NewCoordinator(store)

	count, err := coord.RequeueErrors(context.Background(), StageTranscribe)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	for _, id := range []string{"v1", "v2"} {
		v := store.get(id)
		require.Equal(t, StatusPending, v.Status)
		require.Empty(t, v.ErrorMessage)
	}
	require.Equal(t, StatusPending, store.get("v3").Status)
}

func TestCounts(t *testing.T) {
	store := newMemStore(
		Video{VideoID: "v1"},
		Video{VideoID: "v2", Status: StatusSummarized},
		Video{VideoID: "v3", Status: StatusSummarized},
	)
	coord := NewCoordinator(store)

	counts, err := coord.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, counts[StatusPending])
	require.Equal(t, 2, counts[StatusSummarized])
}
