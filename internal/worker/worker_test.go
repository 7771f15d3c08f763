package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"opendome.systems/pipeline/internal/queue"
)

// fakeStore is a minimal in-memory queue.Store with real conditional-write
// semantics, enough to drive the runner end to end.
type fakeStore struct {
	mu      sync.Mutex
	videos  map[string]*queue.Video
	findErr error
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{videos: make(map[string]*queue.Video)}
	for _, id := range ids {
		s.videos[id] = &queue.Video{VideoID: id, Status: queue.StatusPending}
	}
	return s
}

func (s *fakeStore) FindCandidates(_ context.Context, status queue.Status, limit int) ([]queue.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []queue.Video
	for _, v := range s.videos {
		if v.Status == status {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ConditionalUpdate(_ context.Context, videoID string, expected queue.Status, set queue.Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok || v.Status != expected {
		return 0, nil
	}
	s.apply(v, set)
	return 1, nil
}

func (s *fakeStore) BulkConditionalUpdate(_ context.Context, in queue.Status, claimedBefore time.Time, set queue.Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, v := range s.videos {
		if v.Status != in {
			continue
		}
		if v.ClaimedAt != nil && !v.ClaimedAt.Before(claimedBefore) {
			continue
		}
		s.apply(v, set)
		count++
	}
	return count, nil
}

func (s *fakeStore) CountsByStatus(context.Context) (map[queue.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[queue.Status]int)
	for _, v := range s.videos {
		counts[v.Status]++
	}
	return counts, nil
}

func (s *fakeStore) apply(v *queue.Video, set queue.Fields) {
	v.Status = set.Status
	if set.SetClaim {
		v.ClaimedBy = set.ClaimedBy
		at := set.ClaimedAt
		v.ClaimedAt = &at
	}
	if set.ClearClaim {
		v.ClaimedBy = ""
		v.ClaimedAt = nil
	}
	if set.Transcript != nil {
		v.Transcript = *set.Transcript
	}
	if set.Summary != nil {
		v.Summary = *set.Summary
	}
	if set.DurationSeconds != nil {
		v.DurationSeconds = *set.DurationSeconds
	}
	if set.ErrorMessage != nil {
		v.ErrorMessage = *set.ErrorMessage
	}
}

func (s *fakeStore) get(videoID string) queue.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.videos[videoID]
}

// processorFunc adapts a function to Processor.
type processorFunc func(ctx context.Context, video *queue.Video) (queue.Payload, error)

func (f processorFunc) Process(ctx context.Context, video *queue.Video) (queue.Payload, error) {
	return f(ctx, video)
}

func TestRunProcessesBatch(t *testing.T) {
	store := newFakeStore("v1", "v2", "v3")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, v *queue.Video) (queue.Payload, error) {
		return queue.Payload{Transcript: "transcript for " + v.VideoID}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 5})
	require.NoError(t, err)
	require.Equal(t, Tally{Processed: 3}, tally)

	for _, id := range []string{"v1", "v2", "v3"} {
		v := store.get(id)
		require.Equal(t, queue.StatusTranscribed, v.Status)
		require.Equal(t, "transcript for "+id, v.Transcript)
		require.Empty(t, v.ClaimedBy)
	}
}

func TestRunStopsAtBatchSize(t *testing.T) {
	store := newFakeStore("v1", "v2", "v3")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		return queue.Payload{Transcript: "t"}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 2, tally.Processed)

	counts, err := store.CountsByStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, counts[queue.StatusPending])
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	store := newFakeStore("v1", "v2")
	coord := queue.NewCoordinator(store)

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		cancel() // shutdown arrives while an item is in flight
		return queue.Payload{Transcript: "t"}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(ctx, Options{BatchSize: 10, Continuous: true})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, tally.Processed)

	// The in-flight item was committed; the rest stayed untouched.
	require.Equal(t, queue.StatusTranscribed, store.get("v1").Status)
	require.Equal(t, queue.StatusPending, store.get("v2").Status)
}

func TestRunCommitsFailures(t *testing.T) {
	store := newFakeStore("v1")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		return queue.Payload{}, fmt.Errorf("download audio: HTTP 403")
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, Tally{Failed: 1}, tally)

	v := store.get("v1")
	require.Equal(t, queue.StatusError, v.Status)
	require.Equal(t, "download audio: HTTP 403", v.ErrorMessage)
	require.Empty(t, v.ClaimedBy)
}

func TestRunContainsPanics(t *testing.T) {
	store := newFakeStore("v1", "v2")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, v *queue.Video) (queue.Payload, error) {
		if v.VideoID == "v1" {
			panic("nil pointer in parser")
		}
		return queue.Payload{Transcript: "t"}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 5})
	require.NoError(t, err)
	require.Equal(t, Tally{Processed: 1, Failed: 1}, tally)

	v := store.get("v1")
	require.Equal(t, queue.StatusError, v.Status)
	require.Contains(t, v.ErrorMessage, "panic during transcribe")
	require.Equal(t, queue.StatusTranscribed, store.get("v2").Status)
}

func TestRunSkipsByPolicy(t *testing.T) {
	store := newFakeStore("v1")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		return queue.Payload{}, fmt.Errorf("video too long: 5h exceeds 4h limit: %w", ErrSkipItem)
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 1})
	require.NoError(t, err)
	require.Equal(t, Tally{Skipped: 1}, tally)

	v := store.get("v1")
	require.Equal(t, queue.StatusSkipped, v.Status)
	require.Contains(t, v.ErrorMessage, "video too long")
	require.Empty(t, v.ClaimedBy)
}

func TestRunNoWorkReturnsImmediately(t *testing.T) {
	store := newFakeStore()
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		t.Fatal("processor should not run")
		return queue.Payload{}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 5})
	require.NoError(t, err)
	require.Equal(t, Tally{}, tally)
}

func TestRunReturnsClaimErrorWhenNotContinuous(t *testing.T) {
	store := newFakeStore("v1")
	store.findErr = errors.New("connection refused")
	coord := queue.NewCoordinator(store)
	runner := NewRunner(coord, processorFunc(func(_ context.Context, _ *queue.Video) (queue.Payload, error) {
		t.Fatal("processor should not run")
		return queue.Payload{}, nil
	}), queue.StageTranscribe, "test-worker")

	tally, err := runner.Run(context.Background(), Options{BatchSize: 5})
	require.ErrorIs(t, err, store.findErr)
	require.Equal(t, Tally{}, tally)
}

func TestErrSkipItemWrapping(t *testing.T) {
	err := fmt.Errorf("video too long: %w", ErrSkipItem)
	require.True(t, errors.Is(err, ErrSkipItem))
}
