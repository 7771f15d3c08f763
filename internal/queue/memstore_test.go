package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same conditional-write semantics as
// the Postgres implementation: every mutation checks the expected status under
// one lock, so a lost race affects zero rows.
type memStore struct {
	mu     sync.Mutex
	videos map[string]*Video
}

func newMemStore(videos ...Video) *memStore {
	s := &memStore{videos: make(map[string]*Video)}
	for i := range videos {
		v := videos[i]
		if v.Status == "" {
			v.Status = StatusPending
		}
		s.videos[v.VideoID] = &v
	}
	return s
}

func (s *memStore) FindCandidates(_ context.Context, status Status, limit int) ([]Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Video
	for _, v := range s.videos {
		if v.Status == status {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SessionYear != b.SessionYear {
			return a.SessionYear > b.SessionYear
		}
		if a.VideoDate != b.VideoDate {
			// Empty dates sort last, matching NULLS LAST.
			if a.VideoDate == "" || b.VideoDate == "" {
				return b.VideoDate == ""
			}
			return a.VideoDate > b.VideoDate
		}
		return a.VideoID < b.VideoID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ConditionalUpdate(_ context.Context, videoID string, expected Status, set Fields) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[videoID]
	if !ok || v.Status != expected {
		return 0, nil
	}
	apply(v, set)
	return 1, nil
}

func (s *memStore) BulkConditionalUpdate(_ context.Context, in Status, claimedBefore time.Time, set Fields) (int64, error) {
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
		apply(v, set)
		count++
	}
	return count, nil
}

func (s *memStore) CountsByStatus(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int)
	for _, v := range s.videos {
		counts[v.Status]++
	}
	return counts, nil
}

func apply(v *Video, set Fields) {
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
	v.UpdatedAt = time.Now()
}

func (s *memStore) get(videoID string) Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.videos[videoID]
}

// fakeClock lets tests age claims without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
