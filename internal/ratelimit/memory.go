package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps counters in process. Expiry is evaluated lazily
// against the injected clock.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*memCounter
	windows  map[string]*memWindow
}

type memCounter struct {
	n       int64
	expires time.Time
}

type memWindow struct {
	hits    []time.Time
	expires time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:      now,
		counters: map[string]*memCounter{},
		windows:  map[string]*memWindow{},
	}
}

func (s *MemoryStore) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &memCounter{expires: now.Add(ttl)}
		s.counters[key] = c
	}
	c.n++
	return c.n, nil
}

func (s *MemoryStore) SlidingWindowHit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !s.now().Before(w.expires) {
		w = &memWindow{}
		s.windows[key] = w
	}
	start := now.Add(-window)
	// Hits at exactly start are dropped, matching ZREMRANGEBYSCORE 0 start.
	i := sort.Search(len(w.hits), func(i int) bool { return w.hits[i].After(start) })
	w.hits = append(w.hits[:0], w.hits[i:]...)
	w.hits = append(w.hits, now)
	sort.Slice(w.hits, func(i, j int) bool { return w.hits[i].Before(w.hits[j]) })
	w.expires = s.now().Add(window)
	return int64(len(w.hits)), nil
}
