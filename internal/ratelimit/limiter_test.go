package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type failingStore struct{ err error }

func (s failingStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, s.err
}

func (s failingStore) SlidingWindowHit(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, s.err
}

type windowFails struct{ *MemoryStore }

func (windowFails) SlidingWindowHit(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("zset down")
}

func TestLimiter_SlidingWindow(t *testing.T) {
	clock := newClock()
	l := New(NewMemoryStore(clock.Now), Config{}, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := l.Check(ctx, "1.2.3.4")
		require.True(t, d.Allowed, "request %d", i+1)
		require.Equal(t, int64(2-i), d.Remaining)
	}
	d := l.Check(ctx, "1.2.3.4")
	require.False(t, d.Allowed)
	require.Equal(t, "window", d.Reason)
	require.Equal(t, int64(0), d.Remaining)

	require.True(t, l.Check(ctx, "5.6.7.8").Allowed, "other callers are independent")

	clock.Advance(61 * time.Second)
	require.True(t, l.Check(ctx, "1.2.3.4").Allowed, "window slides")
}

func TestLimiter_DailyCapComesFirst(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore(clock.Now)
	l := New(store, Config{DailyLimit: 2, WindowLimit: 10}, WithClock(clock.Now))
	ctx := context.Background()

	require.True(t, l.Check(ctx, "a").Allowed)
	require.True(t, l.Check(ctx, "b").Allowed)
	d := l.Check(ctx, "c")
	require.False(t, d.Allowed)
	require.Equal(t, "daily", d.Reason)
	require.Equal(t, clock.Now().Add(time.Hour), d.Reset)

	n, err := store.SlidingWindowHit(ctx, WindowKey("c"), clock.Now(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "a request denied by the daily cap is not counted per caller")

	clock.Advance(25 * time.Hour)
	require.True(t, l.Check(ctx, "c").Allowed, "next day resets")
}

func TestLimiter_FailsOpen(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]CounterStore{
		"nil store":    nil,
		"store errors": failingStore{err: errors.New("connection refused")},
		"window fails": windowFails{NewMemoryStore(nil)},
	} {
		l := New(store, Config{DailyLimit: 1000, WindowLimit: 1})
		for i := 0; i < 5; i++ {
			d := l.Check(ctx, "x")
			require.True(t, d.Allowed, "%s: request %d", name, i)
			require.True(t, d.FailOpen, name)
		}
	}
}

func TestKeys(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("x", -5*3600))
	require.Equal(t, "daily_global:2026-03-02", DailyKey(at))
	require.Equal(t, "rate_limit:1.2.3.4", WindowKey("1.2.3.4"))
}

func TestMemoryStore_CounterExpires(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	n, err := s.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, _ = s.IncrWithExpiry(ctx, "k", time.Minute)
	require.Equal(t, int64(2), n)

	clock.Advance(time.Minute)
	n, _ = s.IncrWithExpiry(ctx, "k", time.Minute)
	require.Equal(t, int64(1), n)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore(nil).IncrWithExpiry(ctx, "k", time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_IncrSetsExpiryOnce(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	n, err := s.IncrWithExpiry(ctx, "daily_global:2026-03-01", 25*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Equal(t, 25*time.Hour, mr.TTL("daily_global:2026-03-01"))

	mr.FastForward(time.Hour)
	n, err = s.IncrWithExpiry(ctx, "daily_global:2026-03-01", 25*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Equal(t, 24*time.Hour, mr.TTL("daily_global:2026-03-01"))
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		n, err := s.SlidingWindowHit(ctx, "rate_limit:ip", now, time.Minute)
		require.NoError(t, err)
		require.Equal(t, int64(i), n, "same-millisecond hits are distinct")
	}
	require.Equal(t, time.Minute, mr.TTL("rate_limit:ip"))

	n, err := s.SlidingWindowHit(ctx, "rate_limit:ip", now.Add(31*time.Second), time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	n, err = s.SlidingWindowHit(ctx, "rate_limit:ip", now.Add(90*time.Second), time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n, "hits older than the window are dropped")
}

func TestLimiter_WithRedisFailsOpenOnServerErrors(t *testing.T) {
	s, mr := newRedisStore(t)
	l := New(s, Config{WindowLimit: 1})
	ctx := context.Background()

	require.True(t, l.Check(ctx, "x").Allowed)
	require.False(t, l.Check(ctx, "x").Allowed)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	d := l.Check(ctx, "x")
	require.True(t, d.Allowed)
	require.True(t, d.FailOpen)
}
