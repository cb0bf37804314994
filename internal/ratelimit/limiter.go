// Package ratelimit gates chat requests with a global daily cap and a
// per-caller sliding window. Every store failure lets the request through.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CounterStore holds the counters. Implementations must be safe for
// concurrent use.
type CounterStore interface {
	// IncrWithExpiry increments key and sets ttl when the key is new.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SlidingWindowHit drops hits older than now-window, records one at now
	// and returns the number of hits left in the window.
	SlidingWindowHit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
}

type Config struct {
	DailyLimit  int64
	DailyTTL    time.Duration
	WindowLimit int64
	Window      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DailyLimit:  100,
		DailyTTL:    24*time.Hour + time.Hour,
		WindowLimit: 3,
		Window:      time.Minute,
	}
}

type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
	// Reason is "daily", "window", or empty when allowed.
	Reason string
	// FailOpen is set when the store could not be consulted.
	FailOpen bool
}

type Limiter struct {
	store  CounterStore
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }
func WithLogger(lg *zap.Logger) Option      { return func(l *Limiter) { l.logger = lg } }

// New builds a limiter. A nil store disables limiting.
func New(store CounterStore, cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = def.DailyLimit
	}
	if cfg.DailyTTL <= 0 {
		cfg.DailyTTL = def.DailyTTL
	}
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = def.WindowLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	return l
}

func DailyKey(t time.Time) string {
	return "daily_global:" + t.UTC().Format("2006-01-02")
}

func WindowKey(callerID string) string {
	return "rate_limit:" + callerID
}

// Check counts one request for callerID. The daily cap is checked first
// and a request it rejects is not counted against the caller's window.
func (l *Limiter) Check(ctx context.Context, callerID string) Decision {
	if callerID == "" {
		callerID = "anonymous"
	}
	if l.store == nil {
		return l.open()
	}
	now := l.now()

	daily, err := l.store.IncrWithExpiry(ctx, DailyKey(now), l.cfg.DailyTTL)
	if err != nil {
		l.logger.Warn("daily limit check failed", zap.Error(err))
		return l.open()
	}
	if daily > l.cfg.DailyLimit {
		l.logger.Info("daily limit reached", zap.Int64("count", daily), zap.Int64("limit", l.cfg.DailyLimit))
		return Decision{Limit: l.cfg.DailyLimit, Reset: now.Add(time.Hour), Reason: "daily"}
	}

	n, err := l.store.SlidingWindowHit(ctx, WindowKey(callerID), now, l.cfg.Window)
	if err != nil {
		l.logger.Warn("rate limit check failed", zap.String("caller", callerID), zap.Error(err))
		return l.open()
	}
	d := Decision{
		Allowed:   n <= l.cfg.WindowLimit,
		Limit:     l.cfg.WindowLimit,
		Remaining: max(0, l.cfg.WindowLimit-n),
		Reset:     now.Add(l.cfg.Window),
	}
	if !d.Allowed {
		d.Reason = "window"
		l.logger.Info("rate limited", zap.String("caller", callerID), zap.Int64("count", n))
	}
	return d
}

func (l *Limiter) open() Decision {
	return Decision{Allowed: true, Limit: l.cfg.WindowLimit, Remaining: l.cfg.WindowLimit, FailOpen: true}
}

func (d Decision) String() string {
	if d.Allowed {
		return fmt.Sprintf("allowed (%d/%d remaining)", d.Remaining, d.Limit)
	}
	return fmt.Sprintf("denied by %s limit %d", d.Reason, d.Limit)
}
