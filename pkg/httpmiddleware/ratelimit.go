package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window.
	Max    int
	Window time.Duration
	// KeyFunc extracts the limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
	// Limiter defaults to an in-process sliding window.
	Limiter Limiter
}

// RateLimit rejects requests over the configured rate with 429. Limiter
// errors let the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryLimiter(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := math.Ceil(max(time.Until(d.ResetAt), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(retry)))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MemoryLimiter is a sliding window limiter local to the process. The
// previous window's count is weighted by its overlap with the sliding window.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// NewMemoryLimiter returns a MemoryLimiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: limit, window: window, windows: make(map[string]*slidingWindow)}
}

// Allow records a request for key if it fits in the window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.windows[key]
	if !ok {
		sw = &slidingWindow{currStart: now.Truncate(l.window)}
		l.windows[key] = sw
	}
	if elapsed := now.Sub(sw.currStart); elapsed >= l.window {
		sw.prev = sw.curr
		if elapsed >= 2*l.window {
			sw.prev = 0
		}
		sw.curr = 0
		sw.currStart = now.Truncate(l.window)
	}

	overlap := 1 - now.Sub(sw.currStart).Seconds()/l.window.Seconds()
	count := sw.prev*max(overlap, 0) + sw.curr
	reset := sw.currStart.Add(l.window)

	if count >= float64(l.max) {
		return Decision{ResetAt: reset}, nil
	}
	sw.curr++
	return Decision{
		Allowed:   true,
		Remaining: max(int(float64(l.max)-count-1), 0),
		ResetAt:   reset,
	}, nil
}

// Run evicts idle keys every two windows until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, sw := range l.windows {
				if now.Sub(sw.currStart) >= 2*l.window {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RedisLimiter is a fixed window limiter shared by every API instance.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewRedisLimiter returns a RedisLimiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: limit, window: window}
}

// Allow increments the key's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	redisKey := "ratelimit:" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, errors.Wrap(err, "redis incr")
	}

	n := int(incr.Val())
	return Decision{
		Allowed:   n <= l.max,
		Remaining: max(l.max-n, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}
