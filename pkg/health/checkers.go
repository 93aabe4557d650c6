package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// RedisCheck pings a go-redis client.
func RedisCheck(c redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		if err := c.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}

// BacklogCheck fails when count reports more than limit pending items, for
// example unpublished outbox events piling up behind a dead broker.
func BacklogCheck(name string, limit int, count func(ctx context.Context) (int, error)) CheckFunc {
	return func(ctx context.Context) error {
		n, err := count(ctx)
		if err != nil {
			return errors.Wrapf(err, "count %s", name)
		}
		if n > limit {
			return errors.Errorf("%s backlog %d exceeds %d", name, n, limit)
		}
		return nil
	}
}

// GoroutineCountCheck fails when the goroutine count exceeds threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// Since fails when the time returned by last is older than maxAge. A zero
// time counts as healthy so a freshly started worker is not flagged.
func Since(what string, maxAge time.Duration, last func() time.Time) CheckFunc {
	return func(_ context.Context) error {
		t := last()
		if t.IsZero() {
			return nil
		}
		if age := time.Since(t); age > maxAge {
			return errors.Errorf("%s last ran %s ago", what, age.Round(time.Second))
		}
		return nil
	}
}
