// Package cache keeps short-lived per-buyer state in Redis, with an
// in-process fallback for single-instance runs.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/coupon"
)

// NewClient parses a redis:// URL and returns a client for it.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}

var _ coupon.AppliedStore = (*AppliedCoupons)(nil)

// AppliedCoupons stores the coupon code each buyer has applied. Entries
// expire after the configured TTL of inactivity.
type AppliedCoupons struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAppliedCoupons returns an AppliedCoupons store. A non-positive ttl
// defaults to 24 hours.
func NewAppliedCoupons(client *redis.Client, ttl time.Duration) *AppliedCoupons {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AppliedCoupons{client: client, ttl: ttl}
}

// Get returns the buyer's applied code or "".
func (s *AppliedCoupons) Get(ctx context.Context, buyerID string) (string, error) {
	code, err := s.client.Get(ctx, appliedKey(buyerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "redis get")
	}
	return code, nil
}

// Set records code as the buyer's applied coupon.
func (s *AppliedCoupons) Set(ctx context.Context, buyerID, code string) error {
	if err := s.client.Set(ctx, appliedKey(buyerID), code, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Clear forgets the buyer's applied coupon.
func (s *AppliedCoupons) Clear(ctx context.Context, buyerID string) error {
	if err := s.client.Del(ctx, appliedKey(buyerID)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func appliedKey(buyerID string) string {
	return fmt.Sprintf("coupon:applied:%s", buyerID)
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ checkout.Locker = (*Locker)(nil)

// Locker is a single-instance Redis lock keyed per buyer.
type Locker struct {
	client *redis.Client
}

// NewLocker returns a Locker on client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock acquires key for ttl or returns checkout.ErrLocked.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (checkout.Unlock, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return nil, checkout.ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey(key)}, token).Err(); err != nil {
			return errors.Wrap(err, "release lock")
		}
		return nil
	}, nil
}

func lockKey(key string) string {
	return "lock:" + key
}
