package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrLocked is returned by a Locker when the key is held elsewhere.
var ErrLocked = errors.New("lock is held")

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker provides a per-key mutual exclusion that spans processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// NopLocker grants every lock. It is used when no shared lock backend is
// configured and only the in-process guard applies.
type NopLocker struct{}

// Lock always succeeds.
func (NopLocker) Lock(context.Context, string, time.Duration) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// guard rejects a second in-process submission for a buyer while the first
// is still running.
type guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newGuard() *guard {
	return &guard{active: make(map[string]struct{})}
}

func (g *guard) acquire(buyerID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[buyerID]; busy {
		return nil, false
	}
	g.active[buyerID] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.active, buyerID)
		g.mu.Unlock()
	}, true
}
