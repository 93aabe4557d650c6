package cache

import (
	"context"
	"sync"
	"time"

	"github.com/campusmart/marketplace/internal/domain/coupon"
)

var _ coupon.AppliedStore = (*MemoryAppliedCoupons)(nil)

// MemoryAppliedCoupons is the single-instance fallback used when no Redis
// is configured. Entries are lost on restart.
type MemoryAppliedCoupons struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	code    string
	expires time.Time
}

// NewMemoryAppliedCoupons returns an in-process store. A non-positive ttl
// defaults to 24 hours.
func NewMemoryAppliedCoupons(ttl time.Duration) *MemoryAppliedCoupons {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryAppliedCoupons{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryAppliedCoupons) Get(_ context.Context, buyerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[buyerID]
	if !ok {
		return "", nil
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, buyerID)
		return "", nil
	}
	return e.code, nil
}

func (s *MemoryAppliedCoupons) Set(_ context.Context, buyerID, code string) error {
	s.mu.Lock()
	s.entries[buyerID] = memoryEntry{code: code, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryAppliedCoupons) Clear(_ context.Context, buyerID string) error {
	s.mu.Lock()
	delete(s.entries, buyerID)
	s.mu.Unlock()
	return nil
}
