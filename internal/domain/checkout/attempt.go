package checkout

import (
	"context"
	"time"

	"github.com/campusmart/marketplace/internal/domain/order"
)

// State is the persisted phase of a checkout attempt. An attempt that has
// not been claimed yet is idle and has no row.
type State string

const (
	StateSubmitting State = "submitting"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// Attempt is one buyer checkout identified by a client idempotency key.
type Attempt struct {
	ID        string
	BuyerID   string
	Key       string
	State     State
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is an outbox record written in the settlement transaction.
type Event struct {
	ID          string
	AggregateID string
	Type        string
	Payload     []byte
}

// Store persists checkout attempts and runs the settlement transaction.
type Store interface {
	// FindAttempt returns the attempt for buyerID and key, or
	// ErrAttemptNotFound.
	FindAttempt(ctx context.Context, buyerID, key string) (*Attempt, error)
	// ClaimAttempt moves the attempt into StateSubmitting, creating it when
	// missing. Failed attempts and submitting attempts untouched for longer
	// than staleAfter are reclaimed. The bool reports whether the caller now
	// owns the attempt; when false the returned attempt shows its current
	// state.
	ClaimAttempt(ctx context.Context, buyerID, key string, staleAfter time.Duration) (*Attempt, bool, error)
	// FailAttempt moves a submitting attempt to StateFailed.
	FailAttempt(ctx context.Context, attemptID, reason string) error
	// Settle runs fn in one database transaction. The transaction commits
	// only when fn returns nil; fn's error is returned unchanged.
	Settle(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes available inside the settlement transaction.
type Tx interface {
	// LockCart locks the buyer's cart rows and returns their quantities by
	// line id.
	LockCart(ctx context.Context, buyerID string) (map[string]int, error)
	// LockStock locks the active products and returns their stock by id.
	// Missing or inactive products are absent from the map.
	LockStock(ctx context.Context, productIDs []string) (map[string]int, error)
	// InsertOrders stores orders in one batch and returns them with ids.
	InsertOrders(ctx context.Context, orders []order.Order) ([]order.Order, error)
	// InsertItems stores order items in one batch and returns them with ids.
	InsertItems(ctx context.Context, items []order.Item) ([]order.Item, error)
	// IncrementCouponUsage adds one use while the coupon is active and below
	// its limit. It returns coupon.ErrCouponNotFound when the coupon was
	// deactivated or deleted and coupon.ErrCouponExhausted when the limit
	// is reached.
	IncrementCouponUsage(ctx context.Context, couponID string) error
	// ClearCart deletes the given lines from the buyer's cart.
	ClearCart(ctx context.Context, buyerID string, lineIDs []string) error
	AppendEvents(ctx context.Context, events []Event) error
	CompleteAttempt(ctx context.Context, attemptID string) error
}
