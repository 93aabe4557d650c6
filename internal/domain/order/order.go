package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of a seller order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrStatusConflict is returned when the order changed status while an
	// update was in flight.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Order is the per-seller record produced by one checkout.
type Order struct {
	ID          string
	CheckoutID  string
	BuyerID     string
	SellerID    string
	Total       decimal.Decimal
	DeliveryFee decimal.Decimal
	CouponID    *string
	Status      Status
	PaymentRef  *string
	Items       []Item
	CreatedAt   time.Time
}

// Subtotal returns Σ quantity × price over the order's items.
func (o Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Item is a purchased product line with its price captured at settlement.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Repository defines read and lifecycle operations on persisted orders.
// Orders are created by the checkout settlement transaction.
type Repository interface {
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Order, error)
	ListByCheckout(ctx context.Context, checkoutID string) ([]Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatus moves the order to status `to` only while it is still in
	// `from`; otherwise it returns ErrStatusConflict.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}
