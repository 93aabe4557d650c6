package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCode is returned when the submitted code is blank after trimming.
	ErrEmptyCode = errors.New("enter a coupon code")
	// ErrCouponNotFound is returned when no active coupon has the exact code.
	ErrCouponNotFound = errors.New("coupon not found or inactive")
	// ErrCouponExpired is returned when the coupon's expiry is in the past.
	ErrCouponExpired = errors.New("coupon has expired")
	// ErrCouponExhausted is returned when the coupon has no uses left.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrCouponSellerScope is returned when a seller-scoped coupon meets a
	// cart holding items from any other seller.
	ErrCouponSellerScope = errors.New("this coupon only applies to a specific seller's cart")
	// ErrCouponSingleSeller is returned when a platform-wide coupon meets a
	// cart spanning several sellers. Limiting platform coupons to one seller
	// keeps the partition the discount lands on unambiguous.
	ErrCouponSingleSeller = errors.New("this coupon only applies to a cart from a single seller")
)

// RejectedError reports a coupon that exists in some form but cannot be
// applied to the current cart.
type RejectedError struct {
	Code   string
	Reason error
}

func (e *RejectedError) Error() string {
	return e.Reason.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// Coupon is a percentage discount, either scoped to one seller or
// platform-wide when SellerID is nil.
type Coupon struct {
	ID              string
	SellerID        *string
	Code            string
	DiscountPercent decimal.Decimal
	ExpiresAt       *time.Time
	UsageLimit      *int
	UsageCount      int
	Active          bool
}

// PlatformWide reports whether the coupon has no seller scope.
func (c *Coupon) PlatformWide() bool {
	return c.SellerID == nil
}

// Expired reports whether the coupon expired strictly before now.
func (c *Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Exhausted reports whether the usage count has reached the limit. A nil
// limit never exhausts; a zero limit always does.
func (c *Coupon) Exhausted() bool {
	return c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit
}

// AppliesTo reports whether the coupon discounts the partition of sellerID
// in a cart with the given number of seller partitions.
func (c *Coupon) AppliesTo(sellerID string, sellers int) bool {
	if c.SellerID != nil {
		return *c.SellerID == sellerID
	}
	return sellers == 1
}

// Discount returns amount × percent / 100 without rounding.
func (c *Coupon) Discount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.DiscountPercent).Div(decimal.NewFromInt(100))
}

// Repository provides coupon lookups.
type Repository interface {
	// FindActiveByCode returns the active coupon with exactly this code or
	// ErrCouponNotFound.
	FindActiveByCode(ctx context.Context, code string) (*Coupon, error)
}

// AppliedStore remembers which code a buyer has applied to their cart.
type AppliedStore interface {
	// Get returns the applied code, or "" when none is set.
	Get(ctx context.Context, buyerID string) (string, error)
	Set(ctx context.Context, buyerID, code string) error
	Clear(ctx context.Context, buyerID string) error
}
