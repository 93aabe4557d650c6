package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/campusmart/marketplace/internal/domain/cart"
)

// Validator checks a coupon code against the sellers present in a cart.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate runs the coupon checks in order and stops at the first failure.
// sellers is the distinct set of seller ids in the cart. Validate never
// mutates the coupon.
func (v *Validator) Validate(ctx context.Context, code string, sellers []string) (*Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	c, err := v.repo.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, &RejectedError{Code: code, Reason: ErrCouponNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if c.Expired(v.now()) {
		return nil, &RejectedError{Code: code, Reason: ErrCouponExpired}
	}
	if c.Exhausted() {
		return nil, &RejectedError{Code: code, Reason: ErrCouponExhausted}
	}

	if len(sellers) == 0 {
		return nil, cart.ErrEmptyCart
	}

	if c.SellerID != nil {
		if len(sellers) != 1 || sellers[0] != *c.SellerID {
			return nil, &RejectedError{Code: code, Reason: ErrCouponSellerScope}
		}
	} else if len(sellers) != 1 {
		return nil, &RejectedError{Code: code, Reason: ErrCouponSingleSeller}
	}

	return c, nil
}
