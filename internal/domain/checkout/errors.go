package checkout

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/coupon"
)

var (
	// ErrNotAuthenticated is returned when no buyer identity accompanies a
	// cart or checkout request.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRemovedItemsUnacknowledged is returned when the cart holds lines
	// whose product disappeared and the buyer has not acknowledged them.
	ErrRemovedItemsUnacknowledged = errors.New("cart contains unavailable items")
	// ErrCheckoutInProgress is returned while another submission for the
	// same buyer or idempotency key is being settled.
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	// ErrPaymentDeclined is returned when the payment signal did not succeed.
	ErrPaymentDeclined = errors.New("payment was not completed")
	// ErrCartChanged is returned when the cart was edited between the
	// priced snapshot and settlement.
	ErrCartChanged = errors.New("cart changed during checkout")
	// ErrAttemptNotFound is returned by Store.FindAttempt for unknown keys.
	ErrAttemptNotFound = errors.New("checkout attempt not found")
)

// ValidationError wraps a precondition failure detected before any write.
type ValidationError struct {
	Reason error
	// Removed lists the unresolvable lines when Reason is
	// ErrRemovedItemsUnacknowledged.
	Removed []cart.Line
}

func (e *ValidationError) Error() string {
	return e.Reason.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

func validation(err error) error {
	return &ValidationError{Reason: err}
}

// StaleDataError reports a line whose quantity exceeds the stock available
// at settlement time.
type StaleDataError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *StaleDataError) Error() string {
	if e.Available == 0 {
		return fmt.Sprintf("%s is out of stock", e.label())
	}
	return fmt.Sprintf("only %d of %s left in stock, %d requested", e.Available, e.label(), e.Requested)
}

func (e *StaleDataError) label() string {
	if e.Name != "" {
		return e.Name
	}
	return "product " + e.ProductID
}

// Step names a write inside the settlement transaction.
type Step string

const (
	StepCartCheck       Step = "cart_check"
	StepStockCheck      Step = "stock_check"
	StepInsertOrders    Step = "insert_orders"
	StepInsertItems     Step = "insert_items"
	StepCouponUsage     Step = "coupon_usage"
	StepClearCart       Step = "clear_cart"
	StepOutbox          Step = "outbox"
	StepCompleteAttempt Step = "complete_attempt"
	StepCommit          Step = "commit"
)

// SettlementError reports a persistence failure inside the settlement
// transaction. The transaction was rolled back.
type SettlementError struct {
	Step Step
	Err  error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s: %v", e.Step, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

var couponMessages = map[error]string{
	coupon.ErrCouponNotFound:     "Coupon not found or inactive",
	coupon.ErrCouponExpired:      "Coupon has expired",
	coupon.ErrCouponExhausted:    "Coupon usage limit reached",
	coupon.ErrCouponSellerScope:  "This coupon only applies to a specific seller's cart",
	coupon.ErrCouponSingleSeller: "This coupon only applies to a cart from a single seller",
}

// UserMessage converts any error from this package's operations into the
// single message shown to the buyer.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var (
		rejected *coupon.RejectedError
		stale    *StaleDataError
		settle   *SettlementError
	)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, cart.ErrEmptyCart):
		return "Your cart is empty"
	case errors.Is(err, coupon.ErrEmptyCode):
		return "Enter a coupon code"
	case errors.Is(err, ErrRemovedItemsUnacknowledged):
		return "Some items in your cart are no longer available. Review them before checking out"
	case errors.Is(err, ErrCheckoutInProgress):
		return "Your checkout is already being processed"
	case errors.Is(err, ErrPaymentDeclined):
		return "Payment was not completed"
	case errors.Is(err, ErrCartChanged):
		return "Your cart changed during checkout. Review it and try again"
	case errors.As(err, &rejected):
		if msg, ok := couponMessages[rejected.Reason]; ok {
			return msg
		}
		return "Coupon cannot be applied"
	case errors.As(err, &stale):
		return "Stock changed: " + stale.Error()
	case errors.As(err, &settle):
		return "We could not place your order and nothing was saved. Please try again"
	default:
		return "Something went wrong. Please try again"
	}
}
