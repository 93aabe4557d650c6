// Package cart reads and mutates a buyer's cart.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when an operation needs at least one cart line.
	ErrEmptyCart = errors.New("your cart is empty")
	// ErrLineNotFound is returned when a cart line does not exist or belongs
	// to another buyer.
	ErrLineNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned when an item is added with a quantity
	// below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// ProductSnapshot is the product data joined onto a cart line at read time.
type ProductSnapshot struct {
	Name     string
	SellerID string
	Price    decimal.Decimal
	Stock    int
}

// Line is a single cart entry. Product is nil when the referenced product
// could not be resolved.
type Line struct {
	ID        string
	BuyerID   string
	ProductID string
	Quantity  int
	Product   *ProductSnapshot
	CreatedAt time.Time
}

// SellerID returns the seller of the line's product, or "" when unresolved.
func (l Line) SellerID() string {
	if l.Product == nil {
		return ""
	}
	return l.Product.SellerID
}

// Resolved reports whether the line carries a product with a seller.
func (l Line) Resolved() bool {
	return l.SellerID() != ""
}

// LineTotal returns price × quantity, or zero for unresolved lines.
func (l Line) LineTotal() decimal.Decimal {
	if l.Product == nil {
		return decimal.Zero
	}
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository provides persistence for cart lines. Every method is scoped to
// a buyer; lines owned by other buyers behave as missing.
type Repository interface {
	// ListByBuyer returns the buyer's lines joined with live product data,
	// oldest first.
	ListByBuyer(ctx context.Context, buyerID string) ([]Line, error)
	// AddOrMerge inserts a line or adds qty to the existing line for the
	// same product, returning the resulting line id.
	AddOrMerge(ctx context.Context, buyerID, productID string, qty int) (string, error)
	UpdateQuantity(ctx context.Context, buyerID, lineID string, qty int) error
	DeleteLine(ctx context.Context, buyerID, lineID string) error
	DeleteAllForBuyer(ctx context.Context, buyerID string) error
}
