package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrUnavailable is returned when a product exists but has been
	// withdrawn from sale by its seller.
	ErrUnavailable = errors.New("product is no longer available")
)

// Product represents a listing a seller offers on the marketplace.
type Product struct {
	ID       string
	SellerID string
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int
	Active   bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
