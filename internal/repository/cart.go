package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/cart"
)

const (
	// Withdrawn products join as NULL so the line reads as removed.
	listCartLinesSQL = `SELECT c.id, c.user_id, c.product_id, c.quantity, c.created_at,
		p.name, p.seller_id, p.price, p.stock
		FROM cart_items c
		LEFT JOIN products p ON p.id = c.product_id AND p.is_active
		WHERE c.user_id = $1
		ORDER BY c.created_at, c.id`

	addCartLineSQL = `INSERT INTO cart_items (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id`

	updateCartLineSQL = `UPDATE cart_items SET quantity = $3 WHERE user_id = $1 AND id = $2`

	deleteCartLineSQL = `DELETE FROM cart_items WHERE user_id = $1 AND id = $2`

	deleteCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// ListByBuyer returns the buyer's lines joined with live product data.
func (r *CartRepository) ListByBuyer(ctx context.Context, buyerID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartLinesSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// AddOrMerge inserts a line or increases the quantity of the buyer's
// existing line for the product.
func (r *CartRepository) AddOrMerge(ctx context.Context, buyerID, productID string, qty int) (string, error) {
	var id string
	if err := r.pool.QueryRow(ctx, addCartLineSQL, uuid.NewString(), buyerID, productID, qty).Scan(&id); err != nil {
		return "", fmt.Errorf("add product %q to cart: %w", productID, err)
	}
	return id, nil
}

// UpdateQuantity sets the quantity of one of the buyer's lines.
func (r *CartRepository) UpdateQuantity(ctx context.Context, buyerID, lineID string, qty int) error {
	tag, err := r.pool.Exec(ctx, updateCartLineSQL, buyerID, lineID, qty)
	if err != nil {
		return fmt.Errorf("update cart line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

// DeleteLine removes one of the buyer's lines.
func (r *CartRepository) DeleteLine(ctx context.Context, buyerID, lineID string) error {
	tag, err := r.pool.Exec(ctx, deleteCartLineSQL, buyerID, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line %q: %w", lineID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

// DeleteAllForBuyer empties the buyer's cart.
func (r *CartRepository) DeleteAllForBuyer(ctx context.Context, buyerID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, buyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var (
		l        cart.Line
		name     *string
		sellerID *string
		price    decimal.NullDecimal
		stock    *int
	)
	err := row.Scan(&l.ID, &l.BuyerID, &l.ProductID, &l.Quantity, &l.CreatedAt,
		&name, &sellerID, &price, &stock,
	)
	if err != nil {
		return l, err
	}
	if sellerID != nil && price.Valid {
		l.Product = &cart.ProductSnapshot{
			SellerID: *sellerID,
			Price:    price.Decimal,
		}
		if name != nil {
			l.Product.Name = *name
		}
		if stock != nil {
			l.Product.Stock = *stock
		}
	}
	return l, nil
}
