package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmart/marketplace/internal/domain/order"
)

const (
	orderColumns = `id, checkout_attempt_id, buyer_id, seller_id, total, delivery_fee,
		coupon_id, status, payment_ref, created_at`

	listOrdersByBuyerSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id`

	listOrdersBySellerSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE seller_id = $1 ORDER BY created_at DESC, id`

	listOrdersByCheckoutSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE checkout_attempt_id = $1 ORDER BY created_at, id`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE id = $1`

	listOrderItemsSQL = `SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// ListByBuyer returns the buyer's orders, newest first, with their items.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersByBuyerSQL, buyerID)
}

// ListBySeller returns the seller's orders, newest first, with their items.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersBySellerSQL, sellerID)
}

// ListByCheckout returns the orders created by one checkout attempt.
func (r *OrderRepository) ListByCheckout(ctx context.Context, checkoutID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersByCheckoutSQL, checkoutID)
}

// Get returns a single order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	orders, err := r.list(ctx, getOrderSQL, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return &orders[0], nil
}

// UpdateStatus performs a compare-and-set on the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStatusConflict
	}
	return nil
}

func (r *OrderRepository) list(ctx context.Context, query string, arg string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scan orders: %w", err)
	}
	if err := attachItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("list order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return fmt.Errorf("scan order items: %w", err)
	}
	for _, it := range items {
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.CheckoutID, &o.BuyerID, &o.SellerID, &o.Total, &o.DeliveryFee,
		&o.CouponID, &status, &o.PaymentRef, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
	return it, err
}
