package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/order"
)

const (
	attemptColumns = `id, buyer_id, idempotency_key, state, reason, created_at, updated_at`

	findAttemptSQL = `SELECT ` + attemptColumns + `
		FROM checkout_attempts WHERE buyer_id = $1 AND idempotency_key = $2`

	// The conflict branch only fires for attempts the caller may take over;
	// otherwise no row is returned.
	claimAttemptSQL = `INSERT INTO checkout_attempts (id, buyer_id, idempotency_key, state)
		VALUES ($1, $2, $3, 'submitting')
		ON CONFLICT (buyer_id, idempotency_key) DO UPDATE
			SET state = 'submitting', reason = '', updated_at = now()
			WHERE checkout_attempts.state = 'failed'
				OR (checkout_attempts.state = 'submitting'
					AND checkout_attempts.updated_at < now() - $4::float8 * interval '1 second')
		RETURNING ` + attemptColumns

	failAttemptSQL = `UPDATE checkout_attempts SET state = 'failed', reason = $2, updated_at = now()
		WHERE id = $1 AND state = 'submitting'`

	completeAttemptSQL = `UPDATE checkout_attempts SET state = 'committed', updated_at = now()
		WHERE id = $1 AND state = 'submitting'`

	lockCartSQL = `SELECT id, quantity FROM cart_items
		WHERE user_id = $1
		ORDER BY id
		FOR UPDATE`

	// Lines added after the cart was locked are not in $2 and survive.
	deleteCartLinesSQL = `DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)`

	lockStockSQL = `SELECT id, stock FROM products
		WHERE id = ANY($1) AND is_active
		ORDER BY id
		FOR UPDATE`

	insertOrderSQL = `INSERT INTO orders (id, checkout_attempt_id, buyer_id, seller_id, total,
		delivery_fee, coupon_id, status, payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	incrementCouponUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND is_active AND (usage_limit IS NULL OR usage_count < usage_limit)`

	couponActiveSQL = `SELECT is_active FROM coupons WHERE id = $1`

	insertEventSQL = `INSERT INTO outbox_events (id, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`
)

var orderItemColumns = []string{"id", "order_id", "position", "product_id", "quantity", "price"}

var _ checkout.Store = (*SettlementStore)(nil)

// SettlementStore implements checkout.Store backed by PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore returns a SettlementStore that uses the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// FindAttempt returns the attempt for buyerID and key.
func (s *SettlementStore) FindAttempt(ctx context.Context, buyerID, key string) (*checkout.Attempt, error) {
	rows, err := s.pool.Query(ctx, findAttemptSQL, buyerID, key)
	if err != nil {
		return nil, fmt.Errorf("find checkout attempt: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("find checkout attempt: %w", err)
	}
	return &a, nil
}

// ClaimAttempt creates or reclaims the attempt in the submitting state.
func (s *SettlementStore) ClaimAttempt(ctx context.Context, buyerID, key string, staleAfter time.Duration) (*checkout.Attempt, bool, error) {
	rows, err := s.pool.Query(ctx, claimAttemptSQL, uuid.NewString(), buyerID, key, staleAfter.Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("claim checkout attempt: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	switch {
	case err == nil:
		return &a, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("claim checkout attempt: %w", err)
	}

	current, err := s.FindAttempt(ctx, buyerID, key)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// FailAttempt records why a submitting attempt did not settle.
func (s *SettlementStore) FailAttempt(ctx context.Context, attemptID, reason string) error {
	if _, err := s.pool.Exec(ctx, failAttemptSQL, attemptID, reason); err != nil {
		return fmt.Errorf("fail checkout attempt %q: %w", attemptID, err)
	}
	return nil
}

// Settle runs fn in a single transaction that commits only when fn succeeds.
func (s *SettlementStore) Settle(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &checkout.SettlementError{Step: checkout.StepStockCheck, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &settlementTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &checkout.SettlementError{Step: checkout.StepCommit, Err: err}
	}
	return nil
}

type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) LockCart(ctx context.Context, buyerID string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, lockCartSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	defer rows.Close()

	lines := make(map[string]int)
	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines[id] = qty
	}
	return lines, rows.Err()
}

func (t *settlementTx) LockStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx, lockStockSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	defer rows.Close()

	stock := make(map[string]int, len(productIDs))
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		stock[id] = n
	}
	return stock, rows.Err()
}

func (t *settlementTx) InsertOrders(ctx context.Context, orders []order.Order) ([]order.Order, error) {
	out := make([]order.Order, len(orders))
	batch := &pgx.Batch{}
	for i, o := range orders {
		o.ID = uuid.NewString()
		out[i] = o
		batch.Queue(insertOrderSQL, o.ID, o.CheckoutID, o.BuyerID, o.SellerID, o.Total,
			o.DeliveryFee, o.CouponID, string(o.Status), o.PaymentRef,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&out[i].CreatedAt)
		})
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert orders: %w", err)
	}
	return out, nil
}

func (t *settlementTx) InsertItems(ctx context.Context, items []order.Item) ([]order.Item, error) {
	out := make([]order.Item, len(items))
	rows := make([][]any, len(items))
	position := make(map[string]int)
	for i, it := range items {
		it.ID = uuid.NewString()
		out[i] = it
		rows[i] = []any{it.ID, it.OrderID, position[it.OrderID], it.ProductID, it.Quantity, it.Price}
		position[it.OrderID]++
	}

	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("copy order items: %w", err)
	}
	if int(n) != len(items) {
		return nil, errors.Errorf("copied %d of %d order items", n, len(items))
	}
	return out, nil
}

func (t *settlementTx) IncrementCouponUsage(ctx context.Context, couponID string) error {
	tag, err := t.tx.Exec(ctx, incrementCouponUsageSQL, couponID)
	if err != nil {
		return fmt.Errorf("increment coupon %q usage: %w", couponID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: tell a withdrawn coupon apart from a used-up one.
	var active bool
	switch err := t.tx.QueryRow(ctx, couponActiveSQL, couponID).Scan(&active); {
	case errors.Is(err, pgx.ErrNoRows):
		return coupon.ErrCouponNotFound
	case err != nil:
		return fmt.Errorf("read coupon %q state: %w", couponID, err)
	case !active:
		return coupon.ErrCouponNotFound
	default:
		return coupon.ErrCouponExhausted
	}
}

func (t *settlementTx) ClearCart(ctx context.Context, buyerID string, lineIDs []string) error {
	if _, err := t.tx.Exec(ctx, deleteCartLinesSQL, buyerID, lineIDs); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (t *settlementTx) AppendEvents(ctx context.Context, events []checkout.Event) error {
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventSQL, e.ID, e.AggregateID, e.Type, e.Payload)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append outbox events: %w", err)
	}
	return nil
}

func (t *settlementTx) CompleteAttempt(ctx context.Context, attemptID string) error {
	tag, err := t.tx.Exec(ctx, completeAttemptSQL, attemptID)
	if err != nil {
		return fmt.Errorf("complete checkout attempt %q: %w", attemptID, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("checkout attempt %q is no longer submitting", attemptID)
	}
	return nil
}

func scanAttempt(row pgx.CollectableRow) (checkout.Attempt, error) {
	var (
		a     checkout.Attempt
		state string
	)
	err := row.Scan(&a.ID, &a.BuyerID, &a.Key, &state, &a.Reason, &a.CreatedAt, &a.UpdatedAt)
	a.State = checkout.State(state)
	return a, err
}
