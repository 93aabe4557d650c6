//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/order"
	"github.com/campusmart/marketplace/internal/domain/pricing"
	"github.com/campusmart/marketplace/internal/domain/product"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(pool))
	// A second run is a no-op.
	require.NoError(t, RunMigrations(pool))

	seed(t, pool)
	return pool
}

func seed(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO products (id, seller_id, name, price, stock, is_active) VALUES
			('p1', 's1', 'Desk lamp', 1000, 5, TRUE),
			('p2', 's2', 'Textbook', 2000, 1, TRUE),
			('p3', 's1', 'Old kettle', 300, 3, FALSE);
		INSERT INTO coupons (id, seller_id, code, discount_percent, usage_limit, usage_count) VALUES
			('c1', 's1', 'S1TEN', 10, 5, 0),
			('c2', 's1', 'LAST', 10, 1, 1);
	`)
	require.NoError(t, err)
}

func newCheckout(t *testing.T, pool *pgxpool.Pool, applied coupon.AppliedStore) *checkout.Service {
	t.Helper()
	svc, err := checkout.NewService(checkout.Params{
		Carts:      cart.NewReader(NewCartRepository(pool)),
		Coupons:    coupon.NewValidator(NewCouponRepository(pool)),
		Applied:    applied,
		Calculator: pricing.NewCalculator(pricing.DefaultDeliveryFee),
		Store:      NewSettlementStore(pool),
		Orders:     NewOrderRepository(pool),
	})
	require.NoError(t, err)
	return svc
}

type appliedMap map[string]string

func (m appliedMap) Get(_ context.Context, buyerID string) (string, error) {
	return m[buyerID], nil
}

func (m appliedMap) Set(_ context.Context, buyerID, code string) error {
	m[buyerID] = code
	return nil
}

func (m appliedMap) Clear(_ context.Context, buyerID string) error {
	delete(m, buyerID)
	return nil
}

func count(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func TestProductRepository(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewProductRepository(pool)
	ctx := context.Background()

	p, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.SellerID)
	assert.True(t, decimal.NewFromInt(1000).Equal(p.Price))

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, product.ErrNotFound)

	require.NoError(t, repo.UpsertBatch(ctx, []product.Product{
		{ID: "p1", SellerID: "s1", Name: "Desk lamp v2", Price: decimal.RequireFromString("1250.50"), Stock: 2, Active: true},
		{ID: "p4", SellerID: "s3", Name: "Stool", Category: "Home", Price: decimal.NewFromInt(800), Stock: 1, Active: true},
	}))

	got, err := repo.GetByIDs(ctx, []string{"p1", "p4", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[string]product.Product{got[0].ID: got[0], got[1].ID: got[1]}
	assert.Equal(t, "Desk lamp v2", byID["p1"].Name)
	assert.True(t, decimal.RequireFromString("1250.5").Equal(byID["p1"].Price))
	assert.Equal(t, "s3", byID["p4"].SellerID)
}

func TestCartRepository(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCartRepository(pool)
	ctx := context.Background()

	id1, err := repo.AddOrMerge(ctx, "b1", "p1", 1)
	require.NoError(t, err)
	id2, err := repo.AddOrMerge(ctx, "b1", "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same product merges into one line")

	_, err = repo.AddOrMerge(ctx, "b1", "p3", 1)
	require.NoError(t, err)

	lines, err := repo.ListByBuyer(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)
	require.NotNil(t, lines[0].Product)
	assert.Equal(t, "s1", lines[0].Product.SellerID)
	assert.Nil(t, lines[1].Product, "withdrawn product reads as removed")

	require.ErrorIs(t, repo.UpdateQuantity(ctx, "b2", id1, 5), cart.ErrLineNotFound)
	require.NoError(t, repo.UpdateQuantity(ctx, "b1", id1, 4))
	require.ErrorIs(t, repo.DeleteLine(ctx, "b2", id1), cart.ErrLineNotFound)
	require.NoError(t, repo.DeleteAllForBuyer(ctx, "b1"))

	lines, err = repo.ListByBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCouponRepository(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCouponRepository(pool)
	ctx := context.Background()

	c, err := repo.FindActiveByCode(ctx, "S1TEN")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)
	require.NotNil(t, c.SellerID)
	assert.True(t, decimal.NewFromInt(10).Equal(c.DiscountPercent))

	_, err = repo.FindActiveByCode(ctx, "s1ten")
	require.ErrorIs(t, err, coupon.ErrCouponNotFound)

	require.NoError(t, repo.UpsertBatch(ctx, []coupon.Coupon{
		{ID: "c3", Code: "WELCOME", DiscountPercent: decimal.NewFromInt(5)},
	}))
	c, err = repo.FindActiveByCode(ctx, "WELCOME")
	require.NoError(t, err)
	assert.True(t, c.PlatformWide())
	assert.Nil(t, c.UsageLimit)
}

func TestCheckout_SettlesAtomically(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartRepository(pool)
	applied := appliedMap{"b1": "S1TEN"}
	svc := newCheckout(t, pool, applied)

	_, err := carts.AddOrMerge(ctx, "b1", "p1", 2)
	require.NoError(t, err)

	res, err := svc.Checkout(ctx, checkout.Request{BuyerID: "b1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.True(t, decimal.NewFromInt(2300).Equal(res.Orders[0].Total))

	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM orders WHERE buyer_id = 'b1'`))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM order_items`))
	assert.Equal(t, 0, count(t, pool, `SELECT count(*) FROM cart_items WHERE user_id = 'b1'`))
	assert.Equal(t, 1, count(t, pool, `SELECT usage_count FROM coupons WHERE id = 'c1'`))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM outbox_events`))
	assert.Empty(t, applied)

	replay, err := svc.Checkout(ctx, checkout.Request{BuyerID: "b1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Orders[0].ID, replay.Orders[0].ID)
	require.Len(t, replay.Orders[0].Items, 1)
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM orders`))
}

func TestCheckout_StaleStockRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartRepository(pool)
	svc := newCheckout(t, pool, appliedMap{})

	_, err := carts.AddOrMerge(ctx, "b1", "p1", 1)
	require.NoError(t, err)
	_, err = carts.AddOrMerge(ctx, "b1", "p2", 2)
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, checkout.Request{BuyerID: "b1", IdempotencyKey: "k1"})
	var stale *checkout.StaleDataError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "p2", stale.ProductID)

	assert.Equal(t, 0, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Equal(t, 2, count(t, pool, `SELECT count(*) FROM cart_items WHERE user_id = 'b1'`))
	assert.Equal(t, 1, count(t, pool, `SELECT count(*) FROM checkout_attempts WHERE state = 'failed'`))
}

func TestSettlementStore_CouponExhaustedRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewSettlementStore(pool)

	attempt, owned, err := store.ClaimAttempt(ctx, "b1", "k1", time.Minute)
	require.NoError(t, err)
	require.True(t, owned)

	err = store.Settle(ctx, func(ctx context.Context, tx checkout.Tx) error {
		_, err := tx.InsertOrders(ctx, []order.Order{{
			CheckoutID: attempt.ID, BuyerID: "b1", SellerID: "s1",
			Total: decimal.NewFromInt(1500), DeliveryFee: decimal.NewFromInt(500), Status: order.StatusPending,
		}})
		require.NoError(t, err)
		return tx.IncrementCouponUsage(ctx, "c2")
	})
	require.ErrorIs(t, err, coupon.ErrCouponExhausted)
	assert.Equal(t, 0, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Equal(t, 1, count(t, pool, `SELECT usage_count FROM coupons WHERE id = 'c2'`))
}

func TestSettlementStore_DeactivatedCouponIsNotFound(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewSettlementStore(pool)

	_, err := pool.Exec(ctx, `UPDATE coupons SET is_active = FALSE WHERE id = 'c1'`)
	require.NoError(t, err)

	tests := []struct {
		name     string
		couponID string
		wantErr  error
	}{
		{name: "deactivated", couponID: "c1", wantErr: coupon.ErrCouponNotFound},
		{name: "deleted", couponID: "missing", wantErr: coupon.ErrCouponNotFound},
		{name: "used up", couponID: "c2", wantErr: coupon.ErrCouponExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Settle(ctx, func(ctx context.Context, tx checkout.Tx) error {
				return tx.IncrementCouponUsage(ctx, tt.couponID)
			})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, 0, count(t, pool, `SELECT usage_count FROM coupons WHERE id = 'c1'`))
}

func TestSettlementStore_ClearsOnlyLockedLines(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartRepository(pool)
	store := NewSettlementStore(pool)

	id1, err := carts.AddOrMerge(ctx, "b1", "p1", 2)
	require.NoError(t, err)
	id2, err := carts.AddOrMerge(ctx, "b1", "p2", 1)
	require.NoError(t, err)

	err = store.Settle(ctx, func(ctx context.Context, tx checkout.Tx) error {
		locked, err := tx.LockCart(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{id1: 2, id2: 1}, locked)
		return tx.ClearCart(ctx, "b1", []string{id1})
	})
	require.NoError(t, err)

	lines, err := carts.ListByBuyer(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, id2, lines[0].ID)
}

func TestCheckout_CartEditedAfterSnapshot(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartRepository(pool)

	_, err := carts.AddOrMerge(ctx, "b1", "p1", 1)
	require.NoError(t, err)

	// The gateway runs between the snapshot and settlement, where a second
	// tab can still edit the cart.
	svc, err := checkout.NewService(checkout.Params{
		Carts:      cart.NewReader(carts),
		Coupons:    coupon.NewValidator(NewCouponRepository(pool)),
		Applied:    appliedMap{},
		Calculator: pricing.NewCalculator(pricing.DefaultDeliveryFee),
		Store:      NewSettlementStore(pool),
		Orders:     NewOrderRepository(pool),
		Payments: gatewayFunc(func(ctx context.Context) error {
			_, err := carts.AddOrMerge(ctx, "b1", "p2", 1)
			return err
		}),
	})
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, checkout.Request{BuyerID: "b1", IdempotencyKey: "k1"})
	require.ErrorIs(t, err, checkout.ErrCartChanged)
	assert.Equal(t, 0, count(t, pool, `SELECT count(*) FROM orders`))
	assert.Equal(t, 2, count(t, pool, `SELECT count(*) FROM cart_items WHERE user_id = 'b1'`))
}

type gatewayFunc func(ctx context.Context) error

func (f gatewayFunc) Confirm(ctx context.Context, _ checkout.PaymentRequest) (checkout.PaymentSignal, error) {
	if err := f(ctx); err != nil {
		return checkout.PaymentSignal{}, err
	}
	return checkout.PaymentSignal{Succeeded: true}, nil
}

func TestSettlementStore_ClaimAttempt(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewSettlementStore(pool)

	_, err := store.FindAttempt(ctx, "b1", "k1")
	require.ErrorIs(t, err, checkout.ErrAttemptNotFound)

	first, owned, err := store.ClaimAttempt(ctx, "b1", "k1", time.Hour)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, checkout.StateSubmitting, first.State)

	again, owned, err := store.ClaimAttempt(ctx, "b1", "k1", time.Hour)
	require.NoError(t, err)
	assert.False(t, owned, "fresh submitting attempt is not reclaimed")
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, store.FailAttempt(ctx, first.ID, "payment was not completed"))
	retried, owned, err := store.ClaimAttempt(ctx, "b1", "k1", time.Hour)
	require.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, first.ID, retried.ID)
	assert.Empty(t, retried.Reason)

	stale, owned, err := store.ClaimAttempt(ctx, "b1", "k1", 0)
	require.NoError(t, err)
	assert.True(t, owned, "submitting attempt past staleAfter is reclaimed")
	assert.Equal(t, first.ID, stale.ID)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	carts := NewCartRepository(pool)
	svc := newCheckout(t, pool, appliedMap{})
	orders := NewOrderRepository(pool)

	_, err := carts.AddOrMerge(ctx, "b1", "p1", 1)
	require.NoError(t, err)
	res, err := svc.Checkout(ctx, checkout.Request{BuyerID: "b1", IdempotencyKey: "k1"})
	require.NoError(t, err)
	id := res.Orders[0].ID

	require.NoError(t, orders.UpdateStatus(ctx, id, order.StatusPending, order.StatusConfirmed))
	require.ErrorIs(t, orders.UpdateStatus(ctx, id, order.StatusPending, order.StatusCancelled), order.ErrStatusConflict)

	got, err := orders.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	seller, err := orders.ListBySeller(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, seller, 1)

	_, err = orders.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOutboxRepository(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO outbox_events (id, aggregate_id, event_type, payload) VALUES
		('e1', 'o1', 'order.placed', '{"order_id":"o1"}'),
		('e2', 'o2', 'order.placed', '{"order_id":"o2"}')`)
	require.NoError(t, err)

	repo := NewOutboxRepository(pool)
	events, err := repo.ListUnpublished(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(events[0].Payload))

	require.NoError(t, repo.MarkPublished(ctx, []string{"e1"}))
	n, err := repo.CountUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err = repo.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
}
