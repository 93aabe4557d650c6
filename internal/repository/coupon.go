package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/coupon"
)

const (
	// Codes match exactly; the validator trims input before lookup.
	getCouponByCodeSQL = `SELECT id, seller_id, code, discount_percent, expires_at,
		usage_limit, usage_count, is_active
		FROM coupons WHERE code = $1 AND is_active`

	upsertCouponSQL = `INSERT INTO coupons (id, seller_id, code, discount_percent, expires_at, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			seller_id = EXCLUDED.seller_id,
			discount_percent = EXCLUDED.discount_percent,
			expires_at = EXCLUDED.expires_at,
			usage_limit = EXCLUDED.usage_limit,
			is_active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindActiveByCode looks up an active coupon by its exact code. Returns
// coupon.ErrCouponNotFound when none matches.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("find coupon %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon %q: %w", code, err)
	}
	return &c, nil
}

// UpsertBatch creates or refreshes coupons keyed by code in one round trip.
// Usage counts of existing coupons are preserved.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, c.ID, c.SellerID, c.Code, c.DiscountPercent, c.ExpiresAt, c.UsageLimit)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert coupons: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c       coupon.Coupon
		percent decimal.Decimal
	)
	err := row.Scan(&c.ID, &c.SellerID, &c.Code, &percent, &c.ExpiresAt,
		&c.UsageLimit, &c.UsageCount, &c.Active,
	)
	c.DiscountPercent = percent
	return c, err
}
