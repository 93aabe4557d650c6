package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/coupon"
)

// DefaultDeliveryFee is the flat per-seller delivery charge in Naira.
var DefaultDeliveryFee = decimal.NewFromInt(500)

// PartitionQuote holds the computed amounts for one seller partition.
type PartitionQuote struct {
	Partition
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	// CouponApplied is set on the one partition the coupon discounted.
	CouponApplied bool
}

// Quote is the priced view of a whole cart.
type Quote struct {
	Partitions []PartitionQuote
	Subtotal   decimal.Decimal
	Delivery   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	Coupon     *coupon.Coupon
}

// DiscountedPartition returns the partition the coupon applied to, if any.
func (q Quote) DiscountedPartition() (PartitionQuote, bool) {
	for _, p := range q.Partitions {
		if p.CouponApplied {
			return p, true
		}
	}
	return PartitionQuote{}, false
}

// Calculator prices seller partitions. It is pure and keeps no state
// between calls.
type Calculator struct {
	deliveryFee decimal.Decimal
}

// NewCalculator returns a Calculator charging fee per seller partition.
func NewCalculator(fee decimal.Decimal) *Calculator {
	return &Calculator{deliveryFee: fee}
}

// DeliveryFee returns the per-partition delivery charge.
func (c *Calculator) DeliveryFee() decimal.Decimal {
	return c.deliveryFee
}

// Quote computes per-partition and grand totals. applied may be nil. No
// rounding is performed; totals are floored at zero.
func (c *Calculator) Quote(parts []Partition, applied *coupon.Coupon) Quote {
	q := Quote{
		Partitions: make([]PartitionQuote, 0, len(parts)),
		Subtotal:   decimal.Zero,
		Delivery:   decimal.Zero,
		Discount:   decimal.Zero,
	}

	for _, p := range parts {
		pq := PartitionQuote{
			Partition:   p,
			Subtotal:    p.Subtotal(),
			DeliveryFee: c.deliveryFee,
			Discount:    decimal.Zero,
		}
		if applied != nil && applied.AppliesTo(p.SellerID, len(parts)) {
			pq.Discount = applied.Discount(pq.Subtotal)
			pq.CouponApplied = true
		}
		pq.Total = floorZero(pq.Subtotal.Sub(pq.Discount).Add(pq.DeliveryFee))

		q.Subtotal = q.Subtotal.Add(pq.Subtotal)
		q.Delivery = q.Delivery.Add(pq.DeliveryFee)
		q.Discount = q.Discount.Add(pq.Discount)
		q.Partitions = append(q.Partitions, pq)
	}

	if _, ok := q.DiscountedPartition(); ok {
		q.Coupon = applied
	}
	q.Total = floorZero(q.Subtotal.Sub(q.Discount).Add(q.Delivery))
	return q
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
