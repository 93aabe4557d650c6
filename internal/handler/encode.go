package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/order"
	"github.com/campusmart/marketplace/internal/domain/pricing"
	"github.com/campusmart/marketplace/internal/domain/product"
	"github.com/campusmart/marketplace/pkg/money"
)

// Amounts are exact decimal strings; *_display fields are formatted Naira.

func amount(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(d.String()) })
}

func amountWithDisplay(e *jx.Encoder, name string, d decimal.Decimal) {
	amount(e, name, d)
	e.Field(name+"_display", func(e *jx.Encoder) { e.Str(money.FormatNaira(d)) })
}

func optStr(e *jx.Encoder, name string, s *string) {
	e.Field(name, func(e *jx.Encoder) {
		if s == nil {
			e.Null()
			return
		}
		e.Str(*s)
	})
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func integer(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func boolean(e *jx.Encoder, name string, v bool) {
	e.Field(name, func(e *jx.Encoder) { e.Bool(v) })
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "seller_id", p.SellerID)
		str(e, "name", p.Name)
		str(e, "category", p.Category)
		amountWithDisplay(e, "price", p.Price)
		integer(e, "stock", p.Stock)
	})
}

func encodeRemovedLine(e *jx.Encoder, l cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", l.ID)
		str(e, "product_id", l.ProductID)
		integer(e, "quantity", l.Quantity)
	})
}

func encodeLine(e *jx.Encoder, l cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", l.ID)
		str(e, "product_id", l.ProductID)
		integer(e, "quantity", l.Quantity)
		str(e, "name", l.Product.Name)
		str(e, "seller_id", l.Product.SellerID)
		amount(e, "price", l.Product.Price)
		amountWithDisplay(e, "line_total", l.LineTotal())
		boolean(e, "in_stock", l.Quantity <= l.Product.Stock)
	})
}

func encodePartition(e *jx.Encoder, p pricing.PartitionQuote) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "seller_id", p.SellerID)
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range p.Lines {
					encodeLine(e, l)
				}
			})
		})
		amount(e, "subtotal", p.Subtotal)
		amount(e, "delivery_fee", p.DeliveryFee)
		amount(e, "discount", p.Discount)
		amountWithDisplay(e, "total", p.Total)
		boolean(e, "coupon_applied", p.CouponApplied)
	})
}

func encodePreview(e *jx.Encoder, p *checkout.Preview) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("sellers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, part := range p.Quote.Partitions {
					encodePartition(e, part)
				}
			})
		})
		e.Field("removed", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range p.Snapshot.Removed() {
					encodeRemovedLine(e, l)
				}
			})
		})
		amountWithDisplay(e, "subtotal", p.Quote.Subtotal)
		amountWithDisplay(e, "delivery", p.Quote.Delivery)
		amountWithDisplay(e, "discount", p.Quote.Discount)
		amountWithDisplay(e, "total", p.Quote.Total)
		e.Field("coupon", func(e *jx.Encoder) {
			if p.CouponCode == "" {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				str(e, "code", p.CouponCode)
				boolean(e, "applied", p.Quote.Coupon != nil)
				if p.CouponError != nil {
					str(e, "error", checkout.UserMessage(p.CouponError))
				}
			})
		})
	})
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "checkout_id", o.CheckoutID)
		str(e, "buyer_id", o.BuyerID)
		str(e, "seller_id", o.SellerID)
		str(e, "status", string(o.Status))
		amount(e, "subtotal", o.Subtotal())
		amount(e, "delivery_fee", o.DeliveryFee)
		amountWithDisplay(e, "total", o.Total)
		optStr(e, "coupon_id", o.CouponID)
		optStr(e, "payment_ref", o.PaymentRef)
		str(e, "created_at", o.CreatedAt.UTC().Format(time.RFC3339))
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						str(e, "id", it.ID)
						str(e, "product_id", it.ProductID)
						integer(e, "quantity", it.Quantity)
						amount(e, "price", it.Price)
					})
				}
			})
		})
	})
}

func encodeOrders(orders []order.Order) *jx.Encoder {
	e := new(jx.Encoder)
	e.Arr(func(e *jx.Encoder) {
		for _, o := range orders {
			encodeOrder(e, o)
		}
	})
	return e
}
