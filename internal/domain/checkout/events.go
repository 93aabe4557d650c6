package checkout

import (
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/campusmart/marketplace/internal/domain/order"
)

// EventOrderPlaced is emitted once per order created by a settlement.
const EventOrderPlaced = "order.placed"

func orderPlacedEvents(orders []order.Order) []Event {
	events := make([]Event, len(orders))
	for i, o := range orders {
		events[i] = Event{
			ID:          uuid.NewString(),
			AggregateID: o.ID,
			Type:        EventOrderPlaced,
			Payload:     encodeOrderPlaced(o),
		}
	}
	return events
}

func encodeOrderPlaced(o order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("checkout_id", func(e *jx.Encoder) { e.Str(o.CheckoutID) })
		e.Field("buyer_id", func(e *jx.Encoder) { e.Str(o.BuyerID) })
		e.Field("seller_id", func(e *jx.Encoder) { e.Str(o.SellerID) })
		e.Field("total", func(e *jx.Encoder) { e.Str(o.Total.String()) })
		e.Field("delivery_fee", func(e *jx.Encoder) { e.Str(o.DeliveryFee.String()) })
		e.Field("coupon_id", func(e *jx.Encoder) {
			if o.CouponID == nil {
				e.Null()
				return
			}
			e.Str(*o.CouponID)
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Str(it.Price.String()) })
					})
				}
			})
		})
	})
	return e.Bytes()
}
