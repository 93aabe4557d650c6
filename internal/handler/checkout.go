package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/campusmart/marketplace/internal/domain/auth"
	"github.com/campusmart/marketplace/internal/domain/checkout"
)

// submitCheckout settles the caller's cart. Retries must resend the same
// Idempotency-Key; a committed key answers 200 with the original orders
// instead of 201.
func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	req := checkout.Request{
		BuyerID:        auth.UserID(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	err := decodeBody(r, true, func(d *jx.Decoder, key string) error {
		if key != "acknowledge_removed" {
			return d.Skip()
		}
		var err error
		req.AcknowledgeRemoved, err = d.Bool()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		str(e, "checkout_id", res.AttemptID)
		boolean(e, "replayed", res.Replayed)
		amountWithDisplay(e, "discount", res.Discount)
		amountWithDisplay(e, "total", res.Total)
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, o := range res.Orders {
					encodeOrder(e, o)
				}
			})
		})
	})

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Idempotency-Key", res.IdempotencyKey)
	writeJSON(w, status, &e)
}
