package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/campusmart/marketplace/internal/domain/auth"
	"github.com/campusmart/marketplace/internal/domain/order"
)

func (h *Handler) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForBuyer(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrders(orders))
}

func (h *Handler) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForSeller(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrders(orders))
}

// updateOrderStatus moves one of the seller's orders along its lifecycle.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	err := readBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err == nil && status == "" {
		err = errBadRequest
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "orderID"), order.Status(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, *o)
	writeJSON(w, http.StatusOK, &e)
}
