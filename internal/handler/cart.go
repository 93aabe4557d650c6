package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/campusmart/marketplace/internal/domain/auth"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	p, err := h.checkout.Preview(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodePreview(&e, p)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), auth.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		qty       = 1
	)
	err := readBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Str()
		case "quantity":
			qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && productID == "" {
		err = errBadRequest
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.carts.AddItem(r.Context(), auth.UserID(r.Context()), productID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) { str(e, "id", id) })
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	qty, seen := 0, false
	err := readBody(r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		seen = true
		var err error
		qty, err = d.Int()
		return err
	})
	if err == nil && !seen {
		err = errBadRequest
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.carts.UpdateQuantity(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "lineID"), qty); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.RemoveItem(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "lineID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	err := readBody(r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.checkout.ApplyCoupon(r.Context(), auth.UserID(r.Context()), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodePreview(&e, p)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.RemoveCoupon(r.Context(), auth.UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
