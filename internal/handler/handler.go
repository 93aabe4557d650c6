// Package handler serves the marketplace HTTP API.
package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/campusmart/marketplace/internal/domain/auth"
	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/checkout"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/order"
	"github.com/campusmart/marketplace/internal/domain/product"
	"github.com/campusmart/marketplace/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

// Catalog reads products for the public listing.
type Catalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// CartService edits a buyer's cart.
type CartService interface {
	AddItem(ctx context.Context, buyerID, productID string, qty int) (string, error)
	UpdateQuantity(ctx context.Context, buyerID, lineID string, qty int) error
	RemoveItem(ctx context.Context, buyerID, lineID string) error
	Clear(ctx context.Context, buyerID string) error
}

// CheckoutService prices carts and settles checkouts.
type CheckoutService interface {
	Preview(ctx context.Context, buyerID string) (*checkout.Preview, error)
	ApplyCoupon(ctx context.Context, buyerID, code string) (*checkout.Preview, error)
	RemoveCoupon(ctx context.Context, buyerID string) error
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

// OrderService lists orders and applies seller status changes.
type OrderService interface {
	ListForBuyer(ctx context.Context, buyerID string) ([]order.Order, error)
	ListForSeller(ctx context.Context, sellerID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, sellerID, orderID string, to order.Status) (*order.Order, error)
}

// Handler holds the API's domain dependencies.
type Handler struct {
	products Catalog
	carts    CartService
	checkout CheckoutService
	orders   OrderService
	auth     *Authenticator
}

// New constructs a Handler.
func New(products Catalog, carts CartService, co CheckoutService, orders OrderService, authn *Authenticator) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		checkout: co,
		orders:   orders,
		auth:     authn,
	}
}

// Register mounts the API routes on r. The catalog is public; cart,
// checkout and order routes need a buyer key, seller routes a seller key.
func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Authenticate, RequireScope(auth.ScopeBuyer))

		r.Get("/cart", h.getCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/items", h.addCartItem)
		r.Patch("/cart/items/{lineID}", h.updateCartItem)
		r.Delete("/cart/items/{lineID}", h.removeCartItem)
		r.Post("/cart/coupon", h.applyCoupon)
		r.Delete("/cart/coupon", h.removeCoupon)
		r.Post("/checkout", h.submitCheckout)
		r.Get("/orders", h.listBuyerOrders)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Authenticate, RequireScope(auth.ScopeSeller))

		r.Get("/seller/orders", h.listSellerOrders)
		r.Patch("/seller/orders/{orderID}", h.updateOrderStatus)
	})
}

var errBadRequest = errors.New("invalid request body")

// readBody decodes a JSON object, calling field for every key.
func readBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	return decodeBody(r, false, field)
}

// decodeBody is readBody that optionally accepts an empty body.
func decodeBody(r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return errBadRequest
	}
	if optional && len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		return errBadRequest
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps a domain error to a status and user-facing message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	var v *checkout.ValidationError
	if errors.As(err, &v) && len(v.Removed) > 0 {
		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			e.Field("removed", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, l := range v.Removed {
						encodeRemovedLine(e, l)
					}
				})
			})
		})
		writeJSON(w, status, &e)
		return
	}
	httpmiddleware.WriteError(w, status, msg)
}

func classify(err error) (int, string) {
	var (
		validation *checkout.ValidationError
		rejected   *coupon.RejectedError
		stale      *checkout.StaleDataError
		settle     *checkout.SettlementError
		transition *order.TransitionError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkout.ErrNotAuthenticated):
		return http.StatusUnauthorized, checkout.UserMessage(err)
	case errors.Is(err, checkout.ErrRemovedItemsUnacknowledged):
		return http.StatusConflict, checkout.UserMessage(err)
	case errors.As(err, &validation):
		return http.StatusBadRequest, checkout.UserMessage(err)
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, checkout.UserMessage(err)
	case errors.As(err, &stale), errors.Is(err, checkout.ErrCartChanged), errors.Is(err, checkout.ErrCheckoutInProgress):
		return http.StatusConflict, checkout.UserMessage(err)
	case errors.Is(err, checkout.ErrPaymentDeclined):
		return http.StatusPaymentRequired, checkout.UserMessage(err)
	case errors.As(err, &settle):
		return http.StatusInternalServerError, checkout.UserMessage(err)
	case errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, product.ErrNotFound), errors.Is(err, cart.ErrLineNotFound), errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, product.ErrUnavailable), errors.As(err, &transition):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, order.ErrStatusConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, checkout.UserMessage(err)
	}
}
