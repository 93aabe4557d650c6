package order

import (
	"context"

	"github.com/go-faster/errors"
)

// Service exposes order history to buyers and fulfilment to sellers.
type Service struct {
	orders Repository
}

// NewService creates an order Service.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// ListForBuyer returns the buyer's orders, newest first.
func (s *Service) ListForBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	out, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "list buyer orders")
	}
	return out, nil
}

// ListForSeller returns orders placed with the seller, newest first.
func (s *Service) ListForSeller(ctx context.Context, sellerID string) ([]Order, error) {
	out, err := s.orders.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, errors.Wrap(err, "list seller orders")
	}
	return out, nil
}

// UpdateStatus advances an order owned by sellerID to the given status.
// Orders of other sellers are reported as ErrNotFound.
func (s *Service) UpdateStatus(ctx context.Context, sellerID, orderID string, to Status) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	if o.SellerID != sellerID {
		return nil, ErrNotFound
	}

	if !to.Valid() || !CanTransition(o.Status, to) {
		return nil, &TransitionError{From: o.Status, To: to}
	}

	if err := s.orders.UpdateStatus(ctx, o.ID, o.Status, to); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrStatusConflict
		}
		return nil, errors.Wrap(err, "update order status")
	}

	o.Status = to
	return o, nil
}
