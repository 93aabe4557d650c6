package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/campusmart/marketplace/internal/domain/product"
)

// Service applies buyer edits to the cart.
type Service struct {
	lines    Repository
	products product.Repository
	reader   *Reader
}

// NewService creates a cart Service. When reader is not nil its shared
// reads for a buyer are forgotten after every successful edit.
func NewService(lines Repository, products product.Repository, reader *Reader) *Service {
	return &Service{lines: lines, products: products, reader: reader}
}

func (s *Service) forget(buyerID string) {
	if s.reader != nil {
		s.reader.Forget(buyerID)
	}
}

// AddItem puts qty units of a product into the buyer's cart, merging with
// an existing line for the same product.
func (s *Service) AddItem(ctx context.Context, buyerID, productID string, qty int) (string, error) {
	if qty < 1 {
		return "", ErrInvalidQuantity
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return "", product.ErrNotFound
		}
		return "", errors.Wrap(err, "get product")
	}
	if !p.Active {
		return "", product.ErrUnavailable
	}

	id, err := s.lines.AddOrMerge(ctx, buyerID, productID, qty)
	if err != nil {
		return "", errors.Wrap(err, "add cart line")
	}
	s.forget(buyerID)
	return id, nil
}

// UpdateQuantity sets a line's quantity. A quantity below one removes the
// line.
func (s *Service) UpdateQuantity(ctx context.Context, buyerID, lineID string, qty int) error {
	if qty < 1 {
		return s.RemoveItem(ctx, buyerID, lineID)
	}
	if err := s.lines.UpdateQuantity(ctx, buyerID, lineID, qty); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return ErrLineNotFound
		}
		return errors.Wrap(err, "update cart line")
	}
	s.forget(buyerID)
	return nil
}

// RemoveItem deletes a single line from the buyer's cart.
func (s *Service) RemoveItem(ctx context.Context, buyerID, lineID string) error {
	if err := s.lines.DeleteLine(ctx, buyerID, lineID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return ErrLineNotFound
		}
		return errors.Wrap(err, "delete cart line")
	}
	s.forget(buyerID)
	return nil
}

// Clear empties the buyer's cart.
func (s *Service) Clear(ctx context.Context, buyerID string) error {
	if err := s.lines.DeleteAllForBuyer(ctx, buyerID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	s.forget(buyerID)
	return nil
}
