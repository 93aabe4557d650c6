// Package checkout settles a buyer's cart into per-seller orders.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/campusmart/marketplace/internal/domain/cart"
	"github.com/campusmart/marketplace/internal/domain/coupon"
	"github.com/campusmart/marketplace/internal/domain/order"
	"github.com/campusmart/marketplace/internal/domain/pricing"
)

// SnapshotReader loads the buyer's cart.
type SnapshotReader interface {
	// Snapshot reads the cart without sharing the read with other callers.
	Snapshot(ctx context.Context, buyerID string) (*cart.Snapshot, error)
	// SharedSnapshot may return the result of a read already in flight for
	// the same buyer. Only used for display.
	SharedSnapshot(ctx context.Context, buyerID string) (*cart.Snapshot, error)
}

// CouponValidator checks a code against the cart's distinct sellers.
type CouponValidator interface {
	Validate(ctx context.Context, code string, sellers []string) (*coupon.Coupon, error)
}

// Params holds the collaborators of a Service.
type Params struct {
	Carts      SnapshotReader
	Coupons    CouponValidator
	Applied    coupon.AppliedStore
	Calculator *pricing.Calculator
	Store      Store
	Orders     order.Repository
	Payments   PaymentGateway
	Locker     Locker

	// LockTTL bounds how long the per-buyer lock survives a crashed holder.
	LockTTL time.Duration
	// StaleAfter is how long a submitting attempt may sit untouched before
	// a retry may reclaim it.
	StaleAfter time.Duration

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service prices carts, manages the applied coupon and settles checkouts.
type Service struct {
	carts      SnapshotReader
	coupons    CouponValidator
	applied    coupon.AppliedStore
	calc       *pricing.Calculator
	store      Store
	orders     order.Repository
	payments   PaymentGateway
	locker     Locker
	guard      *guard
	lockTTL    time.Duration
	staleAfter time.Duration

	tracer      trace.Tracer
	settlements metric.Int64Counter
	duration    metric.Float64Histogram

	now func() time.Time
}

// NewService creates a checkout Service.
func NewService(p Params) (*Service, error) {
	if p.Payments == nil {
		p.Payments = SimulatedGateway{}
	}
	if p.Locker == nil {
		p.Locker = NopLocker{}
	}
	if p.LockTTL <= 0 {
		p.LockTTL = 30 * time.Second
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = 2 * time.Minute
	}
	if p.MeterProvider == nil {
		p.MeterProvider = metricnoop.NewMeterProvider()
	}
	if p.TracerProvider == nil {
		p.TracerProvider = tracenoop.NewTracerProvider()
	}

	meter := p.MeterProvider.Meter("github.com/campusmart/marketplace/checkout")
	settlements, err := meter.Int64Counter("checkout.settlements",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create settlements counter")
	}
	duration, err := meter.Float64Histogram("checkout.duration",
		metric.WithDescription("Checkout duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return &Service{
		carts:       p.Carts,
		coupons:     p.Coupons,
		applied:     p.Applied,
		calc:        p.Calculator,
		store:       p.Store,
		orders:      p.Orders,
		payments:    p.Payments,
		locker:      p.Locker,
		guard:       newGuard(),
		lockTTL:     p.LockTTL,
		staleAfter:  p.StaleAfter,
		tracer:      p.TracerProvider.Tracer("github.com/campusmart/marketplace/checkout"),
		settlements: settlements,
		duration:    duration,
		now:         time.Now,
	}, nil
}

// Preview is the priced cart shown before checkout.
type Preview struct {
	Snapshot *cart.Snapshot
	Quote    pricing.Quote
	// CouponCode is the buyer's applied code, if any.
	CouponCode string
	// CouponError is set when the applied code no longer validates against
	// the current cart. The quote is then computed without it.
	CouponError error
}

// Preview prices the buyer's current cart with the applied coupon.
func (s *Service) Preview(ctx context.Context, buyerID string) (*Preview, error) {
	if buyerID == "" {
		return nil, validation(ErrNotAuthenticated)
	}

	snap, err := s.carts.SharedSnapshot(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	parts := pricing.PartitionBySeller(snap.Resolved())

	code, err := s.applied.Get(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "get applied coupon")
	}

	p := &Preview{Snapshot: snap, CouponCode: code}
	var applied *coupon.Coupon
	if code != "" && len(parts) > 0 {
		c, err := s.coupons.Validate(ctx, code, pricing.SellerIDs(parts))
		var rejected *coupon.RejectedError
		switch {
		case errors.As(err, &rejected):
			p.CouponError = err
		case err != nil:
			return nil, errors.Wrap(err, "validate applied coupon")
		default:
			applied = c
		}
	}

	p.Quote = s.calc.Quote(parts, applied)
	return p, nil
}

// ApplyCoupon validates code against the buyer's cart and, on success,
// stores it as the applied coupon. On failure the previously applied code
// is left in place.
func (s *Service) ApplyCoupon(ctx context.Context, buyerID, code string) (*Preview, error) {
	if buyerID == "" {
		return nil, validation(ErrNotAuthenticated)
	}

	snap, err := s.carts.Snapshot(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	parts := pricing.PartitionBySeller(snap.Resolved())

	c, err := s.coupons.Validate(ctx, code, pricing.SellerIDs(parts))
	if err != nil {
		if errors.Is(err, coupon.ErrEmptyCode) || errors.Is(err, cart.ErrEmptyCart) {
			return nil, validation(err)
		}
		return nil, err
	}

	if err := s.applied.Set(ctx, buyerID, c.Code); err != nil {
		return nil, errors.Wrap(err, "store applied coupon")
	}

	zctx.From(ctx).Debug("Coupon applied",
		zap.String("buyer_id", buyerID),
		zap.String("coupon_id", c.ID),
	)
	return &Preview{
		Snapshot:   snap,
		Quote:      s.calc.Quote(parts, c),
		CouponCode: c.Code,
	}, nil
}

// RemoveCoupon clears the buyer's applied coupon.
func (s *Service) RemoveCoupon(ctx context.Context, buyerID string) error {
	if buyerID == "" {
		return validation(ErrNotAuthenticated)
	}
	if err := s.applied.Clear(ctx, buyerID); err != nil {
		return errors.Wrap(err, "clear applied coupon")
	}
	return nil
}

// Request is a buyer's checkout submission.
type Request struct {
	BuyerID string
	// IdempotencyKey identifies the attempt across retries. A fresh key is
	// generated when empty, which disables replay protection.
	IdempotencyKey string
	// AcknowledgeRemoved confirms the buyer has seen the unavailable lines
	// that will be discarded with the cart.
	AcknowledgeRemoved bool
}

// Result describes a settled checkout.
type Result struct {
	AttemptID string
	// IdempotencyKey is the key the attempt was settled under, generated
	// when the request carried none.
	IdempotencyKey string
	Orders         []order.Order
	Total          decimal.Decimal
	Discount       decimal.Decimal
	// Replayed is set when the key was already committed and no writes
	// were made.
	Replayed bool
}

// Checkout settles the buyer's cart: one order per seller, their items,
// the coupon use, the cart clear and outbox events commit atomically.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "checkout.Checkout",
		trace.WithAttributes(attribute.String("buyer.id", req.BuyerID)),
	)
	defer span.End()

	res, err := s.checkout(ctx, req)

	outcome := outcomeOf(res, err)
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.settlements.Add(ctx, 1, attrs)
	s.duration.Record(ctx, s.now().Sub(start).Seconds(), attrs)
	span.SetAttributes(attribute.String("checkout.outcome", outcome))

	lg := zctx.From(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		lg.Info("Checkout rejected",
			zap.String("buyer_id", req.BuyerID),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return nil, err
	}

	lg.Info("Checkout settled",
		zap.String("buyer_id", req.BuyerID),
		zap.String("attempt_id", res.AttemptID),
		zap.Int("orders", len(res.Orders)),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if req.BuyerID == "" {
		return nil, validation(ErrNotAuthenticated)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}

	release, ok := s.guard.acquire(req.BuyerID)
	if !ok {
		return nil, ErrCheckoutInProgress
	}
	defer release()

	unlock, err := s.locker.Lock(ctx, "checkout:"+req.BuyerID, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, ErrCheckoutInProgress
		}
		return nil, errors.Wrap(err, "acquire buyer lock")
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			zctx.From(ctx).Warn("Release buyer lock", zap.String("buyer_id", req.BuyerID), zap.Error(err))
		}
	}()

	existing, err := s.store.FindAttempt(ctx, req.BuyerID, key)
	switch {
	case err == nil && existing.State == StateCommitted:
		return s.replay(ctx, existing)
	case err != nil && !errors.Is(err, ErrAttemptNotFound):
		return nil, errors.Wrap(err, "find checkout attempt")
	}

	snap, err := s.carts.Snapshot(ctx, req.BuyerID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	if snap.Empty() {
		return nil, validation(cart.ErrEmptyCart)
	}
	if removed := snap.Removed(); len(removed) > 0 && !req.AcknowledgeRemoved {
		return nil, &ValidationError{Reason: ErrRemovedItemsUnacknowledged, Removed: removed}
	}

	parts := pricing.PartitionBySeller(snap.Resolved())
	if len(parts) == 0 {
		return nil, validation(cart.ErrEmptyCart)
	}

	var applied *coupon.Coupon
	code, err := s.applied.Get(ctx, req.BuyerID)
	if err != nil {
		return nil, errors.Wrap(err, "get applied coupon")
	}
	if code != "" {
		applied, err = s.coupons.Validate(ctx, code, pricing.SellerIDs(parts))
		if err != nil {
			return nil, err
		}
	}
	quote := s.calc.Quote(parts, applied)

	attempt, owned, err := s.store.ClaimAttempt(ctx, req.BuyerID, key, s.staleAfter)
	if err != nil {
		return nil, errors.Wrap(err, "claim checkout attempt")
	}
	if !owned {
		if attempt.State == StateCommitted {
			return s.replay(ctx, attempt)
		}
		return nil, ErrCheckoutInProgress
	}

	signal, err := s.payments.Confirm(ctx, PaymentRequest{
		AttemptID: attempt.ID,
		BuyerID:   req.BuyerID,
		Amount:    quote.Total,
	})
	if err != nil {
		err = errors.Wrap(err, "confirm payment")
		s.fail(ctx, attempt, err)
		return nil, err
	}
	if !signal.Succeeded {
		s.fail(ctx, attempt, ErrPaymentDeclined)
		return nil, ErrPaymentDeclined
	}

	placed, err := s.settle(ctx, attempt, snap, quote, signal)
	if err != nil {
		s.fail(ctx, attempt, err)
		return nil, err
	}

	if applied != nil {
		if err := s.applied.Clear(ctx, req.BuyerID); err != nil {
			zctx.From(ctx).Warn("Clear applied coupon", zap.String("buyer_id", req.BuyerID), zap.Error(err))
		}
	}

	return &Result{
		AttemptID:      attempt.ID,
		IdempotencyKey: attempt.Key,
		Orders:         placed,
		Total:          quote.Total,
		Discount:       quote.Discount,
	}, nil
}

// settle performs every write of a checkout inside one transaction. The
// cart rows read into snap are locked first and must be unchanged.
func (s *Service) settle(ctx context.Context, attempt *Attempt, snap *cart.Snapshot, quote pricing.Quote, signal PaymentSignal) ([]order.Order, error) {
	var paymentRef *string
	if signal.Reference != "" {
		paymentRef = &signal.Reference
	}

	var placed []order.Order
	err := s.store.Settle(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockCart(ctx, attempt.BuyerID)
		if err != nil {
			return &SettlementError{Step: StepCartCheck, Err: err}
		}
		if !sameLines(snap, locked) {
			return ErrCartChanged
		}

		stock, err := tx.LockStock(ctx, quoteProductIDs(quote))
		if err != nil {
			return &SettlementError{Step: StepStockCheck, Err: err}
		}
		if err := checkStock(quote, stock); err != nil {
			return err
		}

		pending := make([]order.Order, len(quote.Partitions))
		for i, p := range quote.Partitions {
			o := order.Order{
				CheckoutID:  attempt.ID,
				BuyerID:     attempt.BuyerID,
				SellerID:    p.SellerID,
				Total:       p.Total,
				DeliveryFee: p.DeliveryFee,
				Status:      order.StatusPending,
				PaymentRef:  paymentRef,
			}
			if p.CouponApplied && quote.Coupon != nil {
				id := quote.Coupon.ID
				o.CouponID = &id
			}
			pending[i] = o
		}

		inserted, err := tx.InsertOrders(ctx, pending)
		if err != nil {
			return &SettlementError{Step: StepInsertOrders, Err: err}
		}
		bySeller := make(map[string]int, len(inserted))
		for i, o := range inserted {
			bySeller[o.SellerID] = i
		}

		var items []order.Item
		for _, p := range quote.Partitions {
			i, ok := bySeller[p.SellerID]
			if !ok {
				return &SettlementError{Step: StepInsertOrders, Err: errors.Errorf("no order returned for seller %q", p.SellerID)}
			}
			for _, l := range p.Lines {
				items = append(items, order.Item{
					OrderID:   inserted[i].ID,
					ProductID: l.ProductID,
					Quantity:  l.Quantity,
					Price:     l.Product.Price,
				})
			}
		}
		storedItems, err := tx.InsertItems(ctx, items)
		if err != nil {
			return &SettlementError{Step: StepInsertItems, Err: err}
		}
		for _, it := range storedItems {
			for i := range inserted {
				if inserted[i].ID == it.OrderID {
					inserted[i].Items = append(inserted[i].Items, it)
					break
				}
			}
		}

		if quote.Coupon != nil {
			if err := tx.IncrementCouponUsage(ctx, quote.Coupon.ID); err != nil {
				switch {
				case errors.Is(err, coupon.ErrCouponNotFound):
					return &coupon.RejectedError{Code: quote.Coupon.Code, Reason: coupon.ErrCouponNotFound}
				case errors.Is(err, coupon.ErrCouponExhausted):
					return &coupon.RejectedError{Code: quote.Coupon.Code, Reason: coupon.ErrCouponExhausted}
				}
				return &SettlementError{Step: StepCouponUsage, Err: err}
			}
		}

		if err := tx.ClearCart(ctx, attempt.BuyerID, lineIDs(snap)); err != nil {
			return &SettlementError{Step: StepClearCart, Err: err}
		}
		if err := tx.AppendEvents(ctx, orderPlacedEvents(inserted)); err != nil {
			return &SettlementError{Step: StepOutbox, Err: err}
		}
		if err := tx.CompleteAttempt(ctx, attempt.ID); err != nil {
			return &SettlementError{Step: StepCompleteAttempt, Err: err}
		}

		placed = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// sameLines reports whether the locked cart rows match the snapshot line for
// line, removed lines included.
func sameLines(snap *cart.Snapshot, locked map[string]int) bool {
	if len(snap.Lines) != len(locked) {
		return false
	}
	for _, l := range snap.Lines {
		if qty, ok := locked[l.ID]; !ok || qty != l.Quantity {
			return false
		}
	}
	return true
}

func lineIDs(snap *cart.Snapshot) []string {
	ids := make([]string, len(snap.Lines))
	for i, l := range snap.Lines {
		ids[i] = l.ID
	}
	return ids
}

func (s *Service) replay(ctx context.Context, attempt *Attempt) (*Result, error) {
	placed, err := s.orders.ListByCheckout(ctx, attempt.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load settled orders")
	}
	total, discount := decimal.Zero, decimal.Zero
	for _, o := range placed {
		total = total.Add(o.Total)
		discount = discount.Add(o.Subtotal().Add(o.DeliveryFee).Sub(o.Total))
	}
	return &Result{
		AttemptID:      attempt.ID,
		IdempotencyKey: attempt.Key,
		Orders:         placed,
		Total:          total,
		Discount:       discount,
		Replayed:       true,
	}, nil
}

func (s *Service) fail(ctx context.Context, attempt *Attempt, cause error) {
	if err := s.store.FailAttempt(context.WithoutCancel(ctx), attempt.ID, cause.Error()); err != nil {
		zctx.From(ctx).Error("Mark checkout attempt failed",
			zap.String("attempt_id", attempt.ID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	}
}

func quoteProductIDs(q pricing.Quote) []string {
	var ids []string
	for _, p := range q.Partitions {
		for _, l := range p.Lines {
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}

// checkStock rejects the whole checkout when any product's total requested
// quantity exceeds its locked stock.
func checkStock(q pricing.Quote, stock map[string]int) error {
	requested := make(map[string]int)
	names := make(map[string]string)
	var ids []string
	for _, p := range q.Partitions {
		for _, l := range p.Lines {
			if _, seen := requested[l.ProductID]; !seen {
				ids = append(ids, l.ProductID)
			}
			requested[l.ProductID] += l.Quantity
			names[l.ProductID] = l.Product.Name
		}
	}
	for _, id := range ids {
		available, ok := stock[id]
		if !ok || requested[id] > available {
			if !ok {
				available = 0
			}
			return &StaleDataError{
				ProductID: id,
				Name:      names[id],
				Requested: requested[id],
				Available: available,
			}
		}
	}
	return nil
}

func outcomeOf(res *Result, err error) string {
	var (
		validationErr *ValidationError
		rejected      *coupon.RejectedError
		stale         *StaleDataError
	)
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "committed"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.As(err, &rejected):
		return "coupon_rejected"
	case errors.As(err, &stale), errors.Is(err, ErrCartChanged):
		return "stale"
	case errors.Is(err, ErrCheckoutInProgress):
		return "in_progress"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	default:
		return "failed"
	}
}
