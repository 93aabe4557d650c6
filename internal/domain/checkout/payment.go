package checkout

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentRequest describes the amount a checkout attempt wants confirmed.
type PaymentRequest struct {
	AttemptID string
	BuyerID   string
	Amount    decimal.Decimal
}

// PaymentSignal is the resolved outcome of a payment.
type PaymentSignal struct {
	Succeeded bool
	// Reference is the gateway's opaque id; empty when none was issued.
	Reference string
}

// PaymentGateway confirms payment for a checkout attempt.
type PaymentGateway interface {
	Confirm(ctx context.Context, req PaymentRequest) (PaymentSignal, error)
}

// SimulatedGateway approves every payment without issuing a reference.
type SimulatedGateway struct{}

// Confirm always succeeds.
func (SimulatedGateway) Confirm(context.Context, PaymentRequest) (PaymentSignal, error) {
	return PaymentSignal{Succeeded: true}, nil
}
