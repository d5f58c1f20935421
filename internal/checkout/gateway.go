package checkout

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrGatewayTransient signals the gateway call failed in a way that carries
// no information about whether the charge occurred server-side: timeout,
// connection failure, or a 5xx response.
var ErrGatewayTransient = errors.New("gateway outcome unknown")

// Outcome is a terminal answer from the payment gateway.
type Outcome struct {
	// Status is Paid, Declined, or Failed.
	Status PaymentStatus
	// Raw is the gateway's own status payload, kept for the journal.
	Raw string
}

// PaymentGateway submits a payment request and classifies the response into
// a bounded outcome set. It performs no retries and never invents an
// outcome: anything short of a definite answer is ErrGatewayTransient.
type PaymentGateway interface {
	Authorize(ctx context.Context, saleID int64, amount decimal.Decimal, cardNumber string) (Outcome, error)
}
