package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentResult is the coordinator's answer to a pay call. Status is the
// durably stored payment status at the time the call resolved.
type PaymentResult struct {
	SaleID int64         `json:"sale_id"`
	Status PaymentStatus `json:"status"`
}

// Coordinator drives the checkout write and the two-step payment saga:
// create sale, request payment, persist the outcome exactly once. All
// linearization happens through the ledger's conditional status update, so
// the coordinator is safe across processes, not just goroutines.
type Coordinator struct {
	ledger  SaleLedger
	gateway PaymentGateway
	logger  *zap.Logger
	retry   RetryPolicy
	publish func(SaleEvent)
	now     func() time.Time

	// settlePoll is how often a losing pay call re-reads a Pending sale
	// while waiting for the winning attempt to record a terminal status.
	settlePoll time.Duration
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRetryPolicy sets the retry policy applied to the checkout write.
func WithRetryPolicy(policy RetryPolicy) CoordinatorOption {
	return func(c *Coordinator) { c.retry = policy }
}

// WithEventPublisher registers a sink for sale lifecycle events.
func WithEventPublisher(publish func(SaleEvent)) CoordinatorOption {
	return func(c *Coordinator) { c.publish = publish }
}

// WithClock overrides the coordinator's clock.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(ledger SaleLedger, gateway PaymentGateway, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		ledger:     ledger,
		gateway:    gateway,
		logger:     logger,
		now:        time.Now,
		settlePoll: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checkout validates the items and persists a new sale. The ledger write is
// all-or-nothing, so a persistence failure is retried whole per the retry
// policy; nothing partial ever becomes visible.
func (c *Coordinator) Checkout(ctx context.Context, items []LineItem) (SaleRecord, error) {
	if err := ValidateItems(items); err != nil {
		return SaleRecord{}, err
	}

	var record SaleRecord
	err := c.retry.Do(ctx, func() error {
		var createErr error
		record, createErr = c.ledger.CreateSale(ctx, items)
		return createErr
	})
	if err != nil {
		c.logger.Error("checkout failed", zap.Error(err))
		return SaleRecord{}, err
	}

	c.logger.Info("sale created",
		zap.Int64("sale_id", record.ID),
		zap.String("total", record.Total.String()),
		zap.Int("lines", len(record.Lines)),
	)
	c.emit(record.ID, record.PaymentStatus)
	return record, nil
}

// Sale returns a sale with its lines.
func (c *Coordinator) Sale(ctx context.Context, id int64) (SaleRecord, error) {
	return c.ledger.GetSale(ctx, id)
}

// Pay reconciles a sale against the payment gateway.
//
// The Unpaid->Pending conditional update is the idempotency guard: at most
// one attempt holds the Pending window, so concurrent calls produce exactly
// one gateway call. A terminal status, once stored, is returned as-is
// forever. A transient gateway failure re-arms the sale (Pending->Unpaid)
// and surfaces ErrPaymentIndeterminate; it is never reported as Declined.
func (c *Coordinator) Pay(ctx context.Context, saleID int64, cardNumber string, amount decimal.Decimal) (PaymentResult, error) {
	sale, err := c.ledger.GetSale(ctx, saleID)
	if err != nil {
		return PaymentResult{}, err
	}

	if !amount.Equal(sale.Total) {
		return PaymentResult{}, fmt.Errorf("%w: sale %d expects %s, got %s",
			ErrAmountMismatch, saleID, sale.Total.String(), amount.String())
	}

	if sale.PaymentStatus.Terminal() {
		return PaymentResult{SaleID: saleID, Status: sale.PaymentStatus}, nil
	}

	err = c.ledger.UpdatePaymentStatus(ctx, saleID, StatusPending, StatusUnpaid)
	if errors.Is(err, ErrStatusConflict) {
		// Another attempt owns the Pending window or already finished.
		// Do not call the gateway; report whatever that attempt decides.
		return c.awaitSettled(ctx, saleID)
	}
	if err != nil {
		return PaymentResult{}, err
	}

	outcome, authErr := c.gateway.Authorize(ctx, saleID, amount, cardNumber)
	c.journal(ctx, saleID, amount, outcome, authErr)

	if authErr != nil {
		// Unknown outcome: release the Pending window so a later retry is
		// permitted, then tell the caller the truth.
		if revertErr := c.ledger.UpdatePaymentStatus(ctx, saleID, StatusUnpaid, StatusPending); revertErr != nil {
			c.logger.Error("pending revert failed; sale requires reconciliation sweep",
				zap.Int64("sale_id", saleID), zap.Error(revertErr))
		}
		c.logger.Warn("payment indeterminate",
			zap.Int64("sale_id", saleID), zap.Error(authErr))
		return PaymentResult{SaleID: saleID, Status: StatusUnpaid},
			fmt.Errorf("%w: %v", ErrPaymentIndeterminate, authErr)
	}

	err = c.ledger.UpdatePaymentStatus(ctx, saleID, outcome.Status, StatusPending)
	if errors.Is(err, ErrStatusConflict) {
		// A concurrent attempt already recorded a terminal state. Never
		// overwrite one terminal status with another; return the stored one.
		return c.awaitSettled(ctx, saleID)
	}
	if err != nil {
		return PaymentResult{}, err
	}

	c.logger.Info("payment settled",
		zap.Int64("sale_id", saleID),
		zap.String("status", string(outcome.Status)),
	)
	c.emit(saleID, outcome.Status)
	return PaymentResult{SaleID: saleID, Status: outcome.Status}, nil
}

// awaitSettled re-reads a sale until it leaves Pending, so callers that lost
// the Pending race still receive the final stored status. If the context
// ends first the outcome is genuinely unknown to this caller.
func (c *Coordinator) awaitSettled(ctx context.Context, saleID int64) (PaymentResult, error) {
	for {
		sale, err := c.ledger.GetSale(ctx, saleID)
		if err != nil {
			return PaymentResult{}, err
		}
		if sale.PaymentStatus != StatusPending {
			return PaymentResult{SaleID: saleID, Status: sale.PaymentStatus}, nil
		}

		timer := time.NewTimer(c.settlePoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PaymentResult{SaleID: saleID, Status: StatusPending},
				fmt.Errorf("%w: concurrent attempt unresolved: %v", ErrPaymentIndeterminate, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Coordinator) journal(ctx context.Context, saleID int64, amount decimal.Decimal, outcome Outcome, authErr error) {
	recorded := outcome.Raw
	if authErr != nil {
		recorded = "transient: " + authErr.Error()
	}
	attempt := PaymentAttempt{
		ID:              uuid.NewString(),
		SaleID:          saleID,
		RequestedAmount: amount,
		Outcome:         recorded,
		AttemptedAt:     c.now(),
	}
	// The journal never overrides the saga result.
	if err := c.ledger.RecordAttempt(ctx, attempt); err != nil {
		c.logger.Error("journal write failed",
			zap.Int64("sale_id", saleID), zap.Error(err))
	}
}

func (c *Coordinator) emit(saleID int64, status PaymentStatus) {
	if c.publish == nil {
		return
	}
	c.publish(SaleEvent{SaleID: saleID, Status: status, At: c.now()})
}
