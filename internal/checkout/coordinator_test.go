package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubGateway struct {
	mu      sync.Mutex
	calls   int32
	outcome Outcome
	err     error
	delay   time.Duration
	lastID  int64
	lastAmt decimal.Decimal
}

func (g *stubGateway) Authorize(ctx context.Context, saleID int64, amount decimal.Decimal, cardNumber string) (Outcome, error) {
	atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.lastID = saleID
	g.lastAmt = amount
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(g.delay):
		}
	}
	return g.outcome, g.err
}

func (g *stubGateway) callCount() int {
	return int(atomic.LoadInt32(&g.calls))
}

func newTestSale(t *testing.T, ledger *InMemoryLedger) SaleRecord {
	t.Helper()
	record, err := ledger.CreateSale(context.Background(), []LineItem{
		{SKU: "A", Price: price("10.00")},
		{SKU: "B", Price: price("5.50")},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	return record
}

func TestCheckout_Success(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	coordinator := NewCoordinator(ledger, &stubGateway{}, nil)

	record, err := coordinator.Checkout(context.Background(), []LineItem{
		{SKU: "A", Price: price("10.00")},
		{SKU: "B", Price: price("5.50")},
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !record.Total.Equal(price("15.50")) {
		t.Fatalf("unexpected total %s", record.Total)
	}
	if record.Lines[0].LineNo != 1 || record.Lines[1].LineNo != 2 {
		t.Fatalf("unexpected line numbers: %+v", record.Lines)
	}
}

func TestCheckout_ValidationBeforeWrite(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	coordinator := NewCoordinator(ledger, &stubGateway{}, nil)

	if _, err := coordinator.Checkout(context.Background(), nil); !errors.Is(err, ErrEmptySale) {
		t.Fatalf("expected ErrEmptySale, got %v", err)
	}
}

type flakyLedger struct {
	*InMemoryLedger
	failures int
	attempts int
}

func (l *flakyLedger) CreateSale(ctx context.Context, items []LineItem) (SaleRecord, error) {
	l.attempts++
	if l.attempts <= l.failures {
		return SaleRecord{}, ErrPersistence
	}
	return l.InMemoryLedger.CreateSale(ctx, items)
}

func TestCheckout_RetriesPersistenceFailures(t *testing.T) {
	t.Parallel()

	ledger := &flakyLedger{InMemoryLedger: NewInMemoryLedger(), failures: 2}
	coordinator := NewCoordinator(ledger, &stubGateway{}, nil,
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			ShouldRetry: func(err error) bool { return errors.Is(err, ErrPersistence) },
		}),
	)

	record, err := coordinator.Checkout(context.Background(), []LineItem{{SKU: "A", Price: price("1.00")}})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if ledger.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", ledger.attempts)
	}
	if record.ID == 0 {
		t.Fatalf("expected a created sale")
	}
}

func TestPay_Paid(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{outcome: Outcome{Status: StatusPaid, Raw: "Paid"}}
	coordinator := NewCoordinator(ledger, gateway, nil)
	sale := newTestSale(t, ledger)

	result, err := coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if result.Status != StatusPaid {
		t.Fatalf("expected Paid, got %s", result.Status)
	}

	stored, _ := ledger.GetSale(context.Background(), sale.ID)
	if stored.PaymentStatus != StatusPaid {
		t.Fatalf("stored status %s, want Paid", stored.PaymentStatus)
	}
	if gateway.callCount() != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gateway.callCount())
	}
	if attempts := ledger.Attempts(); len(attempts) != 1 || attempts[0].SaleID != sale.ID {
		t.Fatalf("expected 1 journaled attempt for sale %d, got %+v", sale.ID, attempts)
	}
}

func TestPay_AmountMismatch(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{outcome: Outcome{Status: StatusPaid, Raw: "Paid"}}
	coordinator := NewCoordinator(ledger, gateway, nil)
	sale := newTestSale(t, ledger)

	_, err := coordinator.Pay(context.Background(), sale.ID, "00520205", price("10.00"))
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if gateway.callCount() != 0 {
		t.Fatalf("gateway must not be called on mismatch")
	}

	stored, _ := ledger.GetSale(context.Background(), sale.ID)
	if stored.PaymentStatus != StatusUnpaid {
		t.Fatalf("status changed on mismatch: %s", stored.PaymentStatus)
	}
}

func TestPay_UnknownSale(t *testing.T) {
	t.Parallel()

	coordinator := NewCoordinator(NewInMemoryLedger(), &stubGateway{}, nil)
	_, err := coordinator.Pay(context.Background(), 99, "00520205", price("1.00"))
	if !errors.Is(err, ErrSaleNotFound) {
		t.Fatalf("expected ErrSaleNotFound, got %v", err)
	}
}

func TestPay_TransientFailureReArmsRetry(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{err: ErrGatewayTransient}
	coordinator := NewCoordinator(ledger, gateway, nil)
	sale := newTestSale(t, ledger)

	result, err := coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
	if !errors.Is(err, ErrPaymentIndeterminate) {
		t.Fatalf("expected ErrPaymentIndeterminate, got %v", err)
	}
	if result.Status != StatusUnpaid {
		t.Fatalf("result status %s, want Unpaid", result.Status)
	}

	stored, _ := ledger.GetSale(context.Background(), sale.ID)
	if stored.PaymentStatus != StatusUnpaid {
		t.Fatalf("stored status %s, want Unpaid after transient failure", stored.PaymentStatus)
	}

	// The sale is retryable: a later attempt succeeds.
	gateway.err = nil
	gateway.outcome = Outcome{Status: StatusPaid, Raw: "Paid"}
	result, err = coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
	if err != nil {
		t.Fatalf("retry Pay: %v", err)
	}
	if result.Status != StatusPaid {
		t.Fatalf("expected Paid after retry, got %s", result.Status)
	}
}

func TestPay_TerminalStatusIsNeverOverwritten(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{outcome: Outcome{Status: StatusDeclined, Raw: "Declined"}}
	coordinator := NewCoordinator(ledger, gateway, nil)
	sale := newTestSale(t, ledger)

	result, err := coordinator.Pay(context.Background(), sale.ID, "", price("15.50"))
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if result.Status != StatusDeclined {
		t.Fatalf("expected Declined, got %s", result.Status)
	}

	// A second call returns the stored Declined without a new gateway call,
	// even though the gateway would now say Paid.
	gateway.outcome = Outcome{Status: StatusPaid, Raw: "Paid"}
	result, err = coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
	if err != nil {
		t.Fatalf("second Pay: %v", err)
	}
	if result.Status != StatusDeclined {
		t.Fatalf("terminal status overwritten: got %s", result.Status)
	}
	if gateway.callCount() != 1 {
		t.Fatalf("expected 1 gateway call total, got %d", gateway.callCount())
	}
}

func TestPay_ConcurrentCallsShareOneGatewayCall(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{
		outcome: Outcome{Status: StatusPaid, Raw: "Paid"},
		delay:   50 * time.Millisecond,
	}
	coordinator := NewCoordinator(ledger, gateway, nil)
	coordinator.settlePoll = 5 * time.Millisecond
	sale := newTestSale(t, ledger)

	const callers = 4
	results := make([]PaymentResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
		}(i)
	}
	wg.Wait()

	if gateway.callCount() != 1 {
		t.Fatalf("expected exactly 1 gateway call, got %d", gateway.callCount())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Status != StatusPaid {
			t.Fatalf("caller %d: expected Paid, got %s", i, results[i].Status)
		}
	}
}

func TestPay_EmitsEvents(t *testing.T) {
	t.Parallel()

	ledger := NewInMemoryLedger()
	gateway := &stubGateway{outcome: Outcome{Status: StatusPaid, Raw: "Paid"}}

	var mu sync.Mutex
	var events []SaleEvent
	coordinator := NewCoordinator(ledger, gateway, nil,
		WithEventPublisher(func(e SaleEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}),
	)

	record, err := coordinator.Checkout(context.Background(), []LineItem{{SKU: "A", Price: price("2.00")}})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := coordinator.Pay(context.Background(), record.ID, "00520205", price("2.00")); err != nil {
		t.Fatalf("Pay: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Status != StatusUnpaid || events[1].Status != StatusPaid {
		t.Fatalf("unexpected event statuses: %+v", events)
	}
}

func TestPay_JournalFailureDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	ledger := &journalFailLedger{InMemoryLedger: NewInMemoryLedger()}
	gateway := &stubGateway{outcome: Outcome{Status: StatusPaid, Raw: "Paid"}}
	coordinator := NewCoordinator(ledger, gateway, nil)
	sale := newTestSale(t, ledger.InMemoryLedger)

	result, err := coordinator.Pay(context.Background(), sale.ID, "00520205", price("15.50"))
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if result.Status != StatusPaid {
		t.Fatalf("expected Paid, got %s", result.Status)
	}
}

type journalFailLedger struct {
	*InMemoryLedger
}

func (l *journalFailLedger) RecordAttempt(ctx context.Context, attempt PaymentAttempt) error {
	return errors.New("journal unavailable")
}
