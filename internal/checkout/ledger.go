package checkout

import (
	"context"
	"sync"
	"time"
)

// SaleLedger is the durable store of sale headers and lines. Creation is
// all-or-nothing; the conditional status update is the single
// synchronization primitive of the payment saga.
type SaleLedger interface {
	// CreateSale persists the header and all lines as one atomic unit and
	// returns the materialized record. On failure no partial state is
	// visible and the whole call may be retried.
	CreateSale(ctx context.Context, items []LineItem) (SaleRecord, error)

	// GetSale returns the sale with its lines, or ErrSaleNotFound.
	GetSale(ctx context.Context, id int64) (SaleRecord, error)

	// UpdatePaymentStatus sets the payment status. When expectations are
	// supplied, the write happens only if the stored status matches one of
	// them; otherwise ErrStatusConflict is returned and nothing changes.
	UpdatePaymentStatus(ctx context.Context, id int64, next PaymentStatus, expect ...PaymentStatus) error

	// RecordAttempt appends to the payment-attempt journal.
	RecordAttempt(ctx context.Context, attempt PaymentAttempt) error

	// StalePending lists sales stuck in Pending for longer than olderThan.
	StalePending(ctx context.Context, olderThan time.Duration) ([]SaleRecord, error)
}

// NewInMemoryLedger constructs an in-memory SaleLedger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		sales: make(map[int64]*SaleRecord),
		now:   time.Now,
	}
}

// InMemoryLedger keeps sales in a map. It honors the same conditional-update
// contract as the Postgres ledger and backs tests and DSN-less deployments.
type InMemoryLedger struct {
	mu       sync.Mutex
	sales    map[int64]*SaleRecord
	attempts []PaymentAttempt
	nextID   int64
	now      func() time.Time
}

func (l *InMemoryLedger) CreateSale(ctx context.Context, items []LineItem) (SaleRecord, error) {
	if err := ctx.Err(); err != nil {
		return SaleRecord{}, err
	}
	if err := ValidateItems(items); err != nil {
		return SaleRecord{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	now := l.now()
	record := &SaleRecord{
		ID:              l.nextID,
		CreatedAt:       now,
		Total:           SumItems(items),
		PaymentStatus:   StatusUnpaid,
		StatusChangedAt: now,
	}
	for i, item := range items {
		record.Lines = append(record.Lines, SaleLine{
			LineNo: i + 1,
			SKU:    item.SKU,
			Price:  item.Price,
		})
	}
	l.sales[record.ID] = record
	return cloneSale(record), nil
}

func (l *InMemoryLedger) GetSale(ctx context.Context, id int64) (SaleRecord, error) {
	if err := ctx.Err(); err != nil {
		return SaleRecord{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.sales[id]
	if !ok {
		return SaleRecord{}, ErrSaleNotFound
	}
	return cloneSale(record), nil
}

func (l *InMemoryLedger) UpdatePaymentStatus(ctx context.Context, id int64, next PaymentStatus, expect ...PaymentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.sales[id]
	if !ok {
		return ErrSaleNotFound
	}
	if len(expect) > 0 && !statusIn(record.PaymentStatus, expect) {
		return ErrStatusConflict
	}
	record.PaymentStatus = next
	record.StatusChangedAt = l.now()
	return nil
}

func (l *InMemoryLedger) RecordAttempt(ctx context.Context, attempt PaymentAttempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.attempts = append(l.attempts, attempt)
	return nil
}

func (l *InMemoryLedger) StalePending(ctx context.Context, olderThan time.Duration) ([]SaleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	var stale []SaleRecord
	for _, record := range l.sales {
		if record.PaymentStatus == StatusPending && record.StatusChangedAt.Before(cutoff) {
			stale = append(stale, cloneSale(record))
		}
	}
	return stale, nil
}

// Attempts returns the journaled attempts (for testing/inspection).
func (l *InMemoryLedger) Attempts() []PaymentAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PaymentAttempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

func statusIn(status PaymentStatus, set []PaymentStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func cloneSale(record *SaleRecord) SaleRecord {
	out := *record
	out.Lines = make([]SaleLine, len(record.Lines))
	copy(out.Lines, record.Lines)
	return out
}
