package checkout

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus captures where a sale sits in the payment lifecycle.
type PaymentStatus string

const (
	StatusUnpaid   PaymentStatus = "Unpaid"
	StatusPending  PaymentStatus = "Pending"
	StatusPaid     PaymentStatus = "Paid"
	StatusDeclined PaymentStatus = "Declined"
	StatusFailed   PaymentStatus = "Failed"
)

// Terminal reports whether no further transition is permitted.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusDeclined, StatusFailed:
		return true
	}
	return false
}

// ParsePaymentStatus validates a stored status string.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(raw) {
	case StatusUnpaid, StatusPending, StatusPaid, StatusDeclined, StatusFailed:
		return PaymentStatus(raw), nil
	}
	return "", fmt.Errorf("unknown payment status %q", raw)
}

// LineItem is a single item as submitted at checkout.
type LineItem struct {
	SKU   string          `json:"sku"`
	Price decimal.Decimal `json:"price"`
}

// SaleLine is a persisted line row. LineNo is 1-based and gap-free,
// in submission order.
type SaleLine struct {
	LineNo int             `json:"line_no"`
	SKU    string          `json:"sku"`
	Price  decimal.Decimal `json:"price"`
}

// SaleRecord is a sale header with its lines. Total is a snapshot taken at
// creation, equal to the sum of line prices; it is never recomputed.
type SaleRecord struct {
	ID              int64           `json:"sale_id"`
	CreatedAt       time.Time       `json:"created_at"`
	Lines           []SaleLine      `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
}

// PaymentAttempt is one journaled reconciliation attempt against a sale.
// The journal is informational; the official outcome lives on the header.
type PaymentAttempt struct {
	ID              string          `json:"attempt_id"`
	SaleID          int64           `json:"sale_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Outcome         string          `json:"outcome"`
	AttemptedAt     time.Time       `json:"attempted_at"`
}

// SaleEvent is broadcast on the realtime feed when a sale is created or its
// payment status changes.
type SaleEvent struct {
	SaleID int64         `json:"sale_id"`
	Status PaymentStatus `json:"status"`
	At     time.Time     `json:"at"`
}

// SumItems computes the total for a set of line items.
func SumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price)
	}
	return total
}

// ValidateItems rejects malformed checkout input before any write.
func ValidateItems(items []LineItem) error {
	if len(items) == 0 {
		return ErrEmptySale
	}
	for i, item := range items {
		if item.SKU == "" {
			return fmt.Errorf("%w: line %d", ErrBlankSKU, i+1)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("%w: line %d", ErrNegativePrice, i+1)
		}
	}
	return nil
}
