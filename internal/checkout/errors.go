package checkout

import "errors"

// ErrEmptySale signals a checkout with no line items.
var ErrEmptySale = errors.New("sale requires at least one line item")

// ErrBlankSKU signals a line item without a SKU.
var ErrBlankSKU = errors.New("line item sku is blank")

// ErrNegativePrice signals a line item with a negative price.
var ErrNegativePrice = errors.New("line item price is negative")

// ErrPersistence signals the ledger was unreachable or a write could not be
// committed. No partial state is visible; the whole operation is retryable.
var ErrPersistence = errors.New("ledger write failed")

// ErrSaleNotFound signals an unknown sale id.
var ErrSaleNotFound = errors.New("sale not found")

// ErrStatusConflict signals a conditional status update lost against a
// concurrent reconciliation attempt.
var ErrStatusConflict = errors.New("payment status changed concurrently")

// ErrAmountMismatch signals the client-supplied amount disagrees with the
// recorded total.
var ErrAmountMismatch = errors.New("amount does not match recorded total")

// ErrPaymentIndeterminate signals the gateway call could not confirm an
// outcome. The charge may or may not have happened; callers must not read
// this as a decline.
var ErrPaymentIndeterminate = errors.New("payment outcome indeterminate")

// IsValidation reports whether err belongs to the validation family, which
// is rejected before any write happens.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptySale) ||
		errors.Is(err, ErrBlankSKU) ||
		errors.Is(err, ErrNegativePrice)
}
