package checkoutdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tillpoint/internal/checkout"
)

// PostgresLedger persists sale headers, lines, and the payment-attempt
// journal in Postgres. The header/lines pair is written in one transaction;
// the conditional status update is a single guarded UPDATE, which is what
// makes the saga safe under multi-process deployment.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger constructs a SaleLedger backed by Postgres.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// NewPostgresLedgerWithSchema initializes the schema then returns the ledger.
func NewPostgresLedgerWithSchema(ctx context.Context, db *sql.DB) (*PostgresLedger, error) {
	ledger := NewPostgresLedger(db)
	if err := ledger.InitSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// InitSchema creates the sale tables if they do not exist.
func (l *PostgresLedger) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sales_hdr (
			id BIGSERIAL PRIMARY KEY,
			sale_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			total NUMERIC(12,2) NOT NULL,
			payment_status TEXT NOT NULL DEFAULT 'Unpaid',
			status_changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sales_lin (
			hdr_id BIGINT NOT NULL,
			line_no INT NOT NULL,
			sku TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			PRIMARY KEY (hdr_id, line_no),
			FOREIGN KEY (hdr_id) REFERENCES sales_hdr(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS payment_attempts (
			attempt_id TEXT PRIMARY KEY,
			sale_id BIGINT NOT NULL,
			requested_amount NUMERIC(12,2) NOT NULL,
			outcome TEXT NOT NULL,
			attempted_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// CreateSale writes the header and every line in one transaction. Any
// failure rolls back the whole unit; a reader never observes a header
// without its lines.
func (l *PostgresLedger) CreateSale(ctx context.Context, items []checkout.LineItem) (checkout.SaleRecord, error) {
	if err := checkout.ValidateItems(items); err != nil {
		return checkout.SaleRecord{}, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return checkout.SaleRecord{}, fmt.Errorf("%w: begin: %v", checkout.ErrPersistence, err)
	}

	record := checkout.SaleRecord{
		Total:         checkout.SumItems(items),
		PaymentStatus: checkout.StatusUnpaid,
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO sales_hdr (total, payment_status)
		VALUES ($1, $2)
		RETURNING id, sale_date, status_changed_at`,
		record.Total, record.PaymentStatus,
	)
	if err := row.Scan(&record.ID, &record.CreatedAt, &record.StatusChangedAt); err != nil {
		_ = tx.Rollback()
		return checkout.SaleRecord{}, fmt.Errorf("%w: insert header: %v", checkout.ErrPersistence, err)
	}

	for i, item := range items {
		line := checkout.SaleLine{LineNo: i + 1, SKU: item.SKU, Price: item.Price}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales_lin (hdr_id, line_no, sku, price)
			VALUES ($1, $2, $3, $4)`,
			record.ID, line.LineNo, line.SKU, line.Price,
		); err != nil {
			_ = tx.Rollback()
			return checkout.SaleRecord{}, fmt.Errorf("%w: insert line %d: %v", checkout.ErrPersistence, line.LineNo, err)
		}
		record.Lines = append(record.Lines, line)
	}

	if err := tx.Commit(); err != nil {
		return checkout.SaleRecord{}, fmt.Errorf("%w: commit: %v", checkout.ErrPersistence, err)
	}

	return record, nil
}

// GetSale reads the header and its lines ordered by line_no.
func (l *PostgresLedger) GetSale(ctx context.Context, id int64) (checkout.SaleRecord, error) {
	var record checkout.SaleRecord
	var status string

	row := l.db.QueryRowContext(ctx, `
		SELECT id, sale_date, total, payment_status, status_changed_at
		FROM sales_hdr
		WHERE id = $1`,
		id,
	)
	if err := row.Scan(&record.ID, &record.CreatedAt, &record.Total, &status, &record.StatusChangedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkout.SaleRecord{}, checkout.ErrSaleNotFound
		}
		return checkout.SaleRecord{}, err
	}

	parsed, err := checkout.ParsePaymentStatus(status)
	if err != nil {
		return checkout.SaleRecord{}, err
	}
	record.PaymentStatus = parsed

	rows, err := l.db.QueryContext(ctx, `
		SELECT line_no, sku, price
		FROM sales_lin
		WHERE hdr_id = $1
		ORDER BY line_no`,
		id,
	)
	if err != nil {
		return checkout.SaleRecord{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var line checkout.SaleLine
		if err := rows.Scan(&line.LineNo, &line.SKU, &line.Price); err != nil {
			return checkout.SaleRecord{}, err
		}
		record.Lines = append(record.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return checkout.SaleRecord{}, err
	}

	return record, nil
}

// UpdatePaymentStatus performs the conditional status write. With
// expectations present it is a compare-and-set scoped to the sale row; zero
// affected rows is disambiguated into ErrSaleNotFound vs ErrStatusConflict.
func (l *PostgresLedger) UpdatePaymentStatus(ctx context.Context, id int64, next checkout.PaymentStatus, expect ...checkout.PaymentStatus) error {
	query := `UPDATE sales_hdr SET payment_status = $2, status_changed_at = NOW() WHERE id = $1`
	args := []any{id, string(next)}
	if len(expect) > 0 {
		placeholders := make([]string, len(expect))
		for i, status := range expect {
			placeholders[i] = fmt.Sprintf("$%d", i+3)
			args = append(args, string(status))
		}
		query += " AND payment_status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	row := l.db.QueryRowContext(ctx, `SELECT payment_status FROM sales_hdr WHERE id = $1`, id)
	var current string
	switch scanErr := row.Scan(&current); {
	case scanErr == nil:
		return checkout.ErrStatusConflict
	case errors.Is(scanErr, sql.ErrNoRows):
		return checkout.ErrSaleNotFound
	default:
		return scanErr
	}
}

// RecordAttempt appends a journal row.
func (l *PostgresLedger) RecordAttempt(ctx context.Context, attempt checkout.PaymentAttempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (attempt_id, sale_id, requested_amount, outcome, attempted_at)
		VALUES ($1, $2, $3, $4, $5)`,
		attempt.ID, attempt.SaleID, attempt.RequestedAmount, attempt.Outcome, attempt.AttemptedAt,
	)
	return err
}

// StalePending lists sales whose Pending window outlived the grace period.
// Lines are not loaded; the monitor only needs identity and age.
func (l *PostgresLedger) StalePending(ctx context.Context, olderThan time.Duration) ([]checkout.SaleRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, sale_date, total, status_changed_at
		FROM sales_hdr
		WHERE payment_status = $1 AND status_changed_at < NOW() - make_interval(secs => $2)
		ORDER BY status_changed_at`,
		string(checkout.StatusPending), olderThan.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []checkout.SaleRecord
	for rows.Next() {
		record := checkout.SaleRecord{PaymentStatus: checkout.StatusPending}
		if err := rows.Scan(&record.ID, &record.CreatedAt, &record.Total, &record.StatusChangedAt); err != nil {
			return nil, err
		}
		stale = append(stale, record)
	}
	return stale, rows.Err()
}
