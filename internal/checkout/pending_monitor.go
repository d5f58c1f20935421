package checkout

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PendingMonitor periodically scans for sales stuck in Pending past the
// grace period. A stuck Pending sale means a process died inside the
// reconciliation window; the monitor surfaces it (gauge and log) so an
// operator can run the gateway-side reconciliation sweep. It never resolves
// anything itself.
type PendingMonitor struct {
	ledger   SaleLedger
	logger   *zap.Logger
	grace    time.Duration
	interval time.Duration
	gauge    func(int)
}

// NewPendingMonitor constructs a monitor. gauge receives the current count
// of stale Pending sales on every scan and may be nil.
func NewPendingMonitor(ledger SaleLedger, logger *zap.Logger, grace, interval time.Duration, gauge func(int)) *PendingMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingMonitor{
		ledger:   ledger,
		logger:   logger,
		grace:    grace,
		interval: interval,
		gauge:    gauge,
	}
}

// Run scans until the context ends.
func (m *PendingMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *PendingMonitor) scan(ctx context.Context) {
	stale, err := m.ledger.StalePending(ctx, m.grace)
	if err != nil {
		m.logger.Error("stale pending scan failed", zap.Error(err))
		return
	}
	if m.gauge != nil {
		m.gauge(len(stale))
	}
	for _, sale := range stale {
		m.logger.Warn("sale stuck in Pending; needs reconciliation sweep",
			zap.Int64("sale_id", sale.ID),
			zap.Time("pending_since", sale.StatusChangedAt),
		)
	}
}
