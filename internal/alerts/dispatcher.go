package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

const defaultCooldown = 60 * time.Second

// Dispatcher wraps an external.Alerter with a per-level cooldown and an
// audit trail. Critical alerts always bypass the cooldown; every other
// level is suppressed (logged at Debug, not sent) if the same level fired
// within the window.
type Dispatcher struct {
	logger   *zap.Logger
	alerter  external.Alerter
	audit    *AuditLogger
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[external.AlertLevel]time.Time
}

// NewDispatcher creates a Dispatcher. cooldown defaults to 60s (§ alert
// cooldown, from utils/alerts.py) when zero.
func NewDispatcher(logger *zap.Logger, alerter external.Alerter, audit *AuditLogger, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Dispatcher{
		logger:   logger,
		alerter:  alerter,
		audit:    audit,
		cooldown: cooldown,
		lastSent: make(map[external.AlertLevel]time.Time),
	}
}

// Send dispatches message at level, recording it to the audit log under
// component/action regardless of whether the cooldown suppresses the
// outbound alert itself.
func (d *Dispatcher) Send(ctx context.Context, level external.AlertLevel, component, action, message string) error {
	if d.audit != nil {
		_ = d.audit.Append(component, action, fmt.Sprintf("%q", message))
	}

	d.mu.Lock()
	now := time.Now()
	if level != external.AlertCritical {
		if last, ok := d.lastSent[level]; ok && now.Sub(last) < d.cooldown {
			d.mu.Unlock()
			d.logger.Debug("alert suppressed by cooldown",
				zap.String("level", string(level)), zap.String("component", component))
			return nil
		}
	}
	d.lastSent[level] = now
	d.mu.Unlock()

	if d.alerter == nil {
		return nil
	}
	return d.alerter.SendAlert(ctx, level, message)
}

// FormatTrade renders a trade-execution alert in the teacher's
// structured-but-human-readable style.
func FormatTrade(trade types.DetectedTrade, order external.OrderResult) string {
	return fmt.Sprintf("TRADE EXECUTED\nMarket: %s\nSide: %s\nAmount: %s\nPrice: %s\nOrder: %s\nWallet: %s",
		trade.MarketID, trade.Side, trade.Amount.StringFixed(4), trade.Price.StringFixed(4),
		order.OrderID, trade.WalletAddress)
}

// FormatPerformanceReport renders the 5-minute cohort snapshot (§3.A).
func FormatPerformanceReport(r types.PerformanceReport) string {
	return fmt.Sprintf("PERFORMANCE REPORT\nCohort size: %d\nOpen positions: %d\nToday P&L: %s",
		r.CohortSize, r.OpenPositions, r.TodayPnL.StringFixed(2))
}
