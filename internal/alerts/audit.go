// Package alerts formats and dispatches operator-facing alerts over
// pkg/external.Alerter and owns the append-only audit.log (§6.B). Grounded
// on utils/alerts.py's TelegramAlertManager: per-level cooldown to keep a
// flood of low-severity alerts from drowning out the channel, with
// Critical alerts always bypassing it.
package alerts

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditLogger appends tab-separated entries to audit.log:
// <iso8601>\t<component>\t<action>\t<details-json>\n (§6.B). Written
// through the alert Dispatcher; internal/health and internal/cohort send
// alerts straight to the Alerter and write no audit lines.
// internal/risk.Manager keeps its own strategy-scoped writer onto the same
// file path rather than being re-plumbed through this type, to avoid
// disturbing its already-established constructor shape (see DESIGN.md).
type AuditLogger struct {
	mu   sync.Mutex
	path string
}

// NewAuditLogger creates an AuditLogger writing to path.
func NewAuditLogger(path string) *AuditLogger {
	return &AuditLogger{path: path}
}

// Append writes one audit line. The caller supplies details as a
// pre-serialized JSON fragment, matching internal/risk's convention.
func (l *AuditLogger) Append(component, action, details string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339), component, action, details)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}
