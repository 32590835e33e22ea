package alerts_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/alerts"
	"github.com/driftscout/polycopy/pkg/external"
)

func TestDispatcherSuppressesWithinCooldown(t *testing.T) {
	memAlerter := &external.MemoryAlerter{}
	d := alerts.NewDispatcher(zap.NewNop(), memAlerter, nil, time.Hour)
	ctx := context.Background()

	if err := d.Send(ctx, external.AlertMedium, "cohort", "refresh_skipped", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Send(ctx, external.AlertMedium, "cohort", "refresh_skipped", "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(memAlerter.Snapshot()); got != 1 {
		t.Fatalf("expected the second Medium alert to be suppressed by cooldown, got %d sent", got)
	}
}

func TestDispatcherNeverSuppressesCritical(t *testing.T) {
	memAlerter := &external.MemoryAlerter{}
	d := alerts.NewDispatcher(zap.NewNop(), memAlerter, nil, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := d.Send(ctx, external.AlertCritical, "risk", "kill_switch", "halt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(memAlerter.Snapshot()); got != 3 {
		t.Fatalf("expected every Critical alert to bypass the cooldown, got %d sent", got)
	}
}

func TestDispatcherWritesAuditEntryEvenWhenSuppressed(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")
	audit := alerts.NewAuditLogger(auditPath)
	d := alerts.NewDispatcher(zap.NewNop(), &external.MemoryAlerter{}, audit, time.Hour)
	ctx := context.Background()

	_ = d.Send(ctx, external.AlertLow, "monitor", "fallback_activated", "ws down")
	_ = d.Send(ctx, external.AlertLow, "monitor", "fallback_activated", "ws down again")

	raw, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines even though the second alert was suppressed, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "monitor\tfallback_activated") {
		t.Fatalf("unexpected audit line shape: %q", lines[0])
	}
}
