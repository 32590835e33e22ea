package quality_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/pkg/types"
)

func TestFirstObservationEstablishesBaselineOnly(t *testing.T) {
	m := quality.NewMonitor(zap.NewNop())
	changes := m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.6, AvgSize: decimal.NewFromInt(100), At: time.Now()})
	if len(changes) != 0 {
		t.Fatalf("expected no changes on first observation, got %v", changes)
	}
}

func TestWinRateDropDetected(t *testing.T) {
	m := quality.NewMonitor(zap.NewNop())
	now := time.Now()
	m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.65, AvgSize: decimal.NewFromInt(100), At: now})
	changes := m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.40, AvgSize: decimal.NewFromInt(100), At: now.Add(time.Hour)})
	if len(changes) != 1 || changes[0].ChangeType != quality.ChangeWinRateDrop {
		t.Fatalf("expected a single win-rate-drop change, got %v", changes)
	}
	if changes[0].Severity != types.SeverityCritical {
		t.Fatalf("expected Critical severity for a 0.25 drop, got %s", changes[0].Severity)
	}
}

func TestDedupWithinOneHour(t *testing.T) {
	m := quality.NewMonitor(zap.NewNop())
	now := time.Now()
	m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.65, At: now})
	m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.48, At: now.Add(time.Minute)})
	again := m.Update(quality.Observation{Wallet: "0xw", WinRate: 0.48, At: now.Add(2 * time.Minute)})
	for _, c := range again {
		if c.ChangeType == quality.ChangeWinRateDrop {
			t.Fatalf("expected dedup to suppress a repeated win-rate-drop alert within 1h")
		}
	}
}

func TestRotationRemovesAndCoolsDown(t *testing.T) {
	m := quality.NewMonitor(zap.NewNop())
	now := time.Now()
	m.Reconcile("0xw", decimal.NewFromFloat(6.5), now)
	decision := m.Reconcile("0xw", decimal.NewFromFloat(4.8), now.Add(time.Hour))
	if decision.Action != types.ActionExclude {
		t.Fatalf("expected removal on >=1.0 decline below 5.0, got %+v", decision)
	}

	withinCooldown := m.Reconcile("0xw", decimal.NewFromFloat(8.0), now.Add(24*time.Hour))
	if withinCooldown.Action != types.ActionExclude {
		t.Fatalf("expected cooldown to suppress re-addition even with score recovery, got %+v", withinCooldown)
	}

	afterCooldown := m.Reconcile("0xw", decimal.NewFromFloat(9.5), now.Add(8*24*time.Hour))
	if afterCooldown.Action != types.ActionMonitor {
		t.Fatalf("expected re-addition after cooldown with score >6.0, got %+v", afterCooldown)
	}
}
