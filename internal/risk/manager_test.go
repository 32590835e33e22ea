package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/risk"
	"github.com/driftscout/polycopy/pkg/types"
)

func TestDailyLossCircuitBreakerActivates(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)

	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-80))
	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-25))

	allowance := m.CheckAllowed(types.StrategyCopyTrading, risk.Trade{MarketID: "m1", Amount: decimal.NewFromInt(10)}, decimal.Zero, nil)
	if allowance.Allowed {
		t.Fatalf("expected circuit breaker to block after $105 daily loss vs $100 max")
	}
	if allowance.RemainingCooldown <= 0 || allowance.RemainingCooldown > time.Hour {
		t.Fatalf("expected remaining cooldown within (0, 1h], got %s", allowance.RemainingCooldown)
	}
}

func TestMaxPositionSizeBlocks(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)

	allowance := m.CheckAllowed(types.StrategyCopyTrading, risk.Trade{MarketID: "m1", Amount: decimal.NewFromInt(10000)}, decimal.Zero, nil)
	if allowance.Allowed {
		t.Fatalf("expected trade exceeding max position size to be blocked")
	}
}

func TestDisabledStrategyBlocked(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)

	allowance := m.CheckAllowed(types.StrategyEndgameSweep, risk.Trade{MarketID: "m1", Amount: decimal.NewFromInt(10)}, decimal.Zero, nil)
	if allowance.Allowed {
		t.Fatalf("expected disabled strategy to be blocked")
	}
}

func TestCorrelationBlocksAdmission(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)
	m.SetCorrelation("mA", "mB", 0.95)

	allowance := m.CheckAllowed(types.StrategyCopyTrading, risk.Trade{MarketID: "mB", Amount: decimal.NewFromInt(10)}, decimal.Zero, []string{"mA"})
	if allowance.Allowed {
		t.Fatalf("expected high correlation with an open position to block admission")
	}
}

func TestVolatilityAdjustmentReducesSize(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, func() float64 { return 50 })

	allowance := m.CheckAllowed(types.StrategyCopyTrading, risk.Trade{MarketID: "m1", Amount: decimal.NewFromInt(100)}, decimal.Zero, nil)
	if !allowance.Allowed {
		t.Fatalf("expected trade to be allowed with reduced size, got blocked: %s", allowance.Reason)
	}
	if !allowance.AdjustedSize.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected size reduced to $50 (factor 0.5 floor at vol=50), got %s", allowance.AdjustedSize)
	}
}

func TestDailyResetZeroesLossAndPreservesTotals(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)

	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-40))
	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-1))
	before := m.State()[types.StrategyCopyTrading]
	if before.TotalLoss.IsZero() {
		t.Fatalf("expected nonzero total loss before reset")
	}

	m.DailyReset(time.Now().UTC().Add(25 * time.Hour))

	after := m.State()[types.StrategyCopyTrading]
	if !after.DailyLoss.IsZero() || after.ConsecutiveLosses != 0 {
		t.Fatalf("expected dailyLoss and consecutiveLosses zeroed after reset, got %+v", after)
	}
	if !after.TotalLoss.Equal(before.TotalLoss) {
		t.Fatalf("expected totalLoss preserved across daily reset, got %s want %s", after.TotalLoss, before.TotalLoss)
	}
}

func TestResetClearsBreakerPreservingTotals(t *testing.T) {
	profiles := risk.DefaultProfiles()
	m := risk.New(zap.NewNop(), t.TempDir(), profiles, nil)
	m.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-150))

	state := m.State()[types.StrategyCopyTrading]
	if !state.Active {
		t.Fatalf("expected breaker active after exceeding daily loss limit")
	}

	m.Reset(types.StrategyCopyTrading, "manual override")
	state = m.State()[types.StrategyCopyTrading]
	if state.Active {
		t.Fatalf("expected breaker inactive after Reset")
	}
	if state.TotalLoss.IsZero() {
		t.Fatalf("expected TotalLoss preserved across Reset")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	profiles := risk.DefaultProfiles()
	m1 := risk.New(zap.NewNop(), dir, profiles, nil)
	m1.RecordResult(types.StrategyCopyTrading, false, decimal.NewFromFloat(-30))

	m2 := risk.New(zap.NewNop(), dir, profiles, nil)
	want := m1.State()[types.StrategyCopyTrading]
	got := m2.State()[types.StrategyCopyTrading]
	if !got.DailyLoss.Equal(want.DailyLoss) || got.FailedTrades != want.FailedTrades {
		t.Fatalf("expected reloaded state to match persisted state, got %+v want %+v", got, want)
	}
}
