package quality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/types"
)

// BehaviorChangeType enumerates the change classes in §4.4.
type BehaviorChangeType string

const (
	ChangeWinRateDrop       BehaviorChangeType = "win_rate_drop"
	ChangeWinRateGain       BehaviorChangeType = "win_rate_gain"
	ChangeRiskIncrease      BehaviorChangeType = "risk_increase"
	ChangeCategoryShift     BehaviorChangeType = "category_shift"
	ChangeVolatilityIncrease BehaviorChangeType = "volatility_increase"
)

// BehaviorChange is a single detected deviation from a wallet's baseline.
type BehaviorChange struct {
	Wallet        types.Address
	ChangeType    BehaviorChangeType
	PreviousValue float64
	CurrentValue  float64
	Magnitude     float64
	Severity      types.RedFlagSeverity
	DetectionTime time.Time
}

// baseline is the per-wallet reference point compared against each
// observation (§4.4: "first observed metrics", replaced on High/Critical
// changes).
type baseline struct {
	winRate       float64
	avgSize       decimal.Decimal
	categories    map[types.Category]struct{}
	volatility    float64
	establishedAt time.Time
}

// rotationState tracks the 7-day cooldown described in §4.4.
type rotationState struct {
	removed      bool
	cooldownEnds time.Time
	lastComposite decimal.Decimal
}

// Monitor is the WalletBehaviorMonitor.
type Monitor struct {
	logger *zap.Logger

	mu         sync.Mutex
	baselines  map[types.Address]*baseline
	rotations  map[types.Address]*rotationState
	lastAlert  map[string]time.Time // dedup key: wallet|changeType
}

// NewMonitor creates a Monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		logger:    logger,
		baselines: make(map[types.Address]*baseline),
		rotations: make(map[types.Address]*rotationState),
		lastAlert: make(map[string]time.Time),
	}
}

// Observation is a single snapshot fed to Update.
type Observation struct {
	Wallet     types.Address
	WinRate    float64
	AvgSize    decimal.Decimal
	Categories map[types.Category]struct{}
	Volatility float64
	At         time.Time
}

// Update records a new observation for wallet and returns any behavior
// changes it triggers. The very first observation for a wallet only
// establishes its baseline and returns no changes.
func (m *Monitor) Update(obs Observation) []BehaviorChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, known := m.baselines[obs.Wallet]
	if !known {
		m.baselines[obs.Wallet] = &baseline{
			winRate: obs.WinRate, avgSize: obs.AvgSize,
			categories: copyCategorySet(obs.Categories), volatility: obs.Volatility,
			establishedAt: obs.At,
		}
		return nil
	}

	var changes []BehaviorChange
	replaceBaseline := false

	if c, ok := winRateChange(obs, *b); ok {
		if m.admit(obs.Wallet, string(c.ChangeType), obs.At) {
			changes = append(changes, c)
			if c.Severity == types.SeverityHigh || c.Severity == types.SeverityCritical {
				replaceBaseline = true
			}
		}
	}

	if c, ok := riskIncreaseChange(obs, *b); ok {
		if m.admit(obs.Wallet, string(c.ChangeType), obs.At) {
			changes = append(changes, c)
			if c.Severity == types.SeverityHigh || c.Severity == types.SeverityCritical {
				replaceBaseline = true
			}
		}
	}

	if c, ok := categoryShiftChange(obs, *b); ok {
		if m.admit(obs.Wallet, string(c.ChangeType), obs.At) {
			changes = append(changes, c)
			if c.Severity == types.SeverityHigh || c.Severity == types.SeverityCritical {
				replaceBaseline = true
			}
		}
	}

	if c, ok := volatilityChange(obs, *b); ok {
		if m.admit(obs.Wallet, string(c.ChangeType), obs.At) {
			changes = append(changes, c)
			if c.Severity == types.SeverityHigh || c.Severity == types.SeverityCritical {
				replaceBaseline = true
			}
		}
	}

	if replaceBaseline {
		m.baselines[obs.Wallet] = &baseline{
			winRate: obs.WinRate, avgSize: obs.AvgSize,
			categories: copyCategorySet(obs.Categories), volatility: obs.Volatility,
			establishedAt: obs.At,
		}
	}

	return changes
}

// admit applies the 1-hour alert dedup window for (wallet, changeType).
func (m *Monitor) admit(wallet types.Address, changeType string, at time.Time) bool {
	key := fmt.Sprintf("%s|%s", wallet, changeType)
	if last, ok := m.lastAlert[key]; ok && at.Sub(last) < time.Hour {
		return false
	}
	m.lastAlert[key] = at
	return true
}

func winRateChange(obs Observation, b baseline) (BehaviorChange, bool) {
	delta := obs.WinRate - b.winRate
	mag := math.Abs(delta)
	if mag < 0.15 {
		return BehaviorChange{}, false
	}
	changeType := ChangeWinRateDrop
	if delta > 0 {
		changeType = ChangeWinRateGain
	}
	sev := types.SeverityMedium
	if mag >= 0.25 {
		sev = types.SeverityCritical
	} else if mag >= 0.20 {
		sev = types.SeverityHigh
	}
	return BehaviorChange{
		Wallet: obs.Wallet, ChangeType: changeType, PreviousValue: b.winRate,
		CurrentValue: obs.WinRate, Magnitude: mag, Severity: sev, DetectionTime: obs.At,
	}, true
}

func riskIncreaseChange(obs Observation, b baseline) (BehaviorChange, bool) {
	if b.avgSize.IsZero() {
		return BehaviorChange{}, false
	}
	ratio, _ := obs.AvgSize.Div(b.avgSize).Float64()
	if ratio < 2.0 {
		return BehaviorChange{}, false
	}
	sev := types.SeverityMedium
	if ratio >= 3.0 {
		sev = types.SeverityCritical
	} else if ratio >= 2.5 {
		sev = types.SeverityHigh
	}
	prev, _ := b.avgSize.Float64()
	cur, _ := obs.AvgSize.Float64()
	return BehaviorChange{
		Wallet: obs.Wallet, ChangeType: ChangeRiskIncrease, PreviousValue: prev,
		CurrentValue: cur, Magnitude: ratio, Severity: sev, DetectionTime: obs.At,
	}, true
}

func categoryShiftChange(obs Observation, b baseline) (BehaviorChange, bool) {
	newCount := 0
	for cat := range obs.Categories {
		if _, existed := b.categories[cat]; !existed {
			newCount++
		}
	}
	if newCount == 0 {
		return BehaviorChange{}, false
	}
	sev := types.SeverityMedium
	if newCount > 2 {
		sev = types.SeverityHigh
	}
	return BehaviorChange{
		Wallet: obs.Wallet, ChangeType: ChangeCategoryShift, PreviousValue: float64(len(b.categories)),
		CurrentValue: float64(len(obs.Categories)), Magnitude: float64(newCount), Severity: sev, DetectionTime: obs.At,
	}, true
}

func volatilityChange(obs Observation, b baseline) (BehaviorChange, bool) {
	delta := obs.Volatility - b.volatility
	if delta < 0.20 {
		return BehaviorChange{}, false
	}
	sev := types.SeverityMedium
	if obs.Volatility >= 0.30 {
		sev = types.SeverityCritical
	} else if delta >= 0.25 {
		sev = types.SeverityHigh
	}
	return BehaviorChange{
		Wallet: obs.Wallet, ChangeType: ChangeVolatilityIncrease, PreviousValue: b.volatility,
		CurrentValue: obs.Volatility, Magnitude: delta, Severity: sev, DetectionTime: obs.At,
	}, true
}

func copyCategorySet(in map[types.Category]struct{}) map[types.Category]struct{} {
	out := make(map[types.Category]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// RotationDecision is Reconcile's verdict for a wallet.
type RotationDecision struct {
	Action types.RecommendedAction
	Reason string
}

const (
	rotationDeclineThreshold = 1.0
	rotationRemoveBelow      = 5.0
	rotationReAddAbove       = 6.0
	rotationCooldown         = 7 * 24 * time.Hour
)

// Reconcile applies the rotation logic from §4.4: a wallet whose composite
// score declines by >=1.0 and falls below 5.0 is marked for removal with a
// 7-day cooldown; after cooldown, a >=1.0 improvement above 6.0 re-adds it.
func (m *Monitor) Reconcile(wallet types.Address, composite decimal.Decimal, at time.Time) RotationDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.rotations[wallet]
	if !ok {
		st = &rotationState{lastComposite: composite}
		m.rotations[wallet] = st
		return RotationDecision{Action: types.ActionMonitor, Reason: "baseline established"}
	}

	score, _ := composite.Float64()
	prev, _ := st.lastComposite.Float64()

	if st.removed {
		if at.Before(st.cooldownEnds) {
			st.lastComposite = composite
			return RotationDecision{Action: types.ActionExclude, Reason: "within rotation cooldown"}
		}
		if score-prev >= rotationDeclineThreshold && score > rotationReAddAbove {
			st.removed = false
			st.lastComposite = composite
			return RotationDecision{Action: types.ActionMonitor, Reason: "re-added after cooldown: recovered above 6.0"}
		}
		st.lastComposite = composite
		return RotationDecision{Action: types.ActionExclude, Reason: "cooldown elapsed but recovery threshold not met"}
	}

	if prev-score >= rotationDeclineThreshold && score < rotationRemoveBelow {
		st.removed = true
		st.cooldownEnds = at.Add(rotationCooldown)
		st.lastComposite = composite
		return RotationDecision{Action: types.ActionExclude, Reason: "composite score declined >=1.0 and fell below 5.0"}
	}

	st.lastComposite = composite
	return RotationDecision{Action: types.ActionMonitor, Reason: "no rotation condition met"}
}
