// Package risk implements StrategyRiskManager (§4.7): independent
// circuit-breaker state per strategy, correlation-aware position admission,
// and atomic binary persistence. Adapted from the teacher's
// internal/execution.RiskManager — same logger+config+mutex shape and
// kill-switch/cooldown vocabulary, generalized from a single global breaker
// to one breaker per Strategy and from symbol-exposure maps to the
// sorted-market-pair correlation map §4.7 specifies.
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/sizing"
	"github.com/driftscout/polycopy/pkg/types"
)

const (
	minTradesForFailureRate = 10
	defaultCooldown         = time.Hour
	stateVersion            = byte(1)
)

// Trade is CheckAllowed's input: the candidate trade a strategy wants to place.
type Trade struct {
	MarketID string
	Amount   decimal.Decimal
}

// Allowance is CheckAllowed's result.
type Allowance struct {
	Allowed           bool
	Reason            string
	RemainingCooldown time.Duration
	AdjustedSize      decimal.Decimal
}

// Manager is the StrategyRiskManager. It owns one CircuitBreakerState and
// one StrategyRiskProfile per Strategy, plus a symmetric market-correlation
// map shared across strategies.
type Manager struct {
	logger  *zap.Logger
	dataDir string

	mu          sync.RWMutex
	profiles    [types.NumStrategies]types.StrategyRiskProfile
	breakers    [types.NumStrategies]types.CircuitBreakerState
	correlation map[string]float64

	volatilityFeed func() float64
}

// DefaultProfiles returns the per-strategy defaults named in §3 and the
// §8 scenario table (CopyTrading's $100 daily loss ceiling).
func DefaultProfiles() [types.NumStrategies]types.StrategyRiskProfile {
	return [types.NumStrategies]types.StrategyRiskProfile{
		types.StrategyCopyTrading: {
			MaxPositionSize: decimal.NewFromInt(500), MaxDailyLoss: decimal.NewFromInt(100),
			MaxConsecutiveLosses: 5, MaxFailureRate: 0.6, MaxCorrelationThreshold: 0.8,
			MaxSlippage: 0.02, VolatilityAdjustment: true,
			MaxPortfolioExposure: decimal.NewFromInt(5000), MaxPositionsPerMarket: 1, Enabled: true,
		},
		types.StrategyEndgameSweep: {
			MaxPositionSize: decimal.NewFromInt(200), MaxDailyLoss: decimal.NewFromInt(50),
			MaxConsecutiveLosses: 3, MaxFailureRate: 0.5, MaxCorrelationThreshold: 0.8,
			MaxSlippage: 0.02, VolatilityAdjustment: true,
			MaxPortfolioExposure: decimal.NewFromInt(2000), MaxPositionsPerMarket: 1, Enabled: false,
		},
		types.StrategyCrossMarketArb: {
			MaxPositionSize: decimal.NewFromInt(300), MaxDailyLoss: decimal.NewFromInt(75),
			MaxConsecutiveLosses: 4, MaxFailureRate: 0.55, MaxCorrelationThreshold: 0.9,
			MaxSlippage: 0.015, VolatilityAdjustment: true,
			MaxPortfolioExposure: decimal.NewFromInt(3000), MaxPositionsPerMarket: 2, Enabled: false,
		},
		types.StrategyMarketMaking: {
			MaxPositionSize: decimal.NewFromInt(150), MaxDailyLoss: decimal.NewFromInt(60),
			MaxConsecutiveLosses: 4, MaxFailureRate: 0.5, MaxCorrelationThreshold: 0.7,
			MaxSlippage: 0.01, VolatilityAdjustment: true,
			MaxPortfolioExposure: decimal.NewFromInt(1500), MaxPositionsPerMarket: 1, Enabled: false,
		},
	}
}

// New creates a Manager, loading any previously persisted state from
// dataDir/strategy_risk_state.bin (best-effort: a missing or malformed file
// falls back to defaults with a warning, never an error).
func New(logger *zap.Logger, dataDir string, profiles [types.NumStrategies]types.StrategyRiskProfile, volatilityFeed func() float64) *Manager {
	now := time.Now().UTC()
	m := &Manager{
		logger:         logger,
		dataDir:        dataDir,
		profiles:       profiles,
		correlation:    make(map[string]float64),
		volatilityFeed: volatilityFeed,
	}
	for s := range m.breakers {
		m.breakers[s] = types.CircuitBreakerState{LastResetDate: now, LastResetTime: now}
	}
	if err := m.load(); err != nil {
		logger.Warn("risk state load failed, starting from defaults", zap.Error(err))
	}
	return m
}

// SetCorrelation records the correlation coefficient between two markets.
// Stored under a sorted key so lookups are order-independent (§4.7).
func (m *Manager) SetCorrelation(marketA, marketB string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.correlation[correlationKey(marketA, marketB)] = value
}

func correlationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// CheckAllowed implements the six-step admission check of §4.7.
func (m *Manager) CheckAllowed(strategy types.Strategy, trade Trade, portfolioExposure decimal.Decimal, activePositionMarkets []string) Allowance {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile := m.profiles[strategy]
	breaker := &m.breakers[strategy]

	if !profile.Enabled {
		return Allowance{Allowed: false, Reason: fmt.Sprintf("strategy %s disabled", strategy)}
	}

	if breaker.Active {
		remaining := defaultCooldown - time.Since(breaker.ActivationTime)
		if remaining < 0 {
			remaining = 0
		}
		return Allowance{
			Allowed:           false,
			Reason:            fmt.Sprintf("circuit breaker active: %s", breaker.Reason),
			RemainingCooldown: remaining,
		}
	}

	if trade.Amount.GreaterThan(profile.MaxPositionSize) {
		return Allowance{Allowed: false, Reason: fmt.Sprintf(
			"trade amount %s exceeds max position size %s", trade.Amount, profile.MaxPositionSize)}
	}

	if portfolioExposure.Add(trade.Amount).GreaterThan(profile.MaxPortfolioExposure) {
		return Allowance{Allowed: false, Reason: fmt.Sprintf(
			"portfolio exposure %s would exceed max %s", portfolioExposure.Add(trade.Amount), profile.MaxPortfolioExposure)}
	}

	for _, marketID := range activePositionMarkets {
		corr, ok := m.correlation[correlationKey(marketID, trade.MarketID)]
		if ok && corr > profile.MaxCorrelationThreshold {
			return Allowance{Allowed: false, Reason: fmt.Sprintf(
				"correlation %.2f with open position in %s exceeds threshold %.2f", corr, marketID, profile.MaxCorrelationThreshold)}
		}
	}

	adjusted := trade.Amount
	if profile.VolatilityAdjustment && m.volatilityFeed != nil {
		vol := m.volatilityFeed()
		if vol > 30 {
			factor := 1 - vol/100
			if factor < 0.5 {
				factor = 0.5
			}
			adjusted = trade.Amount.Mul(decimal.NewFromFloat(factor))
			if adjusted.LessThan(sizing.MinPosition) {
				return Allowance{Allowed: false, Reason: fmt.Sprintf(
					"volatility-adjusted size %s falls below MIN_POSITION %s", adjusted, sizing.MinPosition)}
			}
		}
	}

	return Allowance{Allowed: true, AdjustedSize: adjusted}
}

// RecordResult updates the strategy's counters and evaluates the three
// activation conditions of §4.7.
func (m *Manager) RecordResult(strategy types.Strategy, success bool, profit decimal.Decimal) {
	m.mu.Lock()
	breaker := &m.breakers[strategy]

	if success {
		breaker.SuccessfulTrades++
	} else {
		breaker.FailedTrades++
	}
	if profit.IsNegative() {
		breaker.DailyLoss = breaker.DailyLoss.Add(profit.Abs())
		breaker.TotalLoss = breaker.TotalLoss.Add(profit.Abs())
		breaker.ConsecutiveLosses++
	} else if !success {
		breaker.ConsecutiveLosses++
	} else {
		breaker.ConsecutiveLosses = 0
		breaker.TotalProfit = breaker.TotalProfit.Add(profit)
	}

	profile := m.profiles[strategy]
	totalTrades := breaker.SuccessfulTrades + breaker.FailedTrades
	var reason string
	switch {
	case breaker.DailyLoss.GreaterThanOrEqual(profile.MaxDailyLoss):
		reason = fmt.Sprintf("Daily loss limit reached ($%s / $%s)", breaker.DailyLoss.StringFixed(2), profile.MaxDailyLoss.StringFixed(2))
	case breaker.ConsecutiveLosses >= profile.MaxConsecutiveLosses:
		reason = fmt.Sprintf("Consecutive loss limit reached (%d / %d)", breaker.ConsecutiveLosses, profile.MaxConsecutiveLosses)
	case totalTrades >= minTradesForFailureRate && failureRate(breaker) >= profile.MaxFailureRate:
		reason = fmt.Sprintf("Failure rate %.2f exceeds max %.2f", failureRate(breaker), profile.MaxFailureRate)
	}

	activated := false
	if reason != "" && !breaker.Active {
		breaker.Active = true
		breaker.Reason = reason
		breaker.ActivationTime = time.Now()
		activated = true
	}
	m.mu.Unlock()

	m.appendAudit(strategy, "record_result", fmt.Sprintf(`{"success":%v,"profit":"%s"}`, success, profit))
	if activated {
		m.appendAudit(strategy, "circuit_breaker_activated", fmt.Sprintf(`{"reason":%q}`, reason))
		m.logger.Warn("circuit breaker activated", zap.String("strategy", strategy.String()), zap.String("reason", reason))
	}

	if err := m.persist(); err != nil {
		m.logger.Warn("risk state persist failed", zap.Error(err))
	}
}

func failureRate(b *types.CircuitBreakerState) float64 {
	total := b.SuccessfulTrades + b.FailedTrades
	if total == 0 {
		return 0
	}
	return float64(b.FailedTrades) / float64(total)
}

// Reset manually clears a strategy's circuit breaker, preserving totals
// (§4.7: "resetting clears dailyLoss and consecutiveLosses but preserves
// totals").
func (m *Manager) Reset(strategy types.Strategy, reason string) {
	m.mu.Lock()
	breaker := &m.breakers[strategy]
	breaker.Active = false
	breaker.Reason = ""
	breaker.ActivationTime = time.Time{}
	breaker.DailyLoss = decimal.Zero
	breaker.ConsecutiveLosses = 0
	m.mu.Unlock()

	m.appendAudit(strategy, "circuit_breaker_reset", fmt.Sprintf(`{"reason":%q}`, reason))
	if err := m.persist(); err != nil {
		m.logger.Warn("risk state persist failed", zap.Error(err))
	}
}

// DailyReset implements the hourly-scheduled UTC-midnight rollover of §4.7:
// for each strategy whose lastResetDate is before today (UTC), zero
// dailyLoss and consecutiveLosses.
func (m *Manager) DailyReset(now time.Time) {
	now = now.UTC()
	today := now.Truncate(24 * time.Hour)

	m.mu.Lock()
	var reset []types.Strategy
	for i := range m.breakers {
		b := &m.breakers[i]
		if b.LastResetDate.UTC().Truncate(24 * time.Hour).Before(today) {
			b.DailyLoss = decimal.Zero
			b.ConsecutiveLosses = 0
			b.LastResetDate = now
			b.LastResetTime = now
			reset = append(reset, types.Strategy(i))
		}
	}
	m.mu.Unlock()

	for _, s := range reset {
		m.appendAudit(s, "daily_reset", `{}`)
	}
	if len(reset) > 0 {
		if err := m.persist(); err != nil {
			m.logger.Warn("risk state persist failed", zap.Error(err))
		}
	}
}

// State returns a snapshot of every strategy's CircuitBreakerState, used by
// the health aggregator's PerformanceReport (§3.A, §4.9).
func (m *Manager) State() map[types.Strategy]types.CircuitBreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.Strategy]types.CircuitBreakerState, len(m.breakers))
	for i, b := range m.breakers {
		out[types.Strategy(i)] = b
	}
	return out
}

// Flush persists the current state immediately, for use on graceful
// shutdown (§4.9) rather than waiting for the next mutating call.
func (m *Manager) Flush() error {
	return m.persist()
}

// --- persistence ---

type persistedState struct {
	Version    byte                               `msgpack:"version"`
	Strategies map[string]types.CircuitBreakerState `msgpack:"strategies"`
}

func (m *Manager) binPath() string  { return filepath.Join(m.dataDir, "strategy_risk_state.bin") }
func (m *Manager) jsonPath() string { return filepath.Join(m.dataDir, "circuit_breaker_state.json") }
func (m *Manager) auditPath() string { return filepath.Join(m.dataDir, "audit.log") }

func (m *Manager) load() error {
	raw, err := os.ReadFile(m.binPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) < 1 {
		return fmt.Errorf("empty state file")
	}
	version, body := raw[0], raw[1:]
	if version != stateVersion {
		return fmt.Errorf("unsupported state version %d, resetting to defaults", version)
	}
	var state persistedState
	if err := msgpack.Unmarshal(body, &state); err != nil {
		return fmt.Errorf("corrupt state file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < types.NumStrategies; i++ {
		s := types.Strategy(i)
		if b, ok := state.Strategies[s.String()]; ok {
			m.breakers[i] = b
		}
	}
	return nil
}

// persist writes the binary state atomically (temp file then rename) and
// refreshes the legacy JSON view alongside it.
func (m *Manager) persist() error {
	m.mu.RLock()
	state := persistedState{Version: stateVersion, Strategies: make(map[string]types.CircuitBreakerState, len(m.breakers))}
	for i, b := range m.breakers {
		state.Strategies[types.Strategy(i).String()] = b
	}
	m.mu.RUnlock()

	body, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}
	payload := append([]byte{stateVersion}, body...)
	if err := atomicWrite(m.binPath(), payload); err != nil {
		return err
	}
	return m.writeLegacyJSON(state)
}

type legacyBreakerView struct {
	Active            bool   `json:"active"`
	Reason            string `json:"reason"`
	DailyLoss         string `json:"daily_loss"`
	ConsecutiveLosses int    `json:"consecutive_losses"`
	FailedTrades      int    `json:"failed_trades"`
	TotalTrades       int    `json:"total_trades"`
	LastResetDate     string `json:"last_reset_date"`
}

func (m *Manager) writeLegacyJSON(state persistedState) error {
	view := make(map[string]legacyBreakerView, len(state.Strategies))
	for name, b := range state.Strategies {
		view[name] = legacyBreakerView{
			Active: b.Active, Reason: b.Reason, DailyLoss: b.DailyLoss.StringFixed(2),
			ConsecutiveLosses: b.ConsecutiveLosses, FailedTrades: b.FailedTrades,
			TotalTrades:   b.FailedTrades + b.SuccessfulTrades,
			LastResetDate: b.LastResetDate.UTC().Format("2006-01-02"),
		}
	}
	body, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal legacy json view: %w", err)
	}
	return atomicWrite(m.jsonPath(), body)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func (m *Manager) appendAudit(strategy types.Strategy, action, details string) {
	f, err := os.OpenFile(m.auditPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		m.logger.Warn("audit log open failed", zap.Error(err))
		return
	}
	defer f.Close()
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339), strategy, action, details)
	if _, err := f.WriteString(line); err != nil {
		m.logger.Warn("audit log write failed", zap.Error(err))
	}
}
