// Package sizing implements the PositionSizingEngine (§4.6), adapted from
// the teacher's internal/sizing.PositionSizer: same logger+config shape and
// fixed-point-via-float conversion style, replacing the Kelly-criterion
// algorithm with the seven-step multiplier chain the contract specifies.
package sizing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/fixedpoint"
	"github.com/driftscout/polycopy/pkg/types"
)

// MinPosition is MIN_POSITION (§3, §8): the floor below which a sized trade
// is bumped up or, in contexts without a sizing decision to bump, rejected
// outright (e.g. StrategyRiskManager's volatility-adjustment check).
var MinPosition = decimal.NewFromInt(1)

var (
	minPosition    = MinPosition
	maxPositionAbs = decimal.NewFromInt(500)
	baseSizePct    = decimal.NewFromFloat(0.02)
	maxBalancePct  = decimal.NewFromFloat(0.05)
)

// tierExposureCaps are the per-tier additional caps on total wallet
// exposure as a fraction of portfolio (§4.6).
var tierExposureCaps = map[types.Tier]decimal.Decimal{
	types.TierElite:  decimal.NewFromFloat(0.15),
	types.TierExpert: decimal.NewFromFloat(0.10),
	types.TierGood:   decimal.NewFromFloat(0.07),
	types.TierPoor:   decimal.Zero,
}

// Engine is the PositionSizingEngine.
type Engine struct {
	logger *zap.Logger

	mu           sync.RWMutex
	walletExposure map[types.Address]decimal.Decimal
}

// New creates an Engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger, walletExposure: make(map[types.Address]decimal.Decimal)}
}

// Request bundles ComputeSize's inputs (§4.6).
type Request struct {
	Wallet               types.Address
	Tier                 types.Tier
	CompositeScore       decimal.Decimal // [0,10]
	Balance              decimal.Decimal
	OriginalTradeAmount  decimal.Decimal
	Volatility           float64
	MaxWalletExposure    decimal.Decimal
	SystemStress         bool
}

// ComputeSize always returns a decision. Under system stress it returns a
// conservative decision (1% base, minimum multipliers) rather than zero.
func (e *Engine) ComputeSize(req Request) types.PositionSizingDecision {
	decision := types.PositionSizingDecision{DecisionTime: time.Now()}

	baseSize := req.Balance.Mul(baseSizePct)
	if req.SystemStress {
		baseSize = req.Balance.Mul(decimal.NewFromFloat(0.01))
	}
	decision.BaseSize = baseSize

	qualityMultiplier := qualityMultiplierFor(req.Tier, req.CompositeScore)
	decision.QualityMultiplier = qualityMultiplier
	if req.Tier == types.TierPoor {
		return e.finalize(req, decision, decimal.Zero)
	}

	tradeAdj := tradeAdjustmentFor(req.OriginalTradeAmount)
	decision.TradeAdjustment = tradeAdj

	riskAdj := riskAdjustmentFor(req.Volatility, req.SystemStress)
	decision.RiskAdjustment = riskAdj

	concentrationAdj := e.concentrationAdjustmentFor(req.Wallet, req.MaxWalletExposure)
	decision.ConcentrationAdjustment = concentrationAdj

	raw := baseSize.Mul(qualityMultiplier).Mul(tradeAdj).Mul(riskAdj).Mul(concentrationAdj)

	return e.finalize(req, decision, raw)
}

func (e *Engine) finalize(req Request, decision types.PositionSizingDecision, raw decimal.Decimal) types.PositionSizingDecision {
	upperBound := maxPositionAbs
	balanceCap := req.Balance.Mul(maxBalancePct)
	if balanceCap.LessThan(upperBound) {
		upperBound = balanceCap
	}

	finalSize := fixedpoint.Clip(raw, decimal.Zero, upperBound)
	hitMax := finalSize.Equal(upperBound) && raw.GreaterThanOrEqual(upperBound)
	if finalSize.GreaterThan(decimal.Zero) && finalSize.LessThan(minPosition) {
		finalSize = minPosition
	}
	if req.Tier == types.TierPoor {
		finalSize = decimal.Zero
	}

	decision.FinalSize = fixedpoint.QuantizeCents(finalSize)
	decision.Shares = fixedpoint.Floor64(decision.FinalSize)
	decision.MaxSizeHit = hitMax

	capPct, ok := tierExposureCaps[req.Tier]
	if ok && !capPct.IsZero() {
		e.mu.RLock()
		exposure := e.walletExposure[req.Wallet]
		e.mu.RUnlock()
		portfolioValue := req.Balance
		if !portfolioValue.IsZero() {
			cap := portfolioValue.Mul(capPct)
			if exposure.Add(decision.FinalSize).GreaterThan(cap) {
				room := cap.Sub(exposure)
				if room.IsNegative() {
					room = decimal.Zero
				}
				decision.FinalSize = fixedpoint.QuantizeCents(room)
				decision.Shares = fixedpoint.Floor64(decision.FinalSize)
				decision.ConcentrationHit = true
				decision.RecommendedAction = "reduced: tier exposure cap reached"
			}
		}
	}

	if decision.FinalSize.IsZero() {
		if req.Tier == types.TierPoor {
			decision.RecommendedAction = "Poor quality wallet – not trading"
		} else {
			decision.RecommendedAction = "skip: zero final size"
		}
	} else if decision.RecommendedAction == "" {
		decision.RecommendedAction = "proceed"
	}

	return decision
}

// qualityMultiplierFor implements clip(0.5 + compositeScore*1.5, 0.5, 2.0);
// Poor-tier wallets short-circuit to 0.
func qualityMultiplierFor(tier types.Tier, compositeScore decimal.Decimal) decimal.Decimal {
	if tier == types.TierPoor {
		return decimal.Zero
	}
	v := decimal.NewFromFloat(0.5).Add(compositeScore.Mul(decimal.NewFromFloat(1.5)))
	return fixedpoint.Clip(v, decimal.NewFromFloat(0.5), decimal.NewFromFloat(2.0))
}

// tradeAdjustmentFor implements clip(originalTradeAmount/1000, 0.5, 1.5).
func tradeAdjustmentFor(originalTradeAmount decimal.Decimal) decimal.Decimal {
	v := originalTradeAmount.Div(decimal.NewFromInt(1000))
	return fixedpoint.Clip(v, decimal.NewFromFloat(0.5), decimal.NewFromFloat(1.5))
}

// riskAdjustmentFor implements the three-bucket volatility table, forced to
// 1.0 (lowest risk stance) under system stress.
func riskAdjustmentFor(volatility float64, systemStress bool) decimal.Decimal {
	if systemStress {
		return decimal.NewFromInt(1)
	}
	switch {
	case volatility <= 0.15:
		return decimal.NewFromInt(1)
	case volatility <= 0.30:
		return decimal.NewFromFloat(0.8)
	default:
		return decimal.NewFromFloat(0.5)
	}
}

// concentrationAdjustmentFor implements
// clip(1.0 - current_wallet_exposure/max_wallet_exposure, 0.5, 1.0).
func (e *Engine) concentrationAdjustmentFor(wallet types.Address, maxWalletExposure decimal.Decimal) decimal.Decimal {
	if maxWalletExposure.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	e.mu.RLock()
	exposure := e.walletExposure[wallet]
	e.mu.RUnlock()
	v := decimal.NewFromInt(1).Sub(exposure.Div(maxWalletExposure))
	return fixedpoint.Clip(v, decimal.NewFromFloat(0.5), decimal.NewFromInt(1))
}

// RecordExposure updates the tracked exposure for wallet after a fill.
func (e *Engine) RecordExposure(wallet types.Address, delta decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.walletExposure[wallet] = e.walletExposure[wallet].Add(delta)
}

// Exposure returns the currently tracked exposure for wallet.
func (e *Engine) Exposure(wallet types.Address) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.walletExposure[wallet]
}
