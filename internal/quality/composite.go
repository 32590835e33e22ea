package quality

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/types"
)

// Red-flag penalty weights, capped at 10.0 total (§4.3).
const (
	penaltyCritical = 5.0
	penaltyHigh     = 2.5
	penaltyMedium   = 1.0
	penaltyCap      = 10.0

	decayGraceDays  = 7
	decayPerDay     = 0.05
	decayFloor      = 0.5

	riskProfileAggressiveAt = 7.0
	riskProfileModerateAt   = 5.0

	rebalanceConcentration = 0.40
)

// domainBonus maps a wallet's primary category to its composite score
// multiplier (§4.3).
var domainBonus = map[types.Category]float64{
	types.CategoryPolitics:  1.10,
	types.CategoryCrypto:    1.10,
	types.CategorySports:    1.10,
	types.CategoryEconomics: 1.05,
	types.CategoryScience:   1.05,
	types.CategoryGeneral:   1.00,
}

// Engine is the CompositeScoringEngine (§4.3). It holds no state beyond its
// logger; callers own the CompositeScore cache.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// CombineInput bundles everything the composite engine needs beyond the raw
// QualityScore: the wallet's red-flag verdict, the age of the underlying
// score, the current market regime, and whether a global circuit breaker is
// active.
type CombineInput struct {
	Quality        types.QualityScore
	Exclusion      types.ExclusionResult
	ScoreAgeAtEval time.Duration
	MarketRegime   types.Regime
	SystemStress   bool
}

// Combine computes a CompositeScore from a QualityScore and its red-flag
// verdict.
func (e *Engine) Combine(in CombineInput) types.CompositeScore {
	var reasons []string

	penalty := 0.0
	for sev, flags := range in.Exclusion.FlagsBySeverity {
		count := float64(len(flags))
		switch sev {
		case types.SeverityCritical:
			penalty += penaltyCritical * count
		case types.SeverityHigh:
			penalty += penaltyHigh * count
		case types.SeverityMedium:
			penalty += penaltyMedium * count
		}
	}
	if penalty > penaltyCap {
		penalty = penaltyCap
	}
	if penalty > 0 {
		reasons = append(reasons, "red-flag penalty applied")
	}

	decay := timeDecayFactor(in.ScoreAgeAtEval)
	if decay < 1.0 {
		reasons = append(reasons, "time decay applied")
	}

	bonus := domainBonus[in.Quality.DomainExpertise.PrimaryDomain]
	if bonus == 0 {
		bonus = 1.0
	}

	base := in.Quality.TotalScore.Sub(decimal.NewFromFloat(penalty))
	adjusted := base.Mul(decimal.NewFromFloat(decay)).Mul(decimal.NewFromFloat(bonus))
	if adjusted.LessThan(decimal.Zero) {
		adjusted = decimal.Zero
	}
	if adjusted.GreaterThan(decimal.NewFromInt(10)) {
		adjusted = decimal.NewFromInt(10)
	}

	profile := riskProfileFrom(adjusted, in.MarketRegime, in.SystemStress)
	if profile == types.RiskProfileSystemStress {
		reasons = append(reasons, "forced SystemStress: global circuit breaker active")
	} else if profile == types.RiskProfileConservative && (in.MarketRegime == types.RegimeHigh || in.MarketRegime == types.RegimeExtreme) {
		reasons = append(reasons, "forced Conservative: market regime "+string(in.MarketRegime))
	}

	return types.CompositeScore{
		Wallet:         in.Quality.Wallet,
		CompositeScore: adjusted,
		ComponentScores: map[string]decimal.Decimal{
			"base_total_score": in.Quality.TotalScore,
			"redflag_penalty":  decimal.NewFromFloat(penalty),
		},
		RiskProfile:       profile,
		TimeDecayFactor:   decay,
		Confidence:        in.Exclusion.ConfidenceScore,
		AdjustmentReasons: reasons,
		LastUpdated:       time.Now(),
	}
}

func timeDecayFactor(age time.Duration) float64 {
	days := age.Hours() / 24
	if days <= decayGraceDays {
		return 1.0
	}
	decay := 1.0 - decayPerDay*(days-decayGraceDays)
	if decay < decayFloor {
		return decayFloor
	}
	return decay
}

func riskProfileFrom(score decimal.Decimal, regime types.Regime, systemStress bool) types.RiskProfile {
	if systemStress {
		return types.RiskProfileSystemStress
	}
	if regime == types.RegimeHigh || regime == types.RegimeExtreme {
		return types.RiskProfileConservative
	}
	s, _ := score.Float64()
	switch {
	case s >= riskProfileAggressiveAt:
		return types.RiskProfileAggressive
	case s >= riskProfileModerateAt:
		return types.RiskProfileModerate
	default:
		return types.RiskProfileConservative
	}
}

// RebalanceCheck reports whether portfolio exposure warrants a rebalancing
// recommendation: max per-wallet concentration >= 40% of portfolio, or
// total exposure exceeds a configured maximum.
func RebalanceCheck(perWalletExposure map[types.Address]decimal.Decimal, totalExposure, maxTotalExposure decimal.Decimal) (needed bool, reason string) {
	portfolioValue := totalExposure
	if portfolioValue.IsZero() {
		return false, ""
	}
	for wallet, exposure := range perWalletExposure {
		ratio, _ := exposure.Div(portfolioValue).Float64()
		if ratio >= rebalanceConcentration {
			return true, "wallet " + string(wallet) + " exceeds 40% portfolio concentration"
		}
	}
	if totalExposure.GreaterThan(maxTotalExposure) {
		return true, "total exposure exceeds configured maximum"
	}
	return false, ""
}
