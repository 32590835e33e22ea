package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/pkg/types"
)

// Confidence adjustment constants (§4.2).
const (
	confidenceBase            = 0.7
	confidencePerCritical     = 0.2
	confidencePerHigh         = 0.1
	confidencePerMedium       = 0.05
	confidenceBonusHighVolume = 0.1
	confidencePenaltyLowVol   = 0.1
	highVolumeTradeCount      = 100
	lowVolumeTradeCount       = 50

	// autoExcludeConfidence gates exclusion on the triggering Critical flag's
	// own Confidence, not the aggregate wallet confidence score below: that
	// aggregate subtracts confidencePerCritical per Critical flag, so it can
	// never reach a threshold this high whenever a Critical flag is present.
	autoExcludeConfidence  = 0.8
	manualReviewMediumFlag = 3

	newWalletMaxAge       = 7 * 24 * time.Hour
	newWalletLargeBetUSD  = 1000
	negativeProfitFactor  = 1.0
	excessiveDrawdownPct  = 0.35
	suicidalSizeMultiple  = 2.0
	winRateDeclineDelta   = 0.15
	positionSpikeRatio    = 3.0
	positionSpikeWinRate  = 0.6
	categoryHoppingWindow = 7 * 24 * time.Hour
	categoryHoppingMax    = 3
	lowWinRateMinTrades   = 50
	lowWinRateThreshold   = 0.60
	noSpecializationCats  = 5
	volumeAnomalyHigh     = 3.0
	volumeAnomalyLow      = 0.1

	washLookahead    = 10
	washMinGap       = 60 * time.Second
	washMaxGap       = 300 * time.Second
	washAmountTol    = 0.001 // 0.1%
	washRoundWeight  = 0.4
	washIdentWeight  = 0.3
	washSelfWeight   = 0.3
)

// ClusterSizeFunc reports how many distinct wallets traded the same market
// in the same direction as the given trade within the preceding hour. The
// real implementation lives outside this package (a chain/leaderboard
// indexer); a nil func disables InsiderClusterTrading detection rather than
// failing the whole scan, since no on-chain cross-wallet view is available.
type ClusterSizeFunc func(marketID string, side types.Side, at time.Time) int

// Detector is the RedFlagDetector (§4.2).
type Detector struct {
	logger               *zap.Logger
	washTradingThreshold float64
	clusterSize          ClusterSizeFunc
}

// NewDetector creates a Detector. washTradingThreshold resolves the
// WASH_TRADING_SCORE_THRESHOLD open question (default 0.5, see DESIGN.md).
func NewDetector(logger *zap.Logger, washTradingThreshold float64, clusterSize ClusterSizeFunc) *Detector {
	return &Detector{logger: logger, washTradingThreshold: washTradingThreshold, clusterSize: clusterSize}
}

// Detect runs the full flag catalog against a wallet and returns its
// exclusion verdict.
func (dt *Detector) Detect(wallet types.Address, d types.WalletData) types.ExclusionResult {
	now := time.Now()
	var flags []types.RedFlag
	var audit []string

	add := func(f types.RedFlag) {
		flags = append(flags, f)
		audit = append(audit, fmt.Sprintf("%s\t%s\t%s", now.Format(time.RFC3339), f.Type, f.Description))
	}

	if IsMarketMaker(d) {
		add(types.RedFlag{
			Type: types.FlagMarketMaker, Severity: types.SeverityCritical,
			Description: "four-clause market-maker identity test matched",
			Confidence:  1.0, DetectionTime: now, RecommendedAction: types.ActionExclude,
		})
	}

	washScore, washEvidence := washTradingScore(d.Trades)
	if washScore >= dt.washTradingThreshold {
		add(types.RedFlag{
			Type: types.FlagWashTrading, Severity: types.SeverityCritical,
			Description: fmt.Sprintf("wash-trading score %.3f >= threshold %.3f", washScore, dt.washTradingThreshold),
			Confidence:  washScore, Evidence: washEvidence, DetectionTime: now,
			RecommendedAction: types.ActionExclude,
		})
	}

	if dt.clusterSize != nil {
		if maxCluster := maxClusterMembership(d.Trades, dt.clusterSize); maxCluster >= 5 {
			add(types.RedFlag{
				Type: types.FlagInsiderClusterTrading, Severity: types.SeverityCritical,
				Description: fmt.Sprintf("wallet is a member of a %d-address cluster trading the same outcome/direction within 1h", maxCluster),
				Confidence:  1.0, DetectionTime: now, RecommendedAction: types.ActionExclude,
			})
		}
	}

	if now.Sub(d.CreatedAt) < newWalletMaxAge {
		maxBet, _ := d.MaxPositionSize.Float64()
		if maxBet > newWalletLargeBetUSD {
			add(types.RedFlag{
				Type: types.FlagNewWalletLargeBet, Severity: types.SeverityCritical,
				Description: fmt.Sprintf("wallet age %s with max bet $%.2f", now.Sub(d.CreatedAt), maxBet),
				Confidence:  1.0, DetectionTime: now, RecommendedAction: types.ActionExclude,
			})
		}
	}

	if d.ProfitFactor < negativeProfitFactor {
		add(types.RedFlag{
			Type: types.FlagNegativeProfitFactor, Severity: types.SeverityHigh,
			Description: fmt.Sprintf("profit factor %.3f < 1.0", d.ProfitFactor),
			Confidence:  1.0, DetectionTime: now, RecommendedAction: types.ActionExclude,
		})
	}

	if d.MaxDrawdown > excessiveDrawdownPct {
		add(types.RedFlag{
			Type: types.FlagExcessiveDrawdown, Severity: types.SeverityHigh,
			Description: fmt.Sprintf("max drawdown %.1f%% > 35%%", d.MaxDrawdown*100),
			Confidence:  1.0, DetectionTime: now, RecommendedAction: types.ActionExclude,
		})
	}

	if hasSuicidalPattern(d.Trades) {
		add(types.RedFlag{
			Type: types.FlagSuicidalPattern, Severity: types.SeverityHigh,
			Description: "position size doubled or more immediately after a realized loss",
			Confidence:  0.9, DetectionTime: now, RecommendedAction: types.ActionExclude,
		})
	}

	if rollingWinRate, ok := rolling7dWinRate(d.WinRateWindows); ok {
		if d.WinRate-rollingWinRate > winRateDeclineDelta {
			add(types.RedFlag{
				Type: types.FlagWinRateDecline, Severity: types.SeverityHigh,
				Description: fmt.Sprintf("win rate declined by %.1f%% vs 7d rolling", (d.WinRate-rollingWinRate)*100),
				Confidence:  0.85, DetectionTime: now, RecommendedAction: types.ActionExclude,
			})
		}
	}

	if recentMax, recentAvg, ok := recentPositionStats(d.PositionSizeWindow); ok && recentAvg.GreaterThan(decimal.Zero) {
		ratio, _ := recentMax.Div(recentAvg).Float64()
		if ratio > positionSpikeRatio && d.WinRate > positionSpikeWinRate {
			add(types.RedFlag{
				Type: types.FlagPositionSizeSpike, Severity: types.SeverityMedium,
				Description: fmt.Sprintf("recent max/avg position ratio %.2fx with 7d win rate %.1f%%", ratio, d.WinRate*100),
				Confidence:  0.7, DetectionTime: now, RecommendedAction: types.ActionManualReview,
			})
		}
	}

	if recentCats := distinctCategoriesSince(d.Trades, now.Add(-categoryHoppingWindow)); recentCats > categoryHoppingMax {
		add(types.RedFlag{
			Type: types.FlagCategoryHopping, Severity: types.SeverityMedium,
			Description: fmt.Sprintf("%d distinct categories traded in the last 7 days", recentCats),
			Confidence:  0.6, DetectionTime: now, RecommendedAction: types.ActionManualReview,
		})
	}

	if d.TradeCount >= lowWinRateMinTrades && d.WinRate < lowWinRateThreshold {
		add(types.RedFlag{
			Type: types.FlagLowWinRate, Severity: types.SeverityMedium,
			Description: fmt.Sprintf("win rate %.1f%% over %d trades", d.WinRate*100, d.TradeCount),
			Confidence:  0.7, DetectionTime: now, RecommendedAction: types.ActionManualReview,
		})
	}

	if len(d.CategoryCounts) >= noSpecializationCats {
		add(types.RedFlag{
			Type: types.FlagNoSpecialization, Severity: types.SeverityMedium,
			Description: fmt.Sprintf("traded %d distinct categories with no specialization", len(d.CategoryCounts)),
			Confidence:  0.6, DetectionTime: now, RecommendedAction: types.ActionManualReview,
		})
	}

	if ratio, ok := volumeRatio(d.TodayVolume, d.AvgDailyVolume); ok {
		if ratio > volumeAnomalyHigh || ratio < volumeAnomalyLow {
			add(types.RedFlag{
				Type: types.FlagUnusualVolumePattern, Severity: types.SeverityLow,
				Description: fmt.Sprintf("today/avg daily volume ratio %.3f", ratio),
				Confidence:  0.5, DetectionTime: now, RecommendedAction: types.ActionMonitor,
			})
		}
	}

	byType := map[types.RedFlagType]types.RedFlagSeverity{}
	for _, f := range flags {
		byType[f.Type] = f.Severity
	}
	var critical, high, medium int
	for _, sev := range byType {
		switch sev {
		case types.SeverityCritical:
			critical++
		case types.SeverityHigh:
			high++
		case types.SeverityMedium:
			medium++
		}
	}

	confidence := confidenceBase - confidencePerCritical*float64(critical) -
		confidencePerHigh*float64(high) - confidencePerMedium*float64(medium)
	if d.TradeCount >= highVolumeTradeCount {
		confidence += confidenceBonusHighVolume
	} else if d.TradeCount < lowVolumeTradeCount {
		confidence -= confidencePenaltyLowVol
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	maxCriticalFlagConfidence := 0.0
	for _, f := range flags {
		if f.Severity == types.SeverityCritical && f.Confidence > maxCriticalFlagConfidence {
			maxCriticalFlagConfidence = f.Confidence
		}
	}

	isExcluded := critical >= 1 && maxCriticalFlagConfidence >= autoExcludeConfidence
	requiresReview := !isExcluded && medium >= manualReviewMediumFlag

	reason := ""
	if isExcluded {
		reason = "critical red flag with high-confidence verdict"
	} else if requiresReview {
		reason = "three or more medium-severity flags require manual review"
	}

	flagsBySeverity := map[types.RedFlagSeverity][]types.RedFlag{}
	for _, f := range flags {
		flagsBySeverity[f.Severity] = append(flagsBySeverity[f.Severity], f)
	}

	return types.ExclusionResult{
		Wallet:               wallet,
		IsExcluded:           isExcluded,
		ExclusionReason:      reason,
		FlagsBySeverity:      flagsBySeverity,
		ConfidenceScore:      confidence,
		RequiresManualReview: requiresReview,
		AuditTrail:           audit,
		EvaluatedAt:          now,
	}
}

// washTradingScore implements the forward-search round-trip/identical-
// amount/self-transaction detector described in §4.2.
func washTradingScore(trades []types.WalletTrade) (float64, map[string]any) {
	if len(trades) < 2 {
		return 0, nil
	}
	sorted := make([]types.WalletTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var roundTrips, identical, selfTx int
	pairs := 0
	for i := range sorted {
		limit := i + washLookahead
		if limit > len(sorted) {
			limit = len(sorted)
		}
		for j := i + 1; j < limit; j++ {
			gap := sorted[j].Timestamp.Sub(sorted[i].Timestamp)
			if gap < washMinGap || gap > washMaxGap {
				continue
			}
			if sorted[j].MarketID != sorted[i].MarketID {
				continue
			}
			if sorted[j].Side == sorted[i].Side {
				continue
			}
			pairs++
			roundTrips++
			diff := sorted[i].Amount.Sub(sorted[j].Amount).Abs()
			tolerance := sorted[i].Amount.Mul(decimal.NewFromFloat(washAmountTol))
			if diff.LessThanOrEqual(tolerance) {
				identical++
			}
			if sorted[j].Counterparty != "" && sorted[i].Counterparty == sorted[j].Counterparty {
				selfTx++
			}
		}
	}
	if pairs == 0 {
		return 0, nil
	}
	roundTripRatio := float64(roundTrips) / float64(len(sorted))
	identicalRatio := float64(identical) / float64(pairs)
	selfRatio := float64(selfTx) / float64(pairs)

	score := washRoundWeight*roundTripRatio + washIdentWeight*identicalRatio + washSelfWeight*selfRatio
	evidence := map[string]any{
		"round_trip_count": roundTrips,
		"identical_count":  identical,
		"self_tx_count":    selfTx,
	}
	return score, evidence
}

func maxClusterMembership(trades []types.WalletTrade, clusterSize ClusterSizeFunc) int {
	max := 0
	for _, t := range trades {
		if n := clusterSize(t.MarketID, t.Side, t.Timestamp); n > max {
			max = n
		}
	}
	return max
}

func hasSuicidalPattern(trades []types.WalletTrade) bool {
	sorted := make([]types.WalletTrade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Amount.IsZero() {
			continue
		}
		ratio, _ := cur.Amount.Div(prev.Amount).Float64()
		if ratio >= suicidalSizeMultiple {
			return true
		}
	}
	return false
}

func rolling7dWinRate(windows []types.WindowedStat) (float64, bool) {
	if len(windows) == 0 {
		return 0, false
	}
	return windows[len(windows)-1].Value, true
}

func recentPositionStats(sizes []decimal.Decimal) (maxSize, avgSize decimal.Decimal, ok bool) {
	if len(sizes) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	max := sizes[0]
	sum := decimal.Zero
	for _, s := range sizes {
		if s.GreaterThan(max) {
			max = s
		}
		sum = sum.Add(s)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(sizes))))
	return max, avg, true
}

func distinctCategoriesSince(trades []types.WalletTrade, since time.Time) int {
	seen := map[types.Category]struct{}{}
	for _, t := range trades {
		if t.Timestamp.After(since) {
			seen[t.Category] = struct{}{}
		}
	}
	return len(seen)
}

func volumeRatio(today, avg decimal.Decimal) (float64, bool) {
	if avg.IsZero() {
		return 0, false
	}
	ratio, _ := today.Div(avg).Float64()
	return ratio, true
}
