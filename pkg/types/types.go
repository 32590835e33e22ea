// Package types provides the shared data model for the wallet copy-trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address is a normalized lower-case 0x-prefixed 20-byte wallet address.
type Address string

// Side represents the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Tier partitions a composite or quality score into a coarse quality bucket.
type Tier string

const (
	TierElite  Tier = "elite"
	TierExpert Tier = "expert"
	TierGood   Tier = "good"
	TierPoor   Tier = "poor"
)

// TierFromScore derives a Tier from a raw [0,10] score per §4.1 step 4.
func TierFromScore(score decimal.Decimal) Tier {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(9)):
		return TierElite
	case score.GreaterThanOrEqual(decimal.NewFromInt(7)):
		return TierExpert
	case score.GreaterThanOrEqual(decimal.NewFromInt(5)):
		return TierGood
	default:
		return TierPoor
	}
}

// Category is a market domain a wallet trades in.
type Category string

const (
	CategoryPolitics  Category = "politics"
	CategoryCrypto    Category = "crypto"
	CategorySports    Category = "sports"
	CategoryEconomics Category = "economics"
	CategoryScience   Category = "science"
	CategoryGeneral   Category = "general"
)

// Regime is a market volatility bucket (§GLOSSARY).
type Regime string

const (
	RegimeLow     Regime = "low"
	RegimeMedium  Regime = "medium"
	RegimeHigh    Regime = "high"
	RegimeExtreme Regime = "extreme"
)

// RiskProfile is the aggressiveness posture derived from a composite score.
type RiskProfile string

const (
	RiskProfileConservative RiskProfile = "conservative"
	RiskProfileModerate     RiskProfile = "moderate"
	RiskProfileAggressive   RiskProfile = "aggressive"
	RiskProfileSystemStress RiskProfile = "system_stress"
)

// Strategy is the closed enumeration of strategy kinds (§9 — a tagged
// variant, not a class hierarchy). The set is fixed at compile time.
type Strategy int

const (
	StrategyCopyTrading Strategy = iota
	StrategyEndgameSweep
	StrategyCrossMarketArb
	StrategyMarketMaking
	strategyCount // sentinel, not a real strategy
)

// NumStrategies is the number of entries in the closed Strategy enumeration.
const NumStrategies = int(strategyCount)

func (s Strategy) String() string {
	switch s {
	case StrategyCopyTrading:
		return "copy_trading"
	case StrategyEndgameSweep:
		return "endgame_sweep"
	case StrategyCrossMarketArb:
		return "cross_market_arb"
	case StrategyMarketMaking:
		return "market_making"
	default:
		return "unknown"
	}
}

// WindowedStat is a single-window observation of a wallet metric, used for
// win-rate consistency and position-sizing consistency calculations.
type WindowedStat struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Value       float64
}

// WalletData is the raw performance history fed into the scorer and
// detector. It is assembled by external collaborators (leaderboard/chain
// indexers) and never mutated by the pipeline itself.
type WalletData struct {
	TradeCount         int
	CreatedAt          time.Time
	WinRate            float64
	WinRateWindows     []WindowedStat
	ROI7d              float64
	ROI30d             float64
	ProfitFactor       float64
	MaxDrawdown        float64
	Volatility         float64
	Sharpe             float64
	Sortino            float64
	Calmar             float64
	TailRisk           float64
	AvgHoldTime        time.Duration
	AvgPositionSize    decimal.Decimal
	MaxPositionSize    decimal.Decimal
	PositionSizeWindow []decimal.Decimal
	ProfitPerTrade     float64
	CategoryCounts     map[Category]int
	Trades             []WalletTrade
	TodayVolume        decimal.Decimal
	AvgDailyVolume     decimal.Decimal
}

// WalletTrade is a single historical trade observation used by the red flag
// detector's wash-trading and clustering checks.
type WalletTrade struct {
	TxHash       string
	Timestamp    time.Time
	MarketID     string
	Side         Side
	Amount       decimal.Decimal
	Counterparty Address
	Category     Category
}

// Wallet is a tracked on-chain wallet and its latest observed performance.
type Wallet struct {
	Address         Address
	CreatedAt       time.Time
	TradeCount      int
	WinRate         float64
	ROI7d           float64
	ROI30d          float64
	ProfitFactor    float64
	MaxDrawdown     float64
	Volatility      float64
	Sharpe          float64
	AvgHoldTime     time.Duration
	CategoryCounts  map[Category]int
	AvgPositionSize decimal.Decimal
	MaxPositionSize decimal.Decimal
	LastObservedAt  time.Time
}

// DomainExpertise describes a wallet's specialization within a single
// market category.
type DomainExpertise struct {
	PrimaryDomain  Category
	Specialization float64 // [0,1]
	DomainWinRate  float64
	DomainROI      float64
	TradesInDomain int
}

// RiskMetrics is the risk-adjusted performance subcomponent of a QualityScore.
type RiskMetrics struct {
	Volatility  float64
	MaxDrawdown float64
	Sharpe      float64
	Sortino     float64
	Calmar      float64
	TailRisk    float64
}

// RedFlagSeverity ranks the severity of a RedFlag.
type RedFlagSeverity string

const (
	SeverityCritical RedFlagSeverity = "critical"
	SeverityHigh     RedFlagSeverity = "high"
	SeverityMedium   RedFlagSeverity = "medium"
	SeverityLow      RedFlagSeverity = "low"
)

// RedFlagType enumerates the flag catalog in §4.2.
type RedFlagType string

const (
	FlagMarketMaker           RedFlagType = "market_maker"
	FlagWashTrading           RedFlagType = "wash_trading"
	FlagInsiderClusterTrading RedFlagType = "insider_cluster_trading"
	FlagNewWalletLargeBet     RedFlagType = "new_wallet_large_bet"
	FlagNegativeProfitFactor  RedFlagType = "negative_profit_factor"
	FlagExcessiveDrawdown     RedFlagType = "excessive_drawdown"
	FlagSuicidalPattern       RedFlagType = "suicidal_pattern"
	FlagWinRateDecline        RedFlagType = "win_rate_decline"
	FlagPositionSizeSpike     RedFlagType = "position_size_spike"
	FlagCategoryHopping       RedFlagType = "category_hopping"
	FlagLowWinRate            RedFlagType = "low_win_rate"
	FlagNoSpecialization      RedFlagType = "no_specialization"
	FlagUnusualVolumePattern  RedFlagType = "unusual_volume_pattern"
)

// RecommendedAction is the action a flag suggests the pipeline take.
type RecommendedAction string

const (
	ActionExclude      RecommendedAction = "exclude"
	ActionManualReview RecommendedAction = "manual_review"
	ActionMonitor      RecommendedAction = "monitor"
)

// RedFlag is a single disqualifying or cautionary signal raised against a wallet.
type RedFlag struct {
	Type              RedFlagType
	Severity          RedFlagSeverity
	Description       string
	Confidence        float64 // [0,1]
	Evidence          map[string]any
	DetectionTime     time.Time
	ExpiryTime        time.Time // zero value = never
	RecommendedAction RecommendedAction
}

// Expired reports whether the flag's evidence window has lapsed as of now.
func (f RedFlag) Expired(now time.Time) bool {
	if f.ExpiryTime.IsZero() {
		return false
	}
	return now.After(f.ExpiryTime)
}

// ExclusionResult is the RedFlagDetector's verdict for a wallet.
type ExclusionResult struct {
	Wallet               Address
	IsExcluded           bool
	ExclusionReason      string
	FlagsBySeverity      map[RedFlagSeverity][]RedFlag
	ConfidenceScore      float64 // [0,1]
	RequiresManualReview bool
	AuditTrail           []string
	EvaluatedAt          time.Time
}

// QualityScore is the WalletQualityScorer's output for a wallet, cached for
// CacheDefaultTTL (§3 invariant: tier is fixed at creation and never mutated
// in place — a refresh produces a brand new QualityScore value).
type QualityScore struct {
	Wallet          Address
	TotalScore      decimal.Decimal // [0,10]
	Performance     decimal.Decimal
	Risk            decimal.Decimal
	Consistency     decimal.Decimal
	DomainExpertise DomainExpertise
	RiskMetrics     RiskMetrics
	IsMarketMaker   bool
	RedFlags        []RedFlag
	Tier            Tier
	LastUpdated     time.Time
}

// CacheDefaultTTL is the default cache lifetime for QualityScore, ExclusionResult
// and CompositeScore values, per §3.
const CacheDefaultTTL = time.Hour

// CompositeScore combines a QualityScore with red-flag penalties, time decay
// and domain bonuses into the single number the sizing engine consumes.
type CompositeScore struct {
	Wallet            Address
	CompositeScore    decimal.Decimal // [0,10]
	ComponentScores   map[string]decimal.Decimal
	RiskProfile       RiskProfile
	TimeDecayFactor   float64 // [0,1]
	Confidence        float64 // [0,1]
	AdjustmentReasons []string
	LastUpdated       time.Time
}

// MarketState is the most recently computed market-wide volatility/regime
// snapshot. Consumers read the latest value without waiting (§3).
type MarketState struct {
	Timestamp            time.Time
	ImpliedVolatility    float64 // (0,1]
	Regime               Regime
	LiquidityScore       float64 // [0,1]
	CorrelationThreshold float64 // [0,1]
	HoursUntilClose      float64
	VolumeAnomalyScore   float64
}

// PositionSizingDecision is the PositionSizingEngine's output for a single trade.
type PositionSizingDecision struct {
	BaseSize                decimal.Decimal
	QualityMultiplier       decimal.Decimal // [0.5,2.0]
	TradeAdjustment         decimal.Decimal // [0.5,1.5]
	RiskAdjustment          decimal.Decimal // {1.0, 0.8, 0.5}
	ConcentrationAdjustment decimal.Decimal // [0.5,1.0]
	FinalSize               decimal.Decimal
	Shares                  int64
	MaxSizeHit              bool
	ConcentrationHit        bool
	RecommendedAction       string
	DecisionTime            time.Time
}

// StrategyRiskProfile is the per-strategy configuration consumed by
// StrategyRiskManager.CheckAllowed.
type StrategyRiskProfile struct {
	MaxPositionSize         decimal.Decimal
	MaxDailyLoss            decimal.Decimal
	MaxConsecutiveLosses    int
	MaxFailureRate          float64
	MaxCorrelationThreshold float64
	MaxSlippage             float64
	VolatilityAdjustment    bool
	MaxPortfolioExposure    decimal.Decimal
	MaxPositionsPerMarket   int
	Enabled                 bool
}

// CircuitBreakerState is the persisted per-strategy breaker state.
type CircuitBreakerState struct {
	Active            bool
	Reason            string
	ActivationTime    time.Time
	DailyLoss         decimal.Decimal
	TotalLoss         decimal.Decimal
	TotalProfit       decimal.Decimal
	ConsecutiveLosses int
	FailedTrades      int
	SuccessfulTrades  int
	LastResetDate     time.Time
	LastResetTime     time.Time
}

// DetectedTrade is a trade observed on-chain from a monitored wallet.
// Identity key is TxHash; a given TxHash is processed at most once per
// wallet (§3, §4.8).
type DetectedTrade struct {
	TxHash          string
	BlockNumber     uint64
	TxIndex         uint32
	Timestamp       time.Time
	WalletAddress   Address
	MarketID        string
	Side            Side
	Amount          decimal.Decimal
	Price           decimal.Decimal
	TokenID         string
	ConfidenceScore float64
}

// Position is a locally-held copy-trade position, exclusively owned by the
// position manager; the risk manager only observes it via notifications.
type Position struct {
	MarketID    string
	Side        Side
	Amount      decimal.Decimal
	EntryPrice  decimal.Decimal
	OpenedAt    time.Time
	OrderID     string
	SourceTrade DetectedTrade
}

// LeaderboardEntry is the raw shape returned by the external leaderboard
// feed before a Wallet is constructed from it (§3.A).
type LeaderboardEntry struct {
	Wallet    Address
	Rank      int
	PnL30d    decimal.Decimal
	Volume30d decimal.Decimal
	Source    string
}

// HealthStatus classifies a component's recent run of successes/failures (§3.A).
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthDegraded     HealthStatus = "degraded"
	HealthSystemStress HealthStatus = "system_stress"
)

// HealthReport is a point-in-time snapshot of one component's health.
type HealthReport struct {
	Component           string
	ConsecutiveFailures int
	LastError           string
	Status              HealthStatus
	UpdatedAt           time.Time
}

// PerformanceReport is the periodic cohort-wide snapshot emitted every 5
// minutes by the orchestrator's maintenance task (§3.A, §4.9 step 6).
type PerformanceReport struct {
	GeneratedAt   time.Time
	CohortSize    int
	OpenPositions int
	TodayPnL      decimal.Decimal
	BreakerStates map[Strategy]CircuitBreakerState
}
