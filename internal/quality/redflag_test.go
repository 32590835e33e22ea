package quality_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/pkg/types"
)

func TestWashTradingFlagsRoundTrips(t *testing.T) {
	dt := quality.NewDetector(zap.NewNop(), 0.2, nil)

	base := time.Now().Add(-48 * time.Hour)
	var trades []types.WalletTrade
	for i := 0; i < 20; i++ {
		t0 := base.Add(time.Duration(i) * 20 * time.Minute)
		trades = append(trades,
			types.WalletTrade{Timestamp: t0, MarketID: "m1", Side: types.SideBuy, Amount: decimal.NewFromInt(100), Counterparty: "0xself"},
			types.WalletTrade{Timestamp: t0.Add(2 * time.Minute), MarketID: "m1", Side: types.SideSell, Amount: decimal.NewFromInt(100), Counterparty: "0xself"},
		)
	}

	d := types.WalletData{TradeCount: len(trades), CreatedAt: base.Add(-365 * 24 * time.Hour), WinRate: 0.5, ProfitFactor: 1.5, Trades: trades}
	result := dt.Detect("0xwash", d)

	if !result.IsExcluded {
		t.Fatalf("expected wash-trading pattern to drive exclusion, got confidence=%.2f flags=%v", result.ConfidenceScore, result.FlagsBySeverity)
	}
	if len(result.FlagsBySeverity[types.SeverityCritical]) == 0 {
		t.Fatalf("expected at least one critical flag")
	}
}

func TestManualReviewOnThreeMediumFlags(t *testing.T) {
	dt := quality.NewDetector(zap.NewNop(), 0.9, nil)

	now := time.Now()
	d := types.WalletData{
		TradeCount:   60,
		CreatedAt:    now.Add(-365 * 24 * time.Hour),
		WinRate:      0.55,
		ProfitFactor: 1.2,
		MaxDrawdown:  0.1,
		CategoryCounts: map[types.Category]int{
			types.CategoryCrypto: 10, types.CategoryPolitics: 10, types.CategorySports: 10,
			types.CategoryEconomics: 10, types.CategoryScience: 10,
		},
		Trades: []types.WalletTrade{
			{Timestamp: now.Add(-1 * time.Hour), Category: types.CategoryCrypto, MarketID: "a", Amount: decimal.NewFromInt(10)},
			{Timestamp: now.Add(-2 * time.Hour), Category: types.CategoryPolitics, MarketID: "b", Amount: decimal.NewFromInt(10)},
			{Timestamp: now.Add(-3 * time.Hour), Category: types.CategorySports, MarketID: "c", Amount: decimal.NewFromInt(10)},
			{Timestamp: now.Add(-4 * time.Hour), Category: types.CategoryEconomics, MarketID: "d", Amount: decimal.NewFromInt(10)},
		},
		PositionSizeWindow: []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(10)},
	}

	result := dt.Detect("0xreview", d)
	if result.IsExcluded {
		t.Fatalf("expected manual review, not auto-exclusion")
	}
	if !result.RequiresManualReview {
		t.Fatalf("expected RequiresManualReview true with >=3 medium flags, got flags=%v", result.FlagsBySeverity)
	}
}

func TestCleanWalletNoFlags(t *testing.T) {
	dt := quality.NewDetector(zap.NewNop(), 0.9, nil)

	d := types.WalletData{
		TradeCount:   120,
		CreatedAt:    time.Now().Add(-365 * 24 * time.Hour),
		WinRate:      0.65,
		ProfitFactor: 1.8,
		MaxDrawdown:  0.1,
		CategoryCounts: map[types.Category]int{
			types.CategoryCrypto: 120,
		},
	}

	result := dt.Detect("0xclean", d)
	if result.IsExcluded || result.RequiresManualReview {
		t.Fatalf("expected clean wallet to pass, got %+v", result)
	}
}
