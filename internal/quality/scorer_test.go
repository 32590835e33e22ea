// Package quality_test exercises the WalletQualityScorer.
package quality_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/pkg/types"
)

func windows(vals ...float64) []types.WindowedStat {
	out := make([]types.WindowedStat, len(vals))
	for i, v := range vals {
		out[i] = types.WindowedStat{Value: v}
	}
	return out
}

func sizes(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestScoreRangeAndTierPartition(t *testing.T) {
	s := quality.New(zap.NewNop())

	d := types.WalletData{
		TradeCount:         200,
		WinRate:            0.58,
		WinRateWindows:     windows(0.55, 0.57, 0.60, 0.58),
		ProfitFactor:       2.5,
		MaxDrawdown:        0.10,
		AvgHoldTime:        4 * time.Hour,
		PositionSizeWindow: sizes(100, 105, 98, 110),
		ProfitPerTrade:     0.02,
		CategoryCounts:     map[types.Category]int{types.CategoryCrypto: 150, types.CategoryPolitics: 50},
		Trades: []types.WalletTrade{
			{Category: types.CategoryCrypto},
		},
	}

	score, ok := s.Score("0xabc", d)
	if !ok {
		t.Fatalf("expected valid score")
	}
	if score.TotalScore.LessThan(decimal.Zero) || score.TotalScore.GreaterThan(decimal.NewFromInt(10)) {
		t.Fatalf("score out of [0,10]: %s", score.TotalScore)
	}
	gotTier := types.TierFromScore(score.TotalScore)
	if score.Tier != gotTier {
		t.Fatalf("tier %s does not match partition of score %s (want %s)", score.Tier, score.TotalScore, gotTier)
	}
	if score.IsMarketMaker {
		t.Fatalf("unexpected market-maker classification")
	}
}

func TestMarketMakerAlwaysPoorTier(t *testing.T) {
	s := quality.New(zap.NewNop())

	d := types.WalletData{
		TradeCount:     600,
		WinRate:        0.50,
		ProfitFactor:   5.0,
		AvgHoldTime:    10 * time.Minute,
		ProfitPerTrade: 0.001,
	}

	score, ok := s.Score("0xmm", d)
	if !ok {
		t.Fatalf("expected valid score")
	}
	if !score.IsMarketMaker {
		t.Fatalf("expected market-maker classification")
	}
	if score.Tier != types.TierPoor {
		t.Fatalf("market maker must be Poor tier, got %s", score.Tier)
	}
	if score.TotalScore.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		t.Fatalf("market maker score must be < 1.0, got %s", score.TotalScore)
	}
}

func TestInsufficientDataReturnsNotOK(t *testing.T) {
	s := quality.New(zap.NewNop())
	_, ok := s.Score("0xempty", types.WalletData{})
	if ok {
		t.Fatalf("expected score to be absent for a wallet with zero trades")
	}
}

func TestNeutralFallbackOnDegenerateConsistencyInput(t *testing.T) {
	s := quality.New(zap.NewNop())
	d := types.WalletData{
		TradeCount:   10,
		WinRate:      0.5,
		ProfitFactor: 1.2,
		MaxDrawdown:  0.2,
	}
	score, ok := s.Score("0xthin", d)
	if !ok {
		t.Fatalf("expected valid score even with thin consistency inputs")
	}
	if score.TotalScore.LessThan(decimal.Zero) {
		t.Fatalf("neutral fallback must not drive score negative")
	}
}
