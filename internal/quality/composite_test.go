package quality_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/pkg/types"
)

func TestCompositeForcesSystemStress(t *testing.T) {
	e := quality.NewEngine(zap.NewNop())
	out := e.Combine(quality.CombineInput{
		Quality:      types.QualityScore{TotalScore: decimal.NewFromInt(9)},
		MarketRegime: types.RegimeLow,
		SystemStress: true,
	})
	if out.RiskProfile != types.RiskProfileSystemStress {
		t.Fatalf("expected SystemStress, got %s", out.RiskProfile)
	}
}

func TestCompositeForcesConservativeInHighRegime(t *testing.T) {
	e := quality.NewEngine(zap.NewNop())
	out := e.Combine(quality.CombineInput{
		Quality:      types.QualityScore{TotalScore: decimal.NewFromInt(9)},
		MarketRegime: types.RegimeExtreme,
	})
	if out.RiskProfile != types.RiskProfileConservative {
		t.Fatalf("expected Conservative under Extreme regime, got %s", out.RiskProfile)
	}
}

func TestRedFlagPenaltyCapped(t *testing.T) {
	e := quality.NewEngine(zap.NewNop())
	exclusion := types.ExclusionResult{
		FlagsBySeverity: map[types.RedFlagSeverity][]types.RedFlag{
			types.SeverityCritical: {{}, {}, {}},
		},
	}
	out := e.Combine(quality.CombineInput{
		Quality:      types.QualityScore{TotalScore: decimal.NewFromInt(10)},
		Exclusion:    exclusion,
		MarketRegime: types.RegimeLow,
	})
	if out.CompositeScore.LessThan(decimal.Zero) {
		t.Fatalf("penalty cap should prevent negative scores, got %s", out.CompositeScore)
	}
}

func TestTimeDecayFloor(t *testing.T) {
	e := quality.NewEngine(zap.NewNop())
	out := e.Combine(quality.CombineInput{
		Quality:        types.QualityScore{TotalScore: decimal.NewFromInt(10), DomainExpertise: types.DomainExpertise{PrimaryDomain: types.CategoryGeneral}},
		ScoreAgeAtEval: 365 * 24 * time.Hour,
		MarketRegime:   types.RegimeLow,
	})
	if out.TimeDecayFactor != 0.5 {
		t.Fatalf("expected decay floor of 0.5, got %.3f", out.TimeDecayFactor)
	}
}

func TestRebalanceCheckConcentration(t *testing.T) {
	exposure := map[types.Address]decimal.Decimal{
		"0xbig": decimal.NewFromInt(450),
	}
	needed, reason := quality.RebalanceCheck(exposure, decimal.NewFromInt(1000), decimal.NewFromInt(2000))
	if !needed || reason == "" {
		t.Fatalf("expected rebalance recommendation for 45%% concentration")
	}
}
