// Package regime implements MarketConditionAnalyzer (§4.5): a threshold-
// based volatility regime classifier, simpler than the teacher's HMM
// detector but adapted from its buffered-samples-plus-mutex shape
// (internal/regime.RegimeDetector) since the contract here calls for a
// stateless stdev-of-log-returns computation rather than a learned model.
package regime

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/driftscout/polycopy/pkg/fixedpoint"
	"github.com/driftscout/polycopy/pkg/types"
)

const (
	windowDuration = 30 * time.Minute
	minSamples     = 10

	thresholdLow    = 0.30
	thresholdMedium = 0.60
	thresholdHigh   = 0.90

	adaptWeightWinRate    = 0.35
	adaptWeightSizing     = 0.25
	adaptWeightRecovery   = 0.20
	adaptWeightCorrel     = 0.20

	trendTestDelta = 0.05
)

type sample struct {
	at    time.Time
	price float64
}

// regimeSnapshot is one wallet's performance observation tagged with the
// regime active at the time it was recorded.
type regimeSnapshot struct {
	regime   types.Regime
	winRate  float64
	avgSize  float64
	at       time.Time
}

// Analyzer is the MarketConditionAnalyzer.
type Analyzer struct {
	logger *zap.Logger

	mu          sync.Mutex
	samples     []sample
	volSamples  []float64
	snapshots   map[types.Address][]regimeSnapshot
}

// New creates an Analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		logger:    logger,
		snapshots: make(map[types.Address][]regimeSnapshot),
	}
}

// Observe records an order-book price sample. It is the only entry point
// that changes the price window; volatility and regime are derived lazily
// from the rolling window on read.
func (a *Analyzer) Observe(at time.Time, price float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = append(a.samples, sample{at: at, price: price})
	cutoff := at.Add(-windowDuration)
	i := 0
	for i < len(a.samples) && a.samples[i].at.Before(cutoff) {
		i++
	}
	a.samples = a.samples[i:]
}

// ImpliedVolatility returns the sample stdev of log returns over the
// rolling window, or the neutral default (Medium, 0.45) when fewer than
// minSamples are available.
func (a *Analyzer) ImpliedVolatility() (float64, types.Regime) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.impliedVolatilityLocked()
}

func (a *Analyzer) impliedVolatilityLocked() (float64, types.Regime) {
	if len(a.samples) < minSamples {
		return 0.45, types.RegimeMedium
	}
	returns := make([]float64, 0, len(a.samples)-1)
	for i := 1; i < len(a.samples); i++ {
		prev, cur := a.samples[i-1].price, a.samples[i].price
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < minSamples-1 {
		return 0.45, types.RegimeMedium
	}
	vol := stat.StdDev(returns, nil)
	return vol, regimeFor(vol)
}

func regimeFor(vol float64) types.Regime {
	switch {
	case vol < thresholdLow:
		return types.RegimeLow
	case vol < thresholdMedium:
		return types.RegimeMedium
	case vol < thresholdHigh:
		return types.RegimeHigh
	default:
		return types.RegimeExtreme
	}
}

// RecordSnapshot stores a per-wallet performance observation indexed by the
// regime active at recording time.
func (a *Analyzer) RecordSnapshot(wallet types.Address, winRate, avgSize float64, at time.Time) {
	_, regime := a.ImpliedVolatility()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshots[wallet] = append(a.snapshots[wallet], regimeSnapshot{regime: regime, winRate: winRate, avgSize: avgSize, at: at})
}

// AdaptationScore combines four signals into a single adaptation score
// (§4.5): win-rate differential across regimes (0.35), position-sizing
// response to volatility (0.25), recovery speed differential (0.20), and
// correlation-breakdown resistance (0.20).
func (a *Analyzer) AdaptationScore(wallet types.Address) float64 {
	a.mu.Lock()
	snaps := append([]regimeSnapshot(nil), a.snapshots[wallet]...)
	a.mu.Unlock()

	if len(snaps) < 2 {
		return 0.5
	}

	byRegime := map[types.Regime][]regimeSnapshot{}
	for _, s := range snaps {
		byRegime[s.regime] = append(byRegime[s.regime], s)
	}

	winRateDiff := regimeWinRateDifferential(byRegime)
	sizingResponse := positionSizingResponse(byRegime)
	recoverySpeed := recoverySpeedDifferential(snaps)
	correlationResistance := 0.5 // no correlation feed wired to this analyzer; neutral contribution

	score := winRateDiff*adaptWeightWinRate + sizingResponse*adaptWeightSizing +
		recoverySpeed*adaptWeightRecovery + correlationResistance*adaptWeightCorrel
	return fixedpoint.ClipFloat(score, 0, 1)
}

func regimeWinRateDifferential(byRegime map[types.Regime][]regimeSnapshot) float64 {
	if len(byRegime) < 2 {
		return 0.5
	}
	var rates []float64
	for _, snaps := range byRegime {
		sum := 0.0
		for _, s := range snaps {
			sum += s.winRate
		}
		rates = append(rates, sum/float64(len(snaps)))
	}
	lo, hi := rates[0], rates[0]
	for _, r := range rates {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	spread := hi - lo
	return fixedpoint.ClipFloat(1-spread, 0, 1)
}

// positionSizingResponse scores positively when average position size
// shrinks as volatility regime rises (the defensive behavior §4.5 rewards).
func positionSizingResponse(byRegime map[types.Regime][]regimeSnapshot) float64 {
	lowAvg, lowOK := avgSizeFor(byRegime, types.RegimeLow)
	highAvg, highOK := avgSizeFor(byRegime, types.RegimeHigh, types.RegimeExtreme)
	if !lowOK || !highOK || lowAvg == 0 {
		return 0.5
	}
	if highAvg < lowAvg {
		return 1.0
	}
	return 0.0
}

func avgSizeFor(byRegime map[types.Regime][]regimeSnapshot, regimes ...types.Regime) (float64, bool) {
	var sum float64
	var count int
	for _, r := range regimes {
		for _, s := range byRegime[r] {
			sum += s.avgSize
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// recoverySpeedDifferential approximates how quickly win rate recovers
// after a losing snapshot, relative to the wallet's own history.
func recoverySpeedDifferential(snaps []regimeSnapshot) float64 {
	if len(snaps) < 3 {
		return 0.5
	}
	var recoveries int
	var opportunities int
	for i := 1; i < len(snaps)-1; i++ {
		if snaps[i].winRate < 0.5 {
			opportunities++
			if snaps[i+1].winRate > snaps[i].winRate {
				recoveries++
			}
		}
	}
	if opportunities == 0 {
		return 0.5
	}
	return float64(recoveries) / float64(opportunities)
}

// TransitionPrediction is a forward-looking regime call derived from a
// simple trend test on recent volatility samples (§4.5).
type TransitionPrediction struct {
	Predicted   types.Regime
	CurrentSeen types.Regime
	Confident   bool
}

// PredictTransition implements the second-half-vs-first-half mean trend
// test described in §4.5.
func (a *Analyzer) PredictTransition() TransitionPrediction {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, currentRegime := a.impliedVolatilityLocked()
	if len(a.samples) < minSamples*2 {
		return TransitionPrediction{Predicted: currentRegime, CurrentSeen: currentRegime}
	}

	returns := make([]float64, 0, len(a.samples)-1)
	for i := 1; i < len(a.samples); i++ {
		prev, cur := a.samples[i-1].price, a.samples[i].price
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Abs(math.Log(cur/prev)))
	}
	if len(returns) < minSamples {
		return TransitionPrediction{Predicted: currentRegime, CurrentSeen: currentRegime}
	}

	mid := len(returns) / 2
	firstHalf := stat.Mean(returns[:mid], nil)
	secondHalf := stat.Mean(returns[mid:], nil)

	if secondHalf-firstHalf > trendTestDelta && current > thresholdLow {
		return TransitionPrediction{Predicted: nextHigherRegime(currentRegime), CurrentSeen: currentRegime, Confident: true}
	}
	if firstHalf-secondHalf > trendTestDelta && current < thresholdHigh {
		return TransitionPrediction{Predicted: nextLowerRegime(currentRegime), CurrentSeen: currentRegime, Confident: true}
	}
	return TransitionPrediction{Predicted: currentRegime, CurrentSeen: currentRegime}
}

func nextHigherRegime(r types.Regime) types.Regime {
	switch r {
	case types.RegimeLow:
		return types.RegimeMedium
	case types.RegimeMedium:
		return types.RegimeHigh
	case types.RegimeHigh:
		return types.RegimeExtreme
	default:
		return types.RegimeExtreme
	}
}

func nextLowerRegime(r types.Regime) types.Regime {
	switch r {
	case types.RegimeExtreme:
		return types.RegimeHigh
	case types.RegimeHigh:
		return types.RegimeMedium
	case types.RegimeMedium:
		return types.RegimeLow
	default:
		return types.RegimeLow
	}
}
