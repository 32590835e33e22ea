// Package cohort implements leaderboard discovery and cohort selection
// (§4.10, supplementing §4.9 step 1). Grounded on
// scanners/leaderboard_scanner.py's SimpleErrorCounter/LeaderboardScanner:
// the same rolling-window error tally and run-scan-under-lock shape,
// translated into the teacher's zap-logged, explicitly-constructed
// component style.
package cohort

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/cache"
	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

const (
	defaultMaxDailyScanErrors = 10
	defaultResetPeriod        = 24 * time.Hour
	// cohortOverhead widens the leaderboard fetch beyond the target cohort
	// size so that exclusions (red flags, Poor tier) still leave enough
	// candidates to fill the cohort.
	cohortOverhead = 10
	// walletDataTTL bounds how long a fetched wallet's trade history is
	// reused across consecutive refreshes; short enough that a wallet's
	// quality score can't go stale across more than a couple of cycles.
	walletDataTTL = 10 * time.Minute
)

// ErrorCounter is the scan circuit breaker: a rolling-window error tally
// that auto-resets once resetPeriod has elapsed since the last reset.
type ErrorCounter struct {
	maxErrors   int
	resetPeriod time.Duration

	mu        sync.Mutex
	count     int
	lastReset time.Time
}

// NewErrorCounter creates an ErrorCounter. maxErrors and resetPeriod
// default to 10 errors / 24h (§4.10) when zero.
func NewErrorCounter(maxErrors int, resetPeriod time.Duration) *ErrorCounter {
	if maxErrors <= 0 {
		maxErrors = defaultMaxDailyScanErrors
	}
	if resetPeriod <= 0 {
		resetPeriod = defaultResetPeriod
	}
	return &ErrorCounter{maxErrors: maxErrors, resetPeriod: resetPeriod, lastReset: time.Now()}
}

// RecordError registers one scan failure.
func (c *ErrorCounter) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

// Reset clears the error count, as on a successful scan.
func (c *ErrorCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	c.lastReset = time.Now()
}

// IsTripped reports whether the breaker is currently open, auto-resetting
// first if the rolling window has elapsed.
func (c *ErrorCounter) IsTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastReset) > c.resetPeriod {
		c.count = 0
		c.lastReset = time.Now()
	}
	return c.count >= c.maxErrors
}

// Member is one wallet selected into the active cohort, carrying the
// composite score and tier the rest of the pipeline (sizing, risk) needs.
type Member struct {
	Wallet    types.Address
	Tier      types.Tier
	Composite types.CompositeScore
}

// Scanner is the cohort discovery and selection pipeline.
type Scanner struct {
	logger     *zap.Logger
	source     external.LeaderboardSource
	walletData external.WalletDataSource
	scorer     *quality.Scorer
	redflag    *quality.Detector
	composite  *quality.Engine
	alerter    external.Alerter
	breaker    *ErrorCounter
	dataCache  *cache.BoundedCache[types.Address, types.WalletData]

	mu      sync.Mutex
	cohort  []Member
	alerted bool
}

// New creates a Scanner. Wallet trade histories are cached for walletDataTTL
// so that re-scanning the same leaderboard entries across consecutive
// refreshes doesn't refetch a wallet's full history every cycle.
func New(logger *zap.Logger, source external.LeaderboardSource, walletData external.WalletDataSource,
	scorer *quality.Scorer, redflag *quality.Detector, composite *quality.Engine, alerter external.Alerter, breaker *ErrorCounter) *Scanner {
	if breaker == nil {
		breaker = NewErrorCounter(0, 0)
	}
	return &Scanner{
		logger:     logger,
		source:     source,
		walletData: walletData,
		scorer:     scorer,
		redflag:    redflag,
		composite:  composite,
		alerter:    alerter,
		breaker:    breaker,
		dataCache:  cache.New[types.Address, types.WalletData](cache.Config{MaxEntries: 500, DefaultTTL: walletDataTTL}, nil),
	}
}

// CleanupCache evicts expired wallet-data cache entries. Called by the
// orchestrator's periodic maintenance task (§4.9 step 6).
func (s *Scanner) CleanupCache() int {
	return s.dataCache.CleanupExpired()
}

// WithRemoteCache attaches an optional write-through remote tier (Redis in
// production) to the wallet-data cache so a restart doesn't force every
// wallet's trade history to be refetched before the next refresh.
func (s *Scanner) WithRemoteCache(remote cache.RemoteTier[types.Address, types.WalletData]) *Scanner {
	s.dataCache.WithRemote(remote)
	return s
}

func (s *Scanner) fetchWalletData(ctx context.Context, wallet types.Address) (types.WalletData, error) {
	if data, ok := s.dataCache.Get(ctx, wallet); ok {
		return data, nil
	}
	data, err := s.walletData.FetchWalletData(ctx, wallet)
	if err != nil {
		return types.WalletData{}, err
	}
	s.dataCache.Set(ctx, wallet, data, walletDataTTL)
	return data, nil
}

// Cohort returns the currently selected cohort (the result of the last
// successful Refresh, or the last fallback-preserved one).
func (s *Scanner) Cohort() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Member(nil), s.cohort...)
}

// Refresh re-scores the leaderboard, applies composite scoring (§4.3), and
// selects the top n wallets by composite score among non-excluded,
// non-Poor-tier candidates. If the scan circuit breaker is tripped, the
// refresh is skipped, a Medium alert is sent (once per trip), and the
// previously-selected cohort is returned unchanged (§4.10).
func (s *Scanner) Refresh(ctx context.Context, n int, marketRegime types.Regime, systemStress bool) ([]Member, error) {
	if s.breaker.IsTripped() {
		s.mu.Lock()
		alreadyAlerted := s.alerted
		s.alerted = true
		cohort := append([]Member(nil), s.cohort...)
		s.mu.Unlock()
		if !alreadyAlerted && s.alerter != nil {
			_ = s.alerter.SendAlert(ctx, external.AlertMedium, "cohort refresh skipped: scan circuit breaker tripped")
		}
		return cohort, nil
	}
	s.mu.Lock()
	s.alerted = false
	s.mu.Unlock()

	entries, err := s.source.FetchTop(ctx, n+cohortOverhead)
	if err != nil {
		s.breaker.RecordError()
		s.logger.Warn("leaderboard fetch failed", zap.Error(err))
		return s.Cohort(), err
	}

	candidates := make([]Member, 0, len(entries))
	for _, entry := range entries {
		data, err := s.fetchWalletData(ctx, entry.Wallet)
		if err != nil {
			s.logger.Warn("wallet data fetch failed, skipping candidate",
				zap.String("wallet", string(entry.Wallet)), zap.Error(err))
			continue
		}

		score, ok := s.scorer.Score(entry.Wallet, data)
		if !ok {
			continue
		}
		exclusion := s.redflag.Detect(entry.Wallet, data)
		if exclusion.IsExcluded {
			continue
		}
		if score.Tier == types.TierPoor {
			continue
		}

		combined := s.composite.Combine(combineInputFor(score, exclusion, marketRegime, systemStress))
		candidates = append(candidates, Member{Wallet: entry.Wallet, Tier: score.Tier, Composite: combined})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Composite.CompositeScore.GreaterThan(candidates[j].Composite.CompositeScore)
	})
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}

	s.breaker.Reset()
	s.mu.Lock()
	s.cohort = candidates
	s.mu.Unlock()

	s.logger.Info("cohort refreshed", zap.Int("size", len(candidates)))
	return candidates, nil
}

func combineInputFor(q types.QualityScore, exclusion types.ExclusionResult, marketRegime types.Regime, systemStress bool) quality.CombineInput {
	return quality.CombineInput{
		Quality:        q,
		Exclusion:      exclusion,
		ScoreAgeAtEval: time.Since(q.LastUpdated),
		MarketRegime:   marketRegime,
		SystemStress:   systemStress,
	}
}
