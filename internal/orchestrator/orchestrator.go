// Package orchestrator implements the single orchestration loop (§4.9):
// cohort refresh, composite health checks, wallet-monitor trade intake,
// risk-checked and sized order placement, open-position management, and
// periodic maintenance. Grounded on the teacher's
// internal/orchestrator.TradingOrchestrator (Start/Stop lifecycle,
// zap-logged background loops, mutex-guarded metrics struct) with its
// event-bus/HMM/walk-forward machinery replaced by the wallet-copy-trading
// pipeline; periodic maintenance tasks are scheduled with robfig/cron/v3,
// grounded on aristath-sentinel's internal/scheduler.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/alerts"
	"github.com/driftscout/polycopy/internal/cohort"
	"github.com/driftscout/polycopy/internal/health"
	"github.com/driftscout/polycopy/internal/monitor"
	"github.com/driftscout/polycopy/internal/regime"
	"github.com/driftscout/polycopy/internal/risk"
	"github.com/driftscout/polycopy/internal/sizing"
	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/ratelimit"
	"github.com/driftscout/polycopy/pkg/types"
)

// Config holds the orchestration cadence and batching parameters named in
// §4.9 and §6.
type Config struct {
	MonitorInterval           time.Duration
	WalletUpdateInterval      time.Duration
	MaxConcurrentPositions    int
	CohortOverhead            int
	BatchSize                 int
	InterBatchDelay           time.Duration
	PerformanceReportInterval time.Duration
	ShutdownGrace             time.Duration
	StopLossPct               float64
	TakeProfitPct             float64
}

// DefaultConfig returns the §6 defaults.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:           30 * time.Second,
		WalletUpdateInterval:      time.Hour,
		MaxConcurrentPositions:    10,
		CohortOverhead:            5,
		BatchSize:                 10,
		InterBatchDelay:           100 * time.Millisecond,
		PerformanceReportInterval: 5 * time.Minute,
		ShutdownGrace:             5 * time.Second,
		StopLossPct:               0.10,
		TakeProfitPct:             0.20,
	}
}

// Metrics is the mutex-guarded counter set exposed to the status surface.
type Metrics struct {
	CyclesRun          int64
	TradesDetected     int64
	TradesExecuted     int64
	TradesRejected     int64
	PositionsClosed    int64
	FallbackActivated  int64
	LastCycleAt        time.Time
	LastCycleDuration  time.Duration
	LastCohortRefresh  time.Time
	LastPerformanceRun time.Time
}

// Orchestrator is the copy-trading engine's single integration point.
type Orchestrator struct {
	logger *zap.Logger
	cfg    Config

	cohortScanner *cohort.Scanner
	walletMonitor *monitor.Monitor
	riskManager   *risk.Manager
	sizer         *sizing.Engine
	regimeA       *regime.Analyzer
	healthAgg     *health.Aggregator
	dispatcher    *alerts.Dispatcher
	orders        external.OrderClient
	orderLimiter  *ratelimit.Limiter

	detected chan types.DetectedTrade

	mu                sync.Mutex
	cohortIndex       map[types.Address]cohort.Member
	positions         map[string]types.Position
	lastCohortRefresh time.Time
	metrics           Metrics

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Orchestrator. Collaborators are constructed by the
// caller (cmd/polycopy) and injected here; Orchestrator owns none of their
// lifecycles except starting/stopping walletMonitor.
func New(
	logger *zap.Logger,
	cfg Config,
	cohortScanner *cohort.Scanner,
	walletMonitor *monitor.Monitor,
	riskManager *risk.Manager,
	sizer *sizing.Engine,
	regimeA *regime.Analyzer,
	healthAgg *health.Aggregator,
	dispatcher *alerts.Dispatcher,
	orders external.OrderClient,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Orchestrator{
		logger:        logger.Named("orchestrator"),
		cfg:           cfg,
		cohortScanner: cohortScanner,
		walletMonitor: walletMonitor,
		riskManager:   riskManager,
		sizer:         sizer,
		regimeA:       regimeA,
		healthAgg:     healthAgg,
		dispatcher:    dispatcher,
		orders:        orders,
		orderLimiter:  ratelimit.OrderAPILimiter(),
		detected:      make(chan types.DetectedTrade, 1024),
		cohortIndex:   make(map[types.Address]cohort.Member),
		positions:     make(map[string]types.Position),
	}
}

// Run starts the wallet monitor, the maintenance scheduler, and the main
// orchestration loop; it blocks until ctx is cancelled, then shuts down
// within cfg.ShutdownGrace.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.walletMonitor.Start(ctx, func(trade types.DetectedTrade) {
		select {
		case o.detected <- trade:
		default:
			o.logger.Warn("detected-trade buffer full, dropping trade",
				zap.String("tx_hash", trade.TxHash))
		}
	})

	o.cron = cron.New()
	if _, err := o.cron.AddFunc("@hourly", o.runDailyResetCheck); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	maintenanceSpec := fmt.Sprintf("@every %s", o.cfg.PerformanceReportInterval)
	if _, err := o.cron.AddFunc(maintenanceSpec, func() { o.runCacheCleanup(); o.runPerformanceReport(ctx) }); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	o.cron.Start()

	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	o.logger.Info("orchestrator started", zap.Duration("monitor_interval", o.cfg.MonitorInterval))

	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// Stop requests a graceful shutdown; Run's caller observes it via ctx
// cancellation, typically wired to an os/signal context.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) shutdown() error {
	o.logger.Info("orchestrator shutting down", zap.Duration("grace", o.cfg.ShutdownGrace))
	done := make(chan struct{})
	go func() {
		o.cron.Stop()
		o.walletMonitor.Stop()
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownGrace):
		o.logger.Warn("shutdown grace period elapsed, abandoning in-flight work")
	}

	if err := o.riskManager.Flush(); err != nil {
		o.logger.Warn("final risk state flush failed", zap.Error(err))
	}
	if o.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.dispatcher.Send(ctx, external.AlertLow, "orchestrator", "shutdown", "orchestrator stopped gracefully")
	}
	o.logger.Info("orchestrator stopped")
	return nil
}

// runCycle executes one iteration of the §4.9 loop.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := time.Now()

	o.refreshCohortIfDue(ctx)
	o.runHealthCheck(ctx)

	trades := o.drainDetected()
	if len(trades) > 0 {
		o.processTrades(ctx, trades)
	}

	o.managePositions(ctx)

	o.mu.Lock()
	o.metrics.CyclesRun++
	o.metrics.LastCycleAt = start
	o.metrics.LastCycleDuration = time.Since(start)
	o.mu.Unlock()
}

// refreshCohortIfDue implements §4.9 step 1.
func (o *Orchestrator) refreshCohortIfDue(ctx context.Context) {
	o.mu.Lock()
	due := time.Since(o.lastCohortRefresh) >= o.cfg.WalletUpdateInterval
	o.mu.Unlock()
	if !due {
		return
	}

	_, regimeBucket := o.regimeA.ImpliedVolatility()
	members, err := o.cohortScanner.Refresh(ctx, o.cfg.MaxConcurrentPositions+o.cfg.CohortOverhead,
		regimeBucket, o.healthAgg.IsSystemStress())
	if err != nil {
		o.healthAgg.RecordFailure(ctx, "cohort_scanner", err)
	} else {
		o.healthAgg.RecordSuccess("cohort_scanner")
	}

	index := make(map[types.Address]cohort.Member, len(members))
	for _, m := range members {
		index[m.Wallet] = m
		o.walletMonitor.Watch(m.Wallet)
	}

	o.mu.Lock()
	for addr := range o.cohortIndex {
		if _, stillIn := index[addr]; !stillIn {
			o.walletMonitor.Unwatch(addr)
		}
	}
	o.cohortIndex = index
	o.lastCohortRefresh = time.Now()
	o.metrics.LastCohortRefresh = o.lastCohortRefresh
	o.mu.Unlock()
}

// runHealthCheck implements §4.9 step 2: a cheap liveness probe of the
// order client, escalated through the §4.11 aggregator.
func (o *Orchestrator) runHealthCheck(ctx context.Context) {
	if o.orders.HealthCheck(ctx) {
		o.healthAgg.RecordSuccess("order_client")
	} else {
		o.healthAgg.RecordFailure(ctx, "order_client", fmt.Errorf("order client health check failed"))
	}

	if o.walletMonitor.Mode() == monitor.ModePolling {
		o.healthAgg.RecordFailure(ctx, "wallet_monitor", fmt.Errorf("running in polling fallback"))
	} else {
		o.healthAgg.RecordSuccess("wallet_monitor")
	}
}

// drainDetected empties the buffered trade channel non-blockingly.
func (o *Orchestrator) drainDetected() []types.DetectedTrade {
	var trades []types.DetectedTrade
	for {
		select {
		case trade := <-o.detected:
			trades = append(trades, trade)
		default:
			if len(trades) > 0 {
				o.mu.Lock()
				o.metrics.TradesDetected += int64(len(trades))
				o.mu.Unlock()
			}
			return trades
		}
	}
}

// processTrades implements §4.9 step 4 and §5.A's batch-of-10 semaphore
// pattern: up to cfg.BatchSize wallets run concurrently per batch, with
// cfg.InterBatchDelay between batches. Trades from the same wallet are
// sharded onto the same goroutine and executed in arrival order, since
// §5.A requires one ordered delivery queue per wallet — fanning every
// trade out independently could reorder two same-wallet trades that land
// in the same batch.
func (o *Orchestrator) processTrades(ctx context.Context, trades []types.DetectedTrade) {
	for start := 0; start < len(trades); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(trades) {
			end = len(trades)
		}
		batch := trades[start:end]

		byWallet := make(map[types.Address][]types.DetectedTrade, len(batch))
		wallets := make([]types.Address, 0, len(batch))
		for _, t := range batch {
			if _, seen := byWallet[t.WalletAddress]; !seen {
				wallets = append(wallets, t.WalletAddress)
			}
			byWallet[t.WalletAddress] = append(byWallet[t.WalletAddress], t)
		}

		sem := make(chan struct{}, o.cfg.BatchSize)
		var wg sync.WaitGroup
		for _, wallet := range wallets {
			sem <- struct{}{}
			wg.Add(1)
			go func(walletTrades []types.DetectedTrade) {
				defer wg.Done()
				defer func() { <-sem }()
				for _, t := range walletTrades {
					o.executeTrade(ctx, t)
				}
			}(byWallet[wallet])
		}
		wg.Wait()

		if end < len(trades) {
			time.Sleep(o.cfg.InterBatchDelay)
		}
	}
}

func (o *Orchestrator) executeTrade(ctx context.Context, trade types.DetectedTrade) {
	o.mu.Lock()
	member, ok := o.cohortIndex[trade.WalletAddress]
	openMarkets := make([]string, 0, len(o.positions))
	var portfolioExposure decimal.Decimal
	for marketID, pos := range o.positions {
		openMarkets = append(openMarkets, marketID)
		portfolioExposure = portfolioExposure.Add(pos.Amount.Mul(pos.EntryPrice))
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("dropping trade for wallet outside the current cohort",
			zap.String("wallet", string(trade.WalletAddress)))
		return
	}

	allowance := o.riskManager.CheckAllowed(types.StrategyCopyTrading, risk.Trade{
		MarketID: trade.MarketID, Amount: trade.Amount,
	}, portfolioExposure, openMarkets)
	if !allowance.Allowed {
		o.mu.Lock()
		o.metrics.TradesRejected++
		o.mu.Unlock()
		o.logger.Info("trade rejected by risk manager", zap.String("reason", allowance.Reason))
		return
	}
	amount := trade.Amount
	if !allowance.AdjustedSize.IsZero() {
		amount = allowance.AdjustedSize
	}

	balance, err := o.orders.GetBalance(ctx)
	if err != nil {
		o.healthAgg.RecordFailure(ctx, "order_client", err)
		return
	}
	volatility, _ := o.regimeA.ImpliedVolatility()

	decision := o.sizer.ComputeSize(sizing.Request{
		Wallet:              trade.WalletAddress,
		Tier:                member.Tier,
		CompositeScore:      member.Composite.CompositeScore,
		Balance:             balance,
		OriginalTradeAmount: amount,
		Volatility:          volatility,
		MaxWalletExposure:   balance,
		SystemStress:        o.healthAgg.IsSystemStress(),
	})
	if decision.FinalSize.IsZero() {
		return
	}

	result, err := ratelimit.Do(ctx, o.orderLimiter, func(ctx context.Context) (external.OrderResult, error) {
		return o.orders.PlaceOrder(ctx, trade.MarketID, string(trade.Side), decision.FinalSize, trade.Price)
	})
	if err != nil {
		o.riskManager.RecordResult(types.StrategyCopyTrading, false, decimal.Zero)
		o.healthAgg.RecordFailure(ctx, "order_client", err)
		return
	}

	// Realized P&L isn't known at fill time; RecordResult for this trade
	// fires from managePositions once the position closes.
	o.sizer.RecordExposure(trade.WalletAddress, decision.FinalSize)
	o.healthAgg.RecordSuccess("order_client")

	o.mu.Lock()
	o.positions[trade.MarketID] = types.Position{
		MarketID: trade.MarketID, Side: trade.Side, Amount: result.FilledAmount,
		EntryPrice: trade.Price, OpenedAt: time.Now(), OrderID: result.OrderID, SourceTrade: trade,
	}
	o.metrics.TradesExecuted++
	o.mu.Unlock()

	if o.dispatcher != nil {
		_ = o.dispatcher.Send(ctx, external.AlertLow, "orchestrator", "trade_executed", alerts.FormatTrade(trade, result))
	}
}

// managePositions implements §4.9 step 5: poll current price and close at
// ±takeProfit/±stopLoss from each open position's entry.
func (o *Orchestrator) managePositions(ctx context.Context) {
	o.mu.Lock()
	snapshot := make([]types.Position, 0, len(o.positions))
	for _, pos := range o.positions {
		snapshot = append(snapshot, pos)
	}
	o.mu.Unlock()

	for _, pos := range snapshot {
		price, err := o.orders.GetPrice(ctx, pos.MarketID)
		if err != nil {
			o.healthAgg.RecordFailure(ctx, "order_client", err)
			continue
		}
		if !o.shouldClose(pos, price) {
			continue
		}

		closeSide := string(types.SideSell)
		if pos.Side == types.SideSell {
			closeSide = string(types.SideBuy)
		}
		if _, err := o.orders.PlaceOrder(ctx, pos.MarketID, closeSide, pos.Amount, price); err != nil {
			o.healthAgg.RecordFailure(ctx, "order_client", err)
			continue
		}

		pnl := price.Sub(pos.EntryPrice).Mul(pos.Amount)
		if pos.Side == types.SideSell {
			pnl = pnl.Neg()
		}
		o.riskManager.RecordResult(types.StrategyCopyTrading, true, pnl)

		o.sizer.RecordExposure(pos.SourceTrade.WalletAddress, pos.Amount.Neg())
		o.mu.Lock()
		delete(o.positions, pos.MarketID)
		o.metrics.PositionsClosed++
		o.mu.Unlock()
	}
}

func (o *Orchestrator) shouldClose(pos types.Position, current decimal.Decimal) bool {
	if pos.EntryPrice.IsZero() {
		return false
	}
	change := current.Sub(pos.EntryPrice).Div(pos.EntryPrice)
	if pos.Side == types.SideSell {
		change = change.Neg()
	}
	tp := decimal.NewFromFloat(o.cfg.TakeProfitPct)
	sl := decimal.NewFromFloat(o.cfg.StopLossPct)
	return change.GreaterThanOrEqual(tp) || change.LessThanOrEqual(sl.Neg())
}

// runDailyResetCheck is the hourly cron job backing §4.7's daily reset.
func (o *Orchestrator) runDailyResetCheck() {
	o.riskManager.DailyReset(time.Now().UTC())
}

// runCacheCleanup sweeps expired entries from every BoundedCache the
// orchestrator's collaborators own (§4.9 step 6); BoundedCache only expires
// entries lazily on Get or via this explicit sweep, so something has to
// call it on a schedule.
func (o *Orchestrator) runCacheCleanup() {
	removed := o.cohortScanner.CleanupCache()
	o.logger.Debug("cache cleanup tick", zap.Int("wallet_data_evicted", removed))
}

// runPerformanceReport implements §4.9 step 6's 5-minute report.
func (o *Orchestrator) runPerformanceReport(ctx context.Context) {
	o.mu.Lock()
	report := types.PerformanceReport{
		GeneratedAt:   time.Now(),
		CohortSize:    len(o.cohortIndex),
		OpenPositions: len(o.positions),
		BreakerStates: o.riskManager.State(),
	}
	o.metrics.LastPerformanceRun = report.GeneratedAt
	o.mu.Unlock()

	o.logger.Info("performance report",
		zap.Int("cohort_size", report.CohortSize),
		zap.Int("open_positions", report.OpenPositions))

	if o.dispatcher != nil {
		_ = o.dispatcher.Send(ctx, external.AlertLow, "orchestrator", "performance_report", alerts.FormatPerformanceReport(report))
	}
}

// Metrics returns a snapshot of the orchestrator's counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics
}

// Positions returns a snapshot of currently open positions.
func (o *Orchestrator) Positions() []types.Position {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Position, 0, len(o.positions))
	for _, p := range o.positions {
		out = append(out, p)
	}
	return out
}

// Reports satisfies internal/api.StatusProvider by delegating to the
// health aggregator.
func (o *Orchestrator) Reports() []types.HealthReport {
	return o.healthAgg.Reports()
}
