package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/alerts"
	"github.com/driftscout/polycopy/internal/api"
	"github.com/driftscout/polycopy/internal/cache"
	"github.com/driftscout/polycopy/internal/cohort"
	"github.com/driftscout/polycopy/internal/config"
	"github.com/driftscout/polycopy/internal/health"
	"github.com/driftscout/polycopy/internal/monitor"
	"github.com/driftscout/polycopy/internal/orchestrator"
	"github.com/driftscout/polycopy/internal/quality"
	"github.com/driftscout/polycopy/internal/regime"
	"github.com/driftscout/polycopy/internal/risk"
	"github.com/driftscout/polycopy/internal/sizing"
	"github.com/driftscout/polycopy/pkg/errs"
	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{Use: "polycopy"}
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var env string
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the copy-trading engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env != "production" && env != "staging" {
				return fmt.Errorf("%w: --env must be production or staging", errs.ErrInvalidInput)
			}
			return runEngine(cmd.Context(), env, configPath)
		},
	}
	cmd.Flags().StringVar(&env, "env", "staging", "deployment environment: production|staging")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars always apply)")
	return cmd
}

func runEngine(ctx context.Context, env, configPath string) error {
	logger := newLogger(env)
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The order book, chain RPC, chat alerting, and leaderboard/wallet-data
	// feeds are external collaborators (§1) consumed through pkg/external's
	// interfaces. Production adapters are a deployer-supplied integration
	// point; the in-memory implementations below keep `run` executable
	// end-to-end until those adapters are wired in.
	orderClient := external.NewMemoryOrderClient(decimal.NewFromInt(10000))
	chainClient := external.NewMemoryChainClient()
	chatAlerter := &external.MemoryAlerter{}
	leaderboard := &external.MemoryLeaderboardSource{}
	walletData := external.NewMemoryWalletDataSource()
	logger.Warn("running with in-memory external adapters; wire real order/chain/alert clients before trading live")

	scorer := quality.New(logger)
	detector := quality.NewDetector(logger, 0.5, nil)
	composite := quality.NewEngine(logger)
	breaker := cohort.NewErrorCounter(0, 0)
	scanner := cohort.New(logger, leaderboard, walletData, scorer, detector, composite, chatAlerter, breaker)
	if cfg.Cache.RedisAddr != "" {
		if remote := cache.NewRedisTier[types.Address, types.WalletData](ctx, logger, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, "polycopy:wallet_data"); remote != nil {
			scanner.WithRemoteCache(remote)
		}
	}

	decode := func(tx external.ChainTransaction) (types.DetectedTrade, bool) { return types.DetectedTrade{}, false }
	mon := monitor.New(logger, chainClient, decode, 30*time.Second)

	var profiles [types.NumStrategies]types.StrategyRiskProfile
	profiles[types.StrategyCopyTrading] = types.StrategyRiskProfile{
		MaxPositionSize:         decimal.NewFromFloat(cfg.Risk.MaxPositionSize),
		MaxDailyLoss:            decimal.NewFromFloat(cfg.Risk.MaxDailyLoss),
		MaxConsecutiveLosses:    5,
		MaxFailureRate:          0.5,
		MaxCorrelationThreshold: 0.8,
		MaxPortfolioExposure:    decimal.NewFromFloat(cfg.Risk.MaxPositionSize * float64(cfg.Risk.MaxConcurrentPositions)),
		MaxPositionsPerMarket:   3,
		Enabled:                 true,
	}
	regimeA := regime.New(logger)
	riskMgr := risk.New(logger, cfg.DataDir, profiles, func() float64 {
		vol, _ := regimeA.ImpliedVolatility()
		return vol
	})

	sizer := sizing.New(logger)
	healthAgg := health.New(logger, chatAlerter)
	audit := alerts.NewAuditLogger(cfg.DataDir + "/audit.log")
	dispatcher := alerts.NewDispatcher(logger, chatAlerter, audit, 0)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.MaxConcurrentPositions = cfg.Risk.MaxConcurrentPositions
	orchCfg.StopLossPct = cfg.Risk.StopLossPct
	orchCfg.TakeProfitPct = cfg.Risk.TakeProfitPct
	orchCfg.MonitorInterval = time.Duration(cfg.Monitoring.MonitorInterval) * time.Second

	orch := orchestrator.New(logger, orchCfg, scanner, mon, riskMgr, sizer, regimeA, healthAgg, dispatcher, orderClient)

	apiServer := api.NewServer(logger, api.DefaultConfig(), orch)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("status API stopped", zap.Error(err))
		}
	}()

	logger.Info("engine starting", zap.String("env", env))
	runErr := orch.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("status API shutdown error", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("%w: %s", errs.ErrFatal, runErr)
	}
	logger.Info("engine stopped cleanly")
	return nil
}
