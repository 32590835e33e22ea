package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/driftscout/polycopy/internal/config"
)

func validYAML() string {
	return `
data_dir: ./data
risk:
  max_position_size: 500
  max_daily_loss: 200
  max_concurrent_positions: 10
  stop_loss_pct: 0.1
  take_profit_pct: 0.2
  max_slippage: 0.02
network:
  rpc_url: https://polygon-rpc.example
  ws_url: wss://polygon-rpc.example/ws
  chain_id: 137
monitoring:
  monitor_interval: 30
  min_confidence_score: 0.5
trading:
  private_key: "0x0000000000000000000000000000000000000000000000000000000000000001"
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validYAML())
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Network.ChainID != 137 {
		t.Fatalf("expected chain id 137, got %d", cfg.Network.ChainID)
	}
	if cfg.Risk.MaxConcurrentPositions != 10 {
		t.Fatalf("expected max_concurrent_positions 10, got %d", cfg.Risk.MaxConcurrentPositions)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, validYAML()+"\nbogus_top_level_key: true\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestLoadOverridesPrivateKeyFromEnv(t *testing.T) {
	body := `
data_dir: ./data
risk:
  max_position_size: 500
  max_daily_loss: 200
  max_concurrent_positions: 10
  stop_loss_pct: 0.1
  take_profit_pct: 0.2
  max_slippage: 0.02
network:
  rpc_url: https://polygon-rpc.example
  ws_url: wss://polygon-rpc.example/ws
  chain_id: 137
monitoring:
  monitor_interval: 30
  min_confidence_score: 0.5
`
	path := writeConfig(t, body)
	t.Setenv("POLYCOPY_TRADING_PRIVATE_KEY", "0x0000000000000000000000000000000000000000000000000000000000000002")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Trading.PrivateKey == "" {
		t.Fatal("expected private key to be populated from the environment")
	}
}

func TestValidateRejectsOutOfRangeMonitorInterval(t *testing.T) {
	cfg := config.Config{
		Risk: config.RiskConfig{
			MaxPositionSize: 100, MaxDailyLoss: 50, MaxConcurrentPositions: 5,
			StopLossPct: 0.1, TakeProfitPct: 0.2, MaxSlippage: 0.01,
		},
		Network:    config.NetworkConfig{RPCURL: "https://x.example", WSURL: "wss://x.example", ChainID: 137},
		Monitoring: config.MonitoringConfig{MonitorInterval: 600, MinConfidenceScore: 0.5},
		Trading:    config.TradingConfig{PrivateKey: "0x0000000000000000000000000000000000000000000000000000000000000001"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected monitor_interval=600 to fail the [5,300] range check")
	}
}

func TestValidateRejectsWorldReadableSecretsFile(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets")
	if err := os.WriteFile(secretsPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write secrets fixture: %v", err)
	}

	cfg := config.Config{
		Risk: config.RiskConfig{
			MaxPositionSize: 100, MaxDailyLoss: 50, MaxConcurrentPositions: 5,
			StopLossPct: 0.1, TakeProfitPct: 0.2, MaxSlippage: 0.01,
		},
		Network:    config.NetworkConfig{RPCURL: "https://x.example", WSURL: "wss://x.example", ChainID: 137},
		Monitoring: config.MonitoringConfig{MonitorInterval: 30, MinConfidenceScore: 0.5},
		Trading: config.TradingConfig{
			PrivateKey:  "0x0000000000000000000000000000000000000000000000000000000000000001",
			SecretsFile: secretsPath,
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a 0644 secrets file to fail the permission check")
	}
}
