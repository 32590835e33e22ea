package monitor_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/monitor"
	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

// decodeEveryTx treats every observed transaction as a trade, keyed by its
// hash, so tests can focus on delivery/dedup rather than decoding.
func decodeEveryTx(tx external.ChainTransaction) (types.DetectedTrade, bool) {
	return types.DetectedTrade{
		TxHash:        tx.Hash,
		BlockNumber:   tx.BlockNumber,
		WalletAddress: types.Address(tx.From),
		MarketID:      "m1",
	}, true
}

func subscriptionPayload(t *testing.T, txHash string) []byte {
	t.Helper()
	resultJSON, err := json.Marshal(txHash)
	if err != nil {
		t.Fatalf("marshal tx hash: %v", err)
	}
	payload := struct {
		Method string `json:"method"`
		Params struct {
			Result json.RawMessage `json:"result"`
		} `json:"params"`
	}{Method: "eth_subscription"}
	payload.Params.Result = resultJSON
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestWebSocketDeliversTradeOnceAndDedups(t *testing.T) {
	chain := external.NewMemoryChainClient()
	stream := make(chan []byte)
	chain.SetStream(stream)
	chain.Transactions["0xabc"] = external.ChainTransaction{Hash: "0xabc", From: "0xwallet"}

	m := monitor.New(zap.NewNop(), chain, decodeEveryTx, time.Second)

	received := make(chan types.DetectedTrade, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch("0xwallet")
	m.Start(ctx, func(trade types.DetectedTrade) { received <- trade })
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return m.Mode() == monitor.ModeWebSocket })

	stream <- subscriptionPayload(t, "0xabc")
	select {
	case trade := <-received:
		if trade.TxHash != "0xabc" {
			t.Fatalf("expected trade for 0xabc, got %s", trade.TxHash)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trade delivery")
	}

	// Same tx hash again must be suppressed by the dedup set.
	stream <- subscriptionPayload(t, "0xabc")
	select {
	case trade := <-received:
		t.Fatalf("expected duplicate tx hash to be suppressed, got %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketBlockHeaderNotificationIsDropped(t *testing.T) {
	chain := external.NewMemoryChainClient()
	stream := make(chan []byte)
	chain.SetStream(stream)

	m := monitor.New(zap.NewNop(), chain, decodeEveryTx, time.Second)
	received := make(chan types.DetectedTrade, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch("0xwallet")
	m.Start(ctx, func(trade types.DetectedTrade) { received <- trade })
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return m.Mode() == monitor.ModeWebSocket })

	header := struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
	}{Method: "eth_subscription"}
	raw, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	stream <- raw

	select {
	case trade := <-received:
		t.Fatalf("expected block-header notification to be dropped, got %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectExhaustionEntersPollingFallback(t *testing.T) {
	chain := external.NewMemoryChainClient()
	chain.SubscribeErr = errSubscribeFailed{}
	chain.LatestBlock = 100
	chain.ByAddress["0xwallet"] = []external.ChainTransaction{{Hash: "0xpolled", BlockNumber: 99, From: "0xwallet"}}

	m := monitor.New(zap.NewNop(), chain, decodeEveryTx, 5*time.Millisecond)
	m.MaxReconnects = 2
	m.InitialBackoff = time.Millisecond
	m.MaxBackoff = 2 * time.Millisecond
	m.HealthSilenceWindow = 20 * time.Millisecond

	received := make(chan types.DetectedTrade, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch("0xwallet")
	m.Start(ctx, func(trade types.DetectedTrade) { received <- trade })
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return m.Mode() == monitor.ModePolling })
	if m.FallbackActivations() != 1 {
		t.Fatalf("expected exactly one fallback activation, got %d", m.FallbackActivations())
	}

	select {
	case trade := <-received:
		if trade.TxHash != "0xpolled" {
			t.Fatalf("expected polled trade 0xpolled, got %s", trade.TxHash)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for polling to deliver the seeded transaction")
	}
}

func TestFallbackRecoversToWebSocketOnceProbeHolds(t *testing.T) {
	chain := external.NewMemoryChainClient()
	chain.SubscribeErr = errSubscribeFailed{}
	chain.LatestBlock = 1

	m := monitor.New(zap.NewNop(), chain, decodeEveryTx, 5*time.Millisecond)
	m.MaxReconnects = 1
	m.InitialBackoff = time.Millisecond
	m.MaxBackoff = 2 * time.Millisecond
	m.HealthSilenceWindow = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch("0xwallet")
	m.Start(ctx, func(types.DetectedTrade) {})
	defer m.Stop()

	waitUntil(t, time.Second, func() bool { return m.Mode() == monitor.ModePolling })

	// Clear the failure and supply a stream that simply stays open and
	// silent, which the probe counts as a held connection.
	chain.SetSubscribeErr(nil)
	chain.SetStream(make(chan []byte))

	waitUntil(t, 2*time.Second, func() bool { return m.Mode() == monitor.ModeWebSocket })
}

func TestStopIsGraceful(t *testing.T) {
	chain := external.NewMemoryChainClient()
	chain.SetStream(make(chan []byte))

	m := monitor.New(zap.NewNop(), chain, decodeEveryTx, time.Second)
	ctx := context.Background()
	m.Watch("0xwallet")
	m.Start(ctx, func(types.DetectedTrade) {})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

type errSubscribeFailed struct{}

func (errSubscribeFailed) Error() string { return "subscribe failed" }
