// Package monitor implements WalletMonitor (§4.8): per-wallet real-time
// trade detection with a WebSocket primary transport and a polling
// fallback. Adapted from the teacher's internal/blockchain.EVMClient —
// same connect/subscribe/reconnect/callback shape, generalized from a
// single always-on WS client to the WS-then-polling sequencing and
// dedup/ordered-delivery guarantees §4.8 specifies. Block-height tracking
// during the polling fallback is grounded on internal/blockchain.BlockTracker.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftscout/polycopy/internal/cache"
	"github.com/driftscout/polycopy/pkg/external"
	"github.com/driftscout/polycopy/pkg/types"
)

const (
	maxReconnects       = 10
	initialBackoff      = time.Second
	maxBackoff          = 60 * time.Second
	healthSilenceWindow = 120 * time.Second
	defaultPollInterval = 15 * time.Second
	dedupCapacity       = 10000
)

// TradeDecoder turns a raw chain transaction into a DetectedTrade. Decoding
// a prediction-market order fill from calldata is protocol-specific and
// deliberately not reimplemented here (§1): callers supply the decoder for
// the order book they are copying.
type TradeDecoder func(tx external.ChainTransaction) (types.DetectedTrade, bool)

// TradeCallback receives each newly detected trade, exactly once per txHash
// per wallet (§3, §8).
type TradeCallback func(types.DetectedTrade)

// Mode is the monitor's current transport.
type Mode string

const (
	ModeWebSocket Mode = "websocket"
	ModePolling   Mode = "polling"
)

// Monitor is the WalletMonitor.
type Monitor struct {
	logger       *zap.Logger
	chain        external.ChainClient
	decode       TradeDecoder
	pollInterval time.Duration

	// Tuning knobs, defaulted in New but overridable (e.g. by tests that
	// need a short reconnect/silence cycle rather than the real §4.8
	// timings).
	MaxReconnects       int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	HealthSilenceWindow time.Duration

	mu                  sync.Mutex
	wallets             map[types.Address]struct{}
	lastPolledBlock     map[types.Address]uint64
	dedup               *cache.FIFOSet[string]
	mode                Mode
	fallbackActivations int64
	cancel              context.CancelFunc
	wg                  sync.WaitGroup
}

// New creates a Monitor. pollInterval defaults to 15s (§4.8) when zero.
func New(logger *zap.Logger, chain external.ChainClient, decode TradeDecoder, pollInterval time.Duration) *Monitor {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Monitor{
		logger:              logger,
		chain:               chain,
		decode:              decode,
		pollInterval:        pollInterval,
		MaxReconnects:       maxReconnects,
		InitialBackoff:      initialBackoff,
		MaxBackoff:          maxBackoff,
		HealthSilenceWindow: healthSilenceWindow,
		wallets:             make(map[types.Address]struct{}),
		lastPolledBlock:     make(map[types.Address]uint64),
		dedup:               cache.NewFIFOSet[string](dedupCapacity),
		mode:                ModeWebSocket,
	}
}

// Watch adds wallet to the tracked set. Safe to call after Start.
func (m *Monitor) Watch(wallet types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet] = struct{}{}
}

// Unwatch removes wallet from the tracked set.
func (m *Monitor) Unwatch(wallet types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wallets, wallet)
	delete(m.lastPolledBlock, wallet)
}

// Mode reports the monitor's current active transport.
func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// FallbackActivations returns the fallback_activations counter (§8 scenario 6).
func (m *Monitor) FallbackActivations() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackActivations
}

// Start launches the background run loop. Cancelling ctx, or calling Stop,
// shuts it down gracefully within 5s (§5).
func (m *Monitor) Start(ctx context.Context, callback TradeCallback) {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx, callback)
	}()
}

// Stop cancels the background run loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, callback TradeCallback) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := m.runWebSocket(ctx, callback)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// runWebSocket returns nil only when ctx is cancelled, which the
			// check above already handles; every disconnect, including one
			// after a long-held connection, counts toward MaxReconnects.
			attempt = 0
			continue
		}

		attempt++
		m.logger.Warn("wallet monitor websocket disconnected", zap.Error(err), zap.Int("attempt", attempt))
		if attempt < m.MaxReconnects {
			backoff := m.InitialBackoff << uint(attempt-1)
			if backoff > m.MaxBackoff || backoff <= 0 {
				backoff = m.MaxBackoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		m.enterFallback(ctx, callback)
		attempt = 0
	}
}

// runWebSocket opens a single subscription and services it until it fails
// or the health check trips. Returns nil if ctx was cancelled while
// connected (clean shutdown, not a disconnect).
func (m *Monitor) runWebSocket(ctx context.Context, callback TradeCallback) error {
	m.mu.Lock()
	addrs := make([]string, 0, len(m.wallets))
	for w := range m.wallets {
		addrs = append(addrs, string(w))
	}
	m.mu.Unlock()

	stream, err := m.chain.Subscribe(ctx, addrs)
	if err != nil {
		return err
	}

	m.setMode(ModeWebSocket)
	silence := time.NewTimer(m.HealthSilenceWindow)
	defer silence.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-silence.C:
			return errHealthSilence
		case payload, ok := <-stream:
			if !ok {
				return errStreamClosed
			}
			if !silence.Stop() {
				<-silence.C
			}
			silence.Reset(m.HealthSilenceWindow)
			m.handleNotification(ctx, payload, callback)
		}
	}
}

var (
	errHealthSilence = monitorErr("no message received within health window")
	errStreamClosed  = monitorErr("subscription stream closed")
)

type monitorErr string

func (e monitorErr) Error() string { return string(e) }

// jsonRPCNotification is the eth_subscription envelope of §6: result is
// either a bare pending-tx hash string or a block header object. Block
// headers carry no trade signal on their own and are dropped here; the new
// block itself is what eventually surfaces the wallet's transactions
// through the regular subscription once mined.
type jsonRPCNotification struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// handleNotification decodes a raw subscription payload, fetches the full
// transaction for any pending-tx hash it carries, and routes it to decode.
func (m *Monitor) handleNotification(ctx context.Context, payload []byte, callback TradeCallback) {
	var notif jsonRPCNotification
	if err := json.Unmarshal(payload, &notif); err != nil || notif.Method != "eth_subscription" {
		return
	}
	var txHash string
	if err := json.Unmarshal(notif.Params.Result, &txHash); err != nil {
		return // block header notification, not a pending-tx hash
	}
	tx, err := m.chain.GetTransaction(ctx, txHash)
	if err != nil {
		return
	}
	m.deliver(tx, callback)
}

func (m *Monitor) deliver(tx external.ChainTransaction, callback TradeCallback) {
	trade, ok := m.decode(tx)
	if !ok {
		return
	}
	if !m.dedup.Add(trade.TxHash) {
		return
	}
	callback(trade)
}

func (m *Monitor) setMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// enterFallback runs the polling loop while periodically probing the
// WebSocket in the background; it returns once a probe succeeds and holds,
// or ctx is cancelled.
func (m *Monitor) enterFallback(ctx context.Context, callback TradeCallback) {
	m.mu.Lock()
	m.fallbackActivations++
	m.mu.Unlock()
	m.setMode(ModePolling)
	m.logger.Warn("wallet monitor entering polling fallback", zap.Duration("interval", m.pollInterval))

	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	recovered := make(chan struct{}, 1)
	go m.probeWebSocketUntilHealthy(probeCtx, recovered)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recovered:
			return
		case <-ticker.C:
			m.pollOnce(ctx, callback)
		}
	}
}

// probeWebSocketUntilHealthy periodically attempts a subscription; a
// connection that survives one health-silence window counts as "held" and
// signals recovery.
func (m *Monitor) probeWebSocketUntilHealthy(ctx context.Context, recovered chan<- struct{}) {
	backoff := m.InitialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		m.mu.Lock()
		addrs := make([]string, 0, len(m.wallets))
		for w := range m.wallets {
			addrs = append(addrs, string(w))
		}
		m.mu.Unlock()

		stream, err := m.chain.Subscribe(ctx, addrs)
		if err != nil {
			backoff *= 2
			if backoff > m.MaxBackoff {
				backoff = m.MaxBackoff
			}
			continue
		}

		held := waitHeldOrSilent(ctx, stream, m.HealthSilenceWindow)
		if held {
			select {
			case recovered <- struct{}{}:
			default:
			}
			return
		}
		backoff = m.InitialBackoff
	}
}

func waitHeldOrSilent(ctx context.Context, stream <-chan []byte, window time.Duration) bool {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-deadline.C:
		return true
	case _, ok := <-stream:
		return ok
	}
}

// pollOnce fetches new transactions for every tracked wallet since its
// last-seen block.
func (m *Monitor) pollOnce(ctx context.Context, callback TradeCallback) {
	latest, err := m.chain.GetLatestBlock(ctx)
	if err != nil {
		m.logger.Warn("wallet monitor poll: failed to fetch latest block", zap.Error(err))
		return
	}

	m.mu.Lock()
	wallets := make([]types.Address, 0, len(m.wallets))
	for w := range m.wallets {
		wallets = append(wallets, w)
	}
	m.mu.Unlock()

	for _, wallet := range wallets {
		m.mu.Lock()
		from := m.lastPolledBlock[wallet]
		m.mu.Unlock()
		if from == 0 {
			from = latest
		}

		txs, err := m.chain.GetTransactions(ctx, string(wallet), from, latest)
		if err != nil {
			m.logger.Warn("wallet monitor poll: failed to fetch transactions",
				zap.String("wallet", string(wallet)), zap.Error(err))
			continue
		}
		for _, tx := range txs {
			m.deliver(tx, callback)
		}

		m.mu.Lock()
		m.lastPolledBlock[wallet] = latest + 1
		m.mu.Unlock()
	}
}
