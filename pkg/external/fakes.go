package external

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/driftscout/polycopy/pkg/types"
)

// MemoryLeaderboardSource is a minimal in-memory LeaderboardSource.
type MemoryLeaderboardSource struct {
	mu      sync.Mutex
	Entries []types.LeaderboardEntry
	Err     error
	Calls   int
}

func (s *MemoryLeaderboardSource) FetchTop(ctx context.Context, n int) ([]types.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	if n > len(s.Entries) {
		n = len(s.Entries)
	}
	return append([]types.LeaderboardEntry(nil), s.Entries[:n]...), nil
}

// MemoryWalletDataSource is a minimal in-memory WalletDataSource keyed by
// wallet address.
type MemoryWalletDataSource struct {
	mu    sync.Mutex
	Data  map[types.Address]types.WalletData
	Err   error
	Calls int
}

func NewMemoryWalletDataSource() *MemoryWalletDataSource {
	return &MemoryWalletDataSource{Data: make(map[types.Address]types.WalletData)}
}

func (s *MemoryWalletDataSource) FetchWalletData(ctx context.Context, wallet types.Address) (types.WalletData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return types.WalletData{}, s.Err
	}
	return s.Data[wallet], nil
}

// MemoryChainClient is a minimal in-memory ChainClient used by tests. It
// serves Subscribe from a replaceable channel (so a test can push
// notification payloads or close it to simulate a dropped connection) and
// GetTransaction/GetTransactions from a seeded transaction table.
type MemoryChainClient struct {
	mu sync.Mutex

	LatestBlock  uint64
	Transactions map[string]ChainTransaction
	// ByAddress holds the transactions GetTransactions should return for a
	// given address, independent of the fromBlock/toBlock bounds.
	ByAddress map[string][]ChainTransaction

	SubscribeErr error
	stream       chan []byte

	SubscribeCalls int
}

// NewMemoryChainClient creates an empty MemoryChainClient.
func NewMemoryChainClient() *MemoryChainClient {
	return &MemoryChainClient{
		Transactions: make(map[string]ChainTransaction),
		ByAddress:    make(map[string][]ChainTransaction),
	}
}

func (c *MemoryChainClient) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LatestBlock, nil
}

func (c *MemoryChainClient) GetTransactions(ctx context.Context, addr string, fromBlock, toBlock uint64) ([]ChainTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChainTransaction(nil), c.ByAddress[addr]...), nil
}

func (c *MemoryChainClient) GetTransaction(ctx context.Context, hash string) (ChainTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[hash], nil
}

// Subscribe returns the current stream channel, creating one if none is
// installed.
// SetStream installs the channel a test will push payloads onto or close.
func (c *MemoryChainClient) Subscribe(ctx context.Context, addresses []string) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls++
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	if c.stream == nil {
		c.stream = make(chan []byte)
	}
	return c.stream, nil
}

// SetStream installs the channel the next (and current) Subscribe call
// serves from.
func (c *MemoryChainClient) SetStream(ch chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = ch
}

// SetSubscribeErr toggles the error Subscribe returns. Safe for concurrent
// use with a running Monitor, unlike writing the SubscribeErr field directly.
func (c *MemoryChainClient) SetSubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeErr = err
}

// MemoryOrderClient is a minimal in-memory OrderClient used by tests and
// paper-trading runs. It never fails unless Fail is set.
type MemoryOrderClient struct {
	mu      sync.Mutex
	Balance decimal.Decimal
	Prices  map[string]decimal.Decimal
	Orders  []OrderResult
	Fail    error
}

// NewMemoryOrderClient creates a MemoryOrderClient seeded with balance.
func NewMemoryOrderClient(balance decimal.Decimal) *MemoryOrderClient {
	return &MemoryOrderClient{Balance: balance, Prices: make(map[string]decimal.Decimal)}
}

func (c *MemoryOrderClient) PlaceOrder(ctx context.Context, marketID string, side string, amount, price decimal.Decimal) (OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		return OrderResult{}, c.Fail
	}
	result := OrderResult{
		OrderID:      "ord_" + uuid.NewString(),
		FilledAmount: amount,
		Status:       OrderStatusFilled,
	}
	c.Orders = append(c.Orders, result)
	return result, nil
}

func (c *MemoryOrderClient) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

func (c *MemoryOrderClient) GetPrice(ctx context.Context, marketID string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.Prices[marketID]; ok {
		return p, nil
	}
	return decimal.NewFromFloat(0.5), nil
}

func (c *MemoryOrderClient) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balance, nil
}

func (c *MemoryOrderClient) HealthCheck(ctx context.Context) bool {
	return c.Fail == nil
}

// MemoryAlerter records alerts sent to it, for use in tests.
type MemoryAlerter struct {
	mu     sync.Mutex
	Alerts []AlertRecord
}

// AlertRecord is one recorded call to SendAlert.
type AlertRecord struct {
	Level   AlertLevel
	Message string
}

func (a *MemoryAlerter) SendAlert(ctx context.Context, level AlertLevel, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, AlertRecord{Level: level, Message: message})
	return nil
}

// Snapshot returns a copy of recorded alerts.
func (a *MemoryAlerter) Snapshot() []AlertRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AlertRecord, len(a.Alerts))
	copy(out, a.Alerts)
	return out
}
