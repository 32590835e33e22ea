// Package external defines the interfaces for collaborators that §1 marks
// explicitly out of scope: the order-submission client, raw blockchain RPC
// access, and chat-platform alerting. The engine consumes these as plain
// interfaces (grounded in the hexagonal "ports" shape used by the
// Polymarket bot's internal/ports package) and never reimplements them;
// this package also provides minimal in-memory fakes used by tests.
package external

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/driftscout/polycopy/pkg/types"
)

// OrderStatus is the lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusPending   OrderStatus = "pending"
)

// OrderResult is the outcome of a PlaceOrder call.
type OrderResult struct {
	OrderID       string
	FilledAmount  decimal.Decimal
	Status        OrderStatus
}

// Order failure classes named in §6's order client interface.
var (
	ErrInsufficientBalance = orderErr("insufficient balance")
	ErrSlippageExceeded    = orderErr("slippage exceeded")
	ErrMarketClosed        = orderErr("market closed")
	ErrTransient           = orderErr("transient order client error")
)

type orderErrT string

func orderErr(s string) error { return orderErrT(s) }
func (e orderErrT) Error() string { return string(e) }

// OrderClient is the prediction market's order-book client (§1, §6). Not
// reimplemented here: consumed as an interface.
type OrderClient interface {
	PlaceOrder(ctx context.Context, marketID string, side string, amount, price decimal.Decimal) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPrice(ctx context.Context, marketID string) (decimal.Decimal, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	HealthCheck(ctx context.Context) bool
}

// ChainTransaction is a minimal transaction shape surfaced by ChainClient,
// sufficient for the wallet monitor to build a DetectedTrade.
type ChainTransaction struct {
	Hash        string
	BlockNumber uint64
	TxIndex     uint32
	From        string
	To          string
	Data        []byte
	Timestamp   time.Time
}

// ChainClient is raw blockchain RPC access (§1, §6): GetLatestBlock,
// GetTransactions, GetTransaction, plus a WebSocket subscription stream
// consumed through Subscribe. Not reimplemented here: consumed as an
// interface.
type ChainClient interface {
	GetLatestBlock(ctx context.Context) (uint64, error)
	GetTransactions(ctx context.Context, addr string, fromBlock, toBlock uint64) ([]ChainTransaction, error)
	GetTransaction(ctx context.Context, hash string) (ChainTransaction, error)
	// Subscribe opens the provider's WebSocket subscription stream for the
	// given addresses, delivering raw JSON-RPC notification payloads on the
	// returned channel until ctx is cancelled.
	Subscribe(ctx context.Context, addresses []string) (<-chan []byte, error)
}

// AlertLevel mirrors the severity vocabulary used across the wallet quality
// pipeline and risk subsystem (Critical/High/Medium/Low).
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertHigh     AlertLevel = "high"
	AlertMedium   AlertLevel = "medium"
	AlertLow      AlertLevel = "low"
)

// Alerter is the chat-platform alerting collaborator (§1, §6). Not
// reimplemented here: consumed as an interface.
type Alerter interface {
	SendAlert(ctx context.Context, level AlertLevel, message string) error
}

// LeaderboardSource is the prediction market's public leaderboard feed
// (§4.10). Not reimplemented here: wallet discovery is a scraping/API
// concern specific to the market being copied.
type LeaderboardSource interface {
	FetchTop(ctx context.Context, n int) ([]types.LeaderboardEntry, error)
}

// WalletDataSource fetches the full trade history a wallet's score is
// computed from (§4.1). Not reimplemented here: the source market's trade
// history API is out of scope.
type WalletDataSource interface {
	FetchWalletData(ctx context.Context, wallet types.Address) (types.WalletData, error)
}
