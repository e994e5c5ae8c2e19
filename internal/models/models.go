package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the canonical trade direction. Inbound payloads use inconsistent
// casing ("buy", "BUY"), so everything entering the ledger or the execution
// pipeline goes through ParseSide first.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a direction string to a canonical Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return SideBuy, nil
	case "SELL", "SHORT":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown trade side: %q", s)
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// OrderBookLevel is one price level of an order book side.
type OrderBookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookLevel `json:"bids"`
	Asks   []OrderBookLevel `json:"asks"`
}

// PublicTrade is a recent market trade.
type PublicTrade struct {
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
	IsBuyer  bool      `json:"is_buyer"`
}

// MarketSnapshot is what the data collector publishes on the market_data
// channel: one symbol, one collection cycle.
type MarketSnapshot struct {
	Symbol       string             `json:"symbol"`
	Price        float64            `json:"price"`
	Candles      map[string][]Kline `json:"candles"` // keyed by timeframe
	OrderBook    OrderBook          `json:"order_book"`
	RecentTrades []PublicTrade      `json:"recent_trades"`
	CollectedAt  time.Time          `json:"collected_at"`
}

// TradeSignal is an analyst's opinion about a symbol.
type TradeSignal struct {
	Symbol     string            `json:"symbol"`
	Direction  Side              `json:"direction"`
	Confidence float64           `json:"confidence"` // 0..1
	Price      float64           `json:"price"`
	Strategy   string            `json:"strategy"`
	ATR        float64           `json:"atr"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TradeDecision is a sized, risk-checked instruction for the execution
// pipeline. Quantity is in base units, Notional in quote currency.
type TradeDecision struct {
	Symbol     string    `json:"symbol"`
	Direction  Side      `json:"direction"`
	Quantity   float64   `json:"quantity"`
	Notional   float64   `json:"notional"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Strategy   string    `json:"strategy"`
	Timestamp  time.Time `json:"timestamp"`
}

// OrderType distinguishes the bracket legs.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "STOP_LOSS"
)

// OrderStatus is the exchange-reported lifecycle state of a single order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is the pipeline's view of a single exchange order.
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Type      OrderType   `json:"type"`
	Side      Side        `json:"side"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// ExecutionResult is published on execution_results whenever a leg fills.
// The bookkeeper consumes it through Ledger.ApplyFill.
type ExecutionResult struct {
	Symbol    string    `json:"symbol"`
	OrderID   string    `json:"order_id"`
	Direction Side      `json:"direction"`
	Price     float64   `json:"execution_price"`
	Quantity  float64   `json:"executed_quantity"`
	Leg       string    `json:"leg"` // "entry", "stop_loss", "take_profit"
	Timestamp time.Time `json:"timestamp"`
}

// RebalanceSuggestion asks for a position to be trimmed back to the maximum
// configured weight.
type RebalanceSuggestion struct {
	Symbol        string    `json:"symbol"`
	CurrentWeight float64   `json:"current_weight"`
	TargetWeight  float64   `json:"target_weight"`
	Direction     Side      `json:"direction"`
	Quantity      float64   `json:"quantity"`
	Timestamp     time.Time `json:"timestamp"`
}
