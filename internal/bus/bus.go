package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Channel names used across the system.
const (
	ChannelMarketData           = "market_data"
	ChannelTradingSignals       = "trading_signals"
	ChannelTradeDecisions       = "trade_decisions"
	ChannelExecutionResults     = "execution_results"
	ChannelPortfolioUpdates     = "portfolio_updates"
	ChannelRebalanceSuggestions = "rebalance_suggestions"
)

// HistoryLimit is how many messages each channel retains for late joiners.
const HistoryLimit = 1000

var ErrBusClosed = errors.New("message bus closed")

// Message is the wire envelope. The bus stamps Timestamp at publish time.
type Message struct {
	Channel   string          `json:"channel"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler consumes one message. Handlers run sequentially per channel; a
// panicking handler is recovered and logged by the bus and never stops
// delivery to other handlers or later messages.
type Handler func(ctx context.Context, msg Message)

// Bus is the fan-out publish/subscribe transport. Publish is fire-and-forget
// (an error only means the payload could not be encoded or the bus is
// closed). Subscribe registers a handler under (channel, name); registering
// the same key again replaces the previous handler, which is what keeps a
// restarted agent from receiving every message twice.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(channel, name string, handler Handler)
	Unsubscribe(channel, name string)
	History(channel string, limit int) []Message
	Close() error
}

func encode(channel string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Channel:   channel,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}
