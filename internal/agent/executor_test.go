package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/config"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/exchange"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/execution"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// gateExchange holds every CreateOrder on a gate until the test releases it.
type gateExchange struct {
	gate chan struct{}

	mu      sync.Mutex
	created []exchange.OrderRequest
}

func newGateExchange() *gateExchange {
	return &gateExchange{gate: make(chan struct{})}
}

func (g *gateExchange) CreateOrder(_ context.Context, req exchange.OrderRequest) (models.Order, error) {
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	return models.Order{
		ID:       fmt.Sprintf("ord-%d", len(g.created)),
		Symbol:   req.Symbol,
		Type:     req.Type,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    30000,
		Status:   models.OrderStatusFilled,
	}, nil
}

func (g *gateExchange) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

func (g *gateExchange) FetchPrice(context.Context, string) (float64, error) { return 30000, nil }
func (g *gateExchange) FetchOHLCV(context.Context, string, string, int) ([]models.Kline, error) {
	return nil, nil
}
func (g *gateExchange) FetchOrderBook(_ context.Context, symbol string, _ int) (models.OrderBook, error) {
	return models.OrderBook{Symbol: symbol}, nil
}
func (g *gateExchange) FetchRecentTrades(context.Context, string, int) ([]models.PublicTrade, error) {
	return nil, nil
}
func (g *gateExchange) FetchOrderStatus(context.Context, string, string) (models.Order, error) {
	return models.Order{}, exchange.ErrOrderNotFound
}
func (g *gateExchange) CancelOrder(context.Context, string, string) error { return nil }

func TestExecutorQueueKeepsDispatchResponsive(t *testing.T) {
	gated := newGateExchange()
	b := bus.NewMemoryBus(zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })

	execCfg := config.ExecutionConfig{RetryAttempts: 1, RetryDelay: 0.001, MonitorInterval: 0.01}
	pipeline := execution.NewPipeline(gated, b, execCfg, nil, zap.NewNop())
	e := NewExecutor(pipeline, b, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	waitFor(t, func() bool { return e.HealthCheck(context.Background()) == nil })

	// A witness on the same channel sees every decision only if the
	// executor's handler returns without waiting on the exchange.
	var witnessMu sync.Mutex
	witnessed := 0
	b.Subscribe(bus.ChannelTradeDecisions, "witness", func(context.Context, bus.Message) {
		witnessMu.Lock()
		witnessed++
		witnessMu.Unlock()
	})

	decision := models.TradeDecision{
		Symbol:     "BTCUSDT",
		Direction:  models.SideBuy,
		Quantity:   0.1,
		EntryPrice: 30000,
		Timestamp:  time.Now().UTC(),
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), bus.ChannelTradeDecisions, decision))
	}

	// The exchange is still gated, yet dispatch keeps flowing.
	waitFor(t, func() bool {
		witnessMu.Lock()
		defer witnessMu.Unlock()
		return witnessed == 3
	})
	assert.Zero(t, gated.orderCount())

	close(gated.gate)
	waitFor(t, func() bool { return gated.orderCount() == 3 })
	waitFor(t, func() bool { return pipeline.OpenBrackets() == 3 })
}
