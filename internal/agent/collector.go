package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/exchange"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

const (
	klineLimit     = 100
	orderBookDepth = 10
	tradesLimit    = 50
)

// PriceRecorder receives every observed price. The paper client implements
// it so simulated orders track the collected market.
type PriceRecorder interface {
	SetPrice(symbol string, price float64)
}

// Collector polls the exchange for market data and publishes one snapshot
// per symbol per cycle on the market_data channel.
type Collector struct {
	symbols    []string
	timeframes []string
	interval   time.Duration
	exch       exchange.Client
	recorder   PriceRecorder // may be nil
	msgBus     bus.Bus
	log        *zap.Logger

	heartbeat heartbeat
}

func NewCollector(symbols, timeframes []string, interval time.Duration, exch exchange.Client, recorder PriceRecorder, msgBus bus.Bus, log *zap.Logger) *Collector {
	return &Collector{
		symbols:    symbols,
		timeframes: timeframes,
		interval:   interval,
		exch:       exch,
		recorder:   recorder,
		msgBus:     msgBus,
		log:        log.Named("collector"),
	}
}

func (c *Collector) Name() string { return "data_collector" }

func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// HealthCheck fails when the collection loop has stalled for several cycles.
func (c *Collector) HealthCheck(context.Context) error {
	return c.heartbeat.check(3 * c.interval)
}

func (c *Collector) Stop(context.Context) error { return nil }

func (c *Collector) collect(ctx context.Context) {
	for _, symbol := range c.symbols {
		snapshot, err := c.snapshot(ctx, symbol)
		if err != nil {
			// One bad symbol must not starve the others.
			c.log.Warn("collection failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if c.recorder != nil {
			c.recorder.SetPrice(symbol, snapshot.Price)
		}
		if err := c.msgBus.Publish(ctx, bus.ChannelMarketData, snapshot); err != nil {
			c.log.Warn("publish failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	c.heartbeat.beat()
}

func (c *Collector) snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	price, err := c.exch.FetchPrice(ctx, symbol)
	if err != nil {
		return models.MarketSnapshot{}, err
	}

	candles := make(map[string][]models.Kline, len(c.timeframes))
	for _, tf := range c.timeframes {
		klines, err := c.exch.FetchOHLCV(ctx, symbol, tf, klineLimit)
		if err != nil {
			return models.MarketSnapshot{}, err
		}
		candles[tf] = klines
	}

	book, err := c.exch.FetchOrderBook(ctx, symbol, orderBookDepth)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	trades, err := c.exch.FetchRecentTrades(ctx, symbol, tradesLimit)
	if err != nil {
		return models.MarketSnapshot{}, err
	}

	return models.MarketSnapshot{
		Symbol:       symbol,
		Price:        price,
		Candles:      candles,
		OrderBook:    book,
		RecentTrades: trades,
		CollectedAt:  time.Now().UTC(),
	}, nil
}
