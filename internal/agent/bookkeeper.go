package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/notify"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/portfolio"
)

// snapshotInterval is the cadence of the daily equity snapshot.
const snapshotInterval = 24 * time.Hour

// Bookkeeper applies fills to the ledger, marks positions to market and
// publishes portfolio metrics. It is the only writer to the ledger.
type Bookkeeper struct {
	ledger          *portfolio.Ledger
	msgBus          bus.Bus
	notifier        notify.Sink
	publishInterval time.Duration
	maxWeight       float64
	log             *zap.Logger

	running running
}

func NewBookkeeper(ledger *portfolio.Ledger, msgBus bus.Bus, notifier notify.Sink, publishInterval time.Duration, maxWeight float64, log *zap.Logger) *Bookkeeper {
	return &Bookkeeper{
		ledger:          ledger,
		msgBus:          msgBus,
		notifier:        notifier,
		publishInterval: publishInterval,
		maxWeight:       maxWeight,
		log:             log.Named("bookkeeper"),
	}
}

func (b *Bookkeeper) Name() string { return "portfolio_manager" }

func (b *Bookkeeper) Run(ctx context.Context) error {
	b.running.set(true)
	defer b.running.set(false)

	b.msgBus.Subscribe(bus.ChannelExecutionResults, b.Name(), b.onFill)
	b.msgBus.Subscribe(bus.ChannelMarketData, b.Name(), b.onMarketData)

	publish := time.NewTicker(b.publishInterval)
	defer publish.Stop()
	snapshot := time.NewTicker(snapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-publish.C:
			b.publishMetrics(ctx)
			b.checkRebalance(ctx)
		case <-snapshot.C:
			snap := b.ledger.TakeSnapshot(time.Now().UTC())
			b.log.Info("daily snapshot",
				zap.Float64("equity", snap.Equity),
				zap.Float64("realized_pnl", snap.RealizedPnL))
		}
	}
}

func (b *Bookkeeper) HealthCheck(context.Context) error { return b.running.check() }

func (b *Bookkeeper) Stop(context.Context) error {
	b.msgBus.Unsubscribe(bus.ChannelExecutionResults, b.Name())
	b.msgBus.Unsubscribe(bus.ChannelMarketData, b.Name())
	return nil
}

func (b *Bookkeeper) onFill(_ context.Context, msg bus.Message) {
	var res models.ExecutionResult
	if err := msg.Decode(&res); err != nil {
		b.log.Warn("malformed execution result", zap.Error(err))
		return
	}
	if err := b.ledger.ApplyFill(res); err != nil {
		b.log.Error("apply fill failed",
			zap.String("symbol", res.Symbol),
			zap.String("order_id", res.OrderID),
			zap.Error(err))
	}
}

func (b *Bookkeeper) onMarketData(_ context.Context, msg bus.Message) {
	var snapshot models.MarketSnapshot
	if err := msg.Decode(&snapshot); err != nil {
		b.log.Warn("malformed market data", zap.Error(err))
		return
	}
	b.ledger.UpdatePrice(snapshot.Symbol, snapshot.Price)
}

func (b *Bookkeeper) publishMetrics(ctx context.Context) {
	metrics := b.ledger.ComputeMetrics()
	if err := b.msgBus.Publish(ctx, bus.ChannelPortfolioUpdates, metrics); err != nil {
		b.log.Warn("publish metrics failed", zap.Error(err))
	}
}

func (b *Bookkeeper) checkRebalance(ctx context.Context) {
	for _, suggestion := range b.ledger.CheckRebalance(b.maxWeight) {
		b.log.Info("rebalance suggested",
			zap.String("symbol", suggestion.Symbol),
			zap.Float64("current_weight", suggestion.CurrentWeight),
			zap.Float64("target_weight", suggestion.TargetWeight),
			zap.Float64("quantity", suggestion.Quantity))
		if err := b.msgBus.Publish(ctx, bus.ChannelRebalanceSuggestions, suggestion); err != nil {
			b.log.Warn("publish rebalance suggestion failed", zap.Error(err))
		}
		if b.notifier != nil {
			_ = b.notifier.Send(ctx, fmt.Sprintf(
				"⚖️ %s is %.1f%% of equity (max %.1f%%), suggest %s %.6f",
				suggestion.Symbol, suggestion.CurrentWeight*100, suggestion.TargetWeight*100,
				suggestion.Direction, suggestion.Quantity))
		}
	}
}
