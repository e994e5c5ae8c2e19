package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/analysis"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// Analyst consumes market snapshots and publishes trade signals.
type Analyst struct {
	analyzer *analysis.Analyzer
	msgBus   bus.Bus
	log      *zap.Logger

	running running
}

func NewAnalyst(analyzer *analysis.Analyzer, msgBus bus.Bus, log *zap.Logger) *Analyst {
	return &Analyst{
		analyzer: analyzer,
		msgBus:   msgBus,
		log:      log.Named("analyst"),
	}
}

func (a *Analyst) Name() string { return "market_analyst" }

func (a *Analyst) Run(ctx context.Context) error {
	a.running.set(true)
	defer a.running.set(false)

	a.msgBus.Subscribe(bus.ChannelMarketData, a.Name(), a.onMarketData)
	<-ctx.Done()
	return nil
}

func (a *Analyst) HealthCheck(context.Context) error { return a.running.check() }

func (a *Analyst) Stop(context.Context) error {
	a.msgBus.Unsubscribe(bus.ChannelMarketData, a.Name())
	return nil
}

func (a *Analyst) onMarketData(ctx context.Context, msg bus.Message) {
	var snapshot models.MarketSnapshot
	if err := msg.Decode(&snapshot); err != nil {
		a.log.Warn("malformed market data", zap.Error(err))
		return
	}

	for _, signal := range a.analyzer.Evaluate(snapshot) {
		if err := a.msgBus.Publish(ctx, bus.ChannelTradingSignals, signal); err != nil {
			a.log.Warn("publish signal failed", zap.String("symbol", signal.Symbol), zap.Error(err))
		}
	}
}
