package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/risk"
)

// RiskManager sizes incoming signals and forwards the approved ones as
// trade decisions.
type RiskManager struct {
	sizer  *risk.Sizer
	msgBus bus.Bus
	log    *zap.Logger

	running running
}

func NewRiskManager(sizer *risk.Sizer, msgBus bus.Bus, log *zap.Logger) *RiskManager {
	return &RiskManager{
		sizer:  sizer,
		msgBus: msgBus,
		log:    log.Named("riskmanager"),
	}
}

func (r *RiskManager) Name() string { return "risk_manager" }

func (r *RiskManager) Run(ctx context.Context) error {
	r.running.set(true)
	defer r.running.set(false)

	r.msgBus.Subscribe(bus.ChannelTradingSignals, r.Name(), r.onSignal)
	<-ctx.Done()
	return nil
}

func (r *RiskManager) HealthCheck(context.Context) error { return r.running.check() }

func (r *RiskManager) Stop(context.Context) error {
	r.msgBus.Unsubscribe(bus.ChannelTradingSignals, r.Name())
	return nil
}

func (r *RiskManager) onSignal(ctx context.Context, msg bus.Message) {
	var signal models.TradeSignal
	if err := msg.Decode(&signal); err != nil {
		r.log.Warn("malformed signal", zap.Error(err))
		return
	}

	decision, err := r.sizer.Evaluate(signal)
	if err != nil {
		// Rejections are routine; the sizer has already logged the cause.
		return
	}
	if err := r.msgBus.Publish(ctx, bus.ChannelTradeDecisions, decision); err != nil {
		r.log.Warn("publish decision failed", zap.String("symbol", decision.Symbol), zap.Error(err))
	}
}
