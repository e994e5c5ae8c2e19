package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/execution"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// decisionQueueLimit bounds how many decisions can wait for execution. A
// full retry sequence takes attempts x delay, so the bus handler must never
// execute inline.
const decisionQueueLimit = 64

// Executor feeds trade decisions into the execution pipeline and runs its
// order monitor. Decisions are queued and drained by a single worker so a
// slow exchange never stalls bus dispatch.
type Executor struct {
	pipeline  *execution.Pipeline
	msgBus    bus.Bus
	log       *zap.Logger
	decisions chan models.TradeDecision

	running running
}

func NewExecutor(pipeline *execution.Pipeline, msgBus bus.Bus, log *zap.Logger) *Executor {
	return &Executor{
		pipeline:  pipeline,
		msgBus:    msgBus,
		log:       log.Named("executor"),
		decisions: make(chan models.TradeDecision, decisionQueueLimit),
	}
}

func (e *Executor) Name() string { return "execution" }

func (e *Executor) Run(ctx context.Context) error {
	e.running.set(true)
	defer e.running.set(false)

	e.msgBus.Subscribe(bus.ChannelTradeDecisions, e.Name(), e.onDecision)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.drain(ctx)
	}()
	e.pipeline.Monitor(ctx)
	wg.Wait()
	return nil
}

func (e *Executor) HealthCheck(context.Context) error { return e.running.check() }

func (e *Executor) Stop(context.Context) error {
	e.msgBus.Unsubscribe(bus.ChannelTradeDecisions, e.Name())
	return nil
}

// onDecision enqueues without blocking; when the queue is full the decision
// is dropped, not waited for.
func (e *Executor) onDecision(_ context.Context, msg bus.Message) {
	var decision models.TradeDecision
	if err := msg.Decode(&decision); err != nil {
		e.log.Warn("malformed decision", zap.Error(err))
		return
	}
	select {
	case e.decisions <- decision:
	default:
		e.log.Warn("decision queue full, dropping decision",
			zap.String("symbol", decision.Symbol))
	}
}

func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case decision := <-e.decisions:
			// Execute logs its own failures; an abandoned decision needs
			// no handling here.
			_ = e.pipeline.Execute(ctx, decision)
		}
	}
}
