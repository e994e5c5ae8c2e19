// Package execution places sized decisions on the exchange as bracket
// orders and tracks their lifecycle.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/config"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/exchange"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/notify"
)

// Pipeline owns all live brackets. A decision either becomes a registered
// bracket with a filled or working entry, or it leaves no trace: no orders,
// no bracket, no messages.
type Pipeline struct {
	exch     exchange.Client
	msgBus   bus.Bus
	cfg      config.ExecutionConfig
	notifier notify.Sink
	log      *zap.Logger

	mu       sync.Mutex
	brackets map[string]*Bracket
}

func NewPipeline(exch exchange.Client, msgBus bus.Bus, cfg config.ExecutionConfig, notifier notify.Sink, log *zap.Logger) *Pipeline {
	return &Pipeline{
		exch:     exch,
		msgBus:   msgBus,
		cfg:      cfg,
		notifier: notifier,
		log:      log.Named("execution"),
		brackets: make(map[string]*Bracket),
	}
}

// Execute places the decision's entry order, retrying transient failures a
// bounded number of times with a fixed delay. When every attempt fails the
// decision is abandoned whole: nothing is registered and nothing published.
func (p *Pipeline) Execute(ctx context.Context, decision models.TradeDecision) error {
	entry, err := p.placeWithRetry(ctx, exchange.OrderRequest{
		Symbol:   decision.Symbol,
		Type:     models.OrderTypeMarket,
		Side:     decision.Direction,
		Quantity: decision.Quantity,
	})
	if err != nil {
		p.log.Error("entry abandoned",
			zap.String("symbol", decision.Symbol),
			zap.String("direction", string(decision.Direction)),
			zap.Error(err))
		return fmt.Errorf("execute %s %s: %w", decision.Direction, decision.Symbol, err)
	}

	br := newBracket(decision, entry)
	p.mu.Lock()
	p.brackets[br.EntryID] = br
	p.mu.Unlock()

	p.log.Info("entry placed",
		zap.String("entry_id", br.EntryID),
		zap.String("symbol", decision.Symbol),
		zap.String("status", string(entry.Status)))

	if entry.Status == models.OrderStatusFilled {
		p.onEntryFill(ctx, br, entry.Price)
	}
	return nil
}

// Monitor polls the exchange for order state changes until ctx is done.
func (p *Pipeline) Monitor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MonitorIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// CancelBracket cancels every working leg of the bracket and removes it.
func (p *Pipeline) CancelBracket(ctx context.Context, entryID string) error {
	p.mu.Lock()
	br, ok := p.brackets[entryID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("bracket %s: %w", entryID, exchange.ErrOrderNotFound)
	}

	p.cancelLegs(ctx, br)
	if err := br.cancel(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.brackets, entryID)
	return nil
}

// OpenBrackets returns the number of non-terminal brackets.
func (p *Pipeline) OpenBrackets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.brackets)
}

func (p *Pipeline) poll(ctx context.Context) {
	p.mu.Lock()
	pending := make([]*Bracket, 0, len(p.brackets))
	for _, br := range p.brackets {
		pending = append(pending, br)
	}
	p.mu.Unlock()

	for _, br := range pending {
		switch br.CurrentState() {
		case StatePending:
			p.pollEntry(ctx, br)
		case StateActive:
			p.pollExits(ctx, br)
		}
	}

	p.mu.Lock()
	for id, br := range p.brackets {
		if br.CurrentState().Terminal() {
			delete(p.brackets, id)
		}
	}
	p.mu.Unlock()
}

func (p *Pipeline) pollEntry(ctx context.Context, br *Bracket) {
	entry := br.EntryOrder()
	order, err := p.exch.FetchOrderStatus(ctx, entry.Symbol, entry.ID)
	if err != nil {
		p.log.Warn("entry status fetch failed", zap.String("entry_id", br.EntryID), zap.Error(err))
		return
	}

	switch order.Status {
	case models.OrderStatusFilled:
		br.setEntry(order)
		p.onEntryFill(ctx, br, order.Price)
	case models.OrderStatusCanceled, models.OrderStatusExpired:
		// A dead entry must not leave orphan exit legs behind.
		br.setEntry(order)
		p.cancelLegs(ctx, br)
		if err := br.cancel(); err != nil {
			p.log.Error("bracket transition failed", zap.Error(err))
		}
		p.log.Info("entry dead, bracket removed",
			zap.String("entry_id", br.EntryID),
			zap.String("status", string(order.Status)))
	}
}

func (p *Pipeline) pollExits(ctx context.Context, br *Bracket) {
	if leg, ok := br.leg(LegStopLoss); ok && !leg.Status.Terminal() {
		order, err := p.exch.FetchOrderStatus(ctx, leg.Symbol, leg.ID)
		if err != nil {
			p.log.Warn("stop status fetch failed", zap.String("order_id", leg.ID), zap.Error(err))
		} else if order.Status == models.OrderStatusFilled {
			br.setLeg(LegStopLoss, &order)
			p.onExitFill(ctx, br, order, LegStopLoss, StateClosedStop, LegTakeProfit)
			return
		}
	}
	if leg, ok := br.leg(LegTakeProfit); ok && !leg.Status.Terminal() {
		order, err := p.exch.FetchOrderStatus(ctx, leg.Symbol, leg.ID)
		if err != nil {
			p.log.Warn("take-profit status fetch failed", zap.String("order_id", leg.ID), zap.Error(err))
		} else if order.Status == models.OrderStatusFilled {
			br.setLeg(LegTakeProfit, &order)
			p.onExitFill(ctx, br, order, LegTakeProfit, StateClosedTakeProfit, LegStopLoss)
		}
	}
}

// onEntryFill publishes the entry fill and arms the protective legs. The
// execute path and the poll loop can both observe the fill; the transition
// decides which one handles it.
func (p *Pipeline) onEntryFill(ctx context.Context, br *Bracket, price float64) {
	if err := br.transition(StateActive); err != nil {
		return
	}
	br.markEntryFilled()
	p.publishFill(ctx, br, br.EntryID, br.Decision.Direction, price, LegEntry)

	exitSide := br.Decision.Direction.Opposite()
	if br.Decision.StopLoss > 0 {
		br.setLeg(LegStopLoss, p.placeExitLeg(ctx, br, exchange.OrderRequest{
			Symbol:   br.Decision.Symbol,
			Type:     models.OrderTypeStopLoss,
			Side:     exitSide,
			Quantity: br.Decision.Quantity,
			Price:    br.Decision.StopLoss,
		}, LegStopLoss))
	}
	if br.Decision.TakeProfit > 0 {
		br.setLeg(LegTakeProfit, p.placeExitLeg(ctx, br, exchange.OrderRequest{
			Symbol:   br.Decision.Symbol,
			Type:     models.OrderTypeLimit,
			Side:     exitSide,
			Quantity: br.Decision.Quantity,
			Price:    br.Decision.TakeProfit,
		}, LegTakeProfit))
	}
}

// placeExitLeg tries to arm one protective leg. A leg that cannot be placed
// leaves the position unprotected on that side, which is an operator alert,
// not a reason to unwind the filled entry.
func (p *Pipeline) placeExitLeg(ctx context.Context, br *Bracket, req exchange.OrderRequest, leg string) *models.Order {
	order, err := p.placeWithRetry(ctx, req)
	if err != nil {
		p.log.Error("exit leg placement failed",
			zap.String("entry_id", br.EntryID),
			zap.String("leg", leg),
			zap.Error(err))
		if p.notifier != nil {
			_ = p.notifier.Send(ctx, fmt.Sprintf(
				"⚠️ %s: %s leg could not be placed, position partially unprotected", br.Decision.Symbol, leg))
		}
		return nil
	}
	p.log.Info("exit leg armed",
		zap.String("entry_id", br.EntryID),
		zap.String("leg", leg),
		zap.String("order_id", order.ID),
		zap.Float64("price", req.Price))
	return &order
}

func (p *Pipeline) onExitFill(ctx context.Context, br *Bracket, order models.Order, leg string, next BracketState, siblingLeg string) {
	if err := br.transition(next); err != nil {
		return
	}
	p.publishFill(ctx, br, order.ID, br.Decision.Direction.Opposite(), order.Price, leg)

	if sibling, ok := br.leg(siblingLeg); ok && !sibling.Status.Terminal() {
		if err := p.exch.CancelOrder(ctx, sibling.Symbol, sibling.ID); err != nil {
			p.log.Warn("sibling cancel failed", zap.String("order_id", sibling.ID), zap.Error(err))
		} else {
			br.markLegCanceled(siblingLeg)
		}
	}
	p.log.Info("bracket closed",
		zap.String("entry_id", br.EntryID),
		zap.String("leg", leg),
		zap.Float64("price", order.Price))
}

func (p *Pipeline) cancelLegs(ctx context.Context, br *Bracket) {
	for _, leg := range br.workingLegs() {
		if err := p.exch.CancelOrder(ctx, leg.Symbol, leg.ID); err != nil {
			p.log.Warn("leg cancel failed", zap.String("order_id", leg.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) publishFill(ctx context.Context, br *Bracket, orderID string, direction models.Side, price float64, leg string) {
	result := models.ExecutionResult{
		Symbol:    br.Decision.Symbol,
		OrderID:   orderID,
		Direction: direction,
		Price:     price,
		Quantity:  br.Decision.Quantity,
		Leg:       leg,
		Timestamp: time.Now().UTC(),
	}
	if err := p.msgBus.Publish(ctx, bus.ChannelExecutionResults, result); err != nil {
		p.log.Error("publish execution result failed", zap.Error(err))
	}
}

// placeWithRetry attempts the order up to the configured number of times
// with a fixed delay between attempts.
func (p *Pipeline) placeWithRetry(ctx context.Context, req exchange.OrderRequest) (models.Order, error) {
	delay := &backoff.Backoff{
		Min: p.cfg.RetryDelayDuration(),
		Max: p.cfg.RetryDelayDuration(),
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		order, err := p.exch.CreateOrder(ctx, req)
		if err == nil {
			return order, nil
		}
		lastErr = err
		p.log.Warn("order placement failed",
			zap.String("symbol", req.Symbol),
			zap.String("type", string(req.Type)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.RetryAttempts),
			zap.Error(err))

		if attempt < p.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return models.Order{}, ctx.Err()
			case <-time.After(delay.Duration()):
			}
		}
	}
	return models.Order{}, fmt.Errorf("after %d attempts: %w", p.cfg.RetryAttempts, lastErr)
}
