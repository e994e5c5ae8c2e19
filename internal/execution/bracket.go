package execution

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// BracketState is the lifecycle of one bracket: an entry order plus its
// protective stop-loss and take-profit legs.
type BracketState string

const (
	// StatePending: entry order is working, no exit legs yet.
	StatePending BracketState = "pending"
	// StateActive: entry filled, exit legs working.
	StateActive BracketState = "active"
	// StateClosedStop: stop-loss leg filled.
	StateClosedStop BracketState = "closed_stop"
	// StateClosedTakeProfit: take-profit leg filled.
	StateClosedTakeProfit BracketState = "closed_take_profit"
	// StateCanceled: entry was canceled or expired before filling, or the
	// bracket was canceled explicitly.
	StateCanceled BracketState = "canceled"
)

var ErrInvalidTransition = errors.New("invalid bracket state transition")

var bracketTransitions = map[BracketState][]BracketState{
	StatePending: {StateActive, StateCanceled},
	StateActive:  {StateClosedStop, StateClosedTakeProfit, StateCanceled},
}

// Terminal reports whether the state admits no further transitions.
func (s BracketState) Terminal() bool {
	switch s {
	case StateClosedStop, StateClosedTakeProfit, StateCanceled:
		return true
	default:
		return false
	}
}

// Leg names used on execution results.
const (
	LegEntry      = "entry"
	LegStopLoss   = "stop_loss"
	LegTakeProfit = "take_profit"
)

// Bracket tracks one decision's orders on the exchange. Keyed by the entry
// order's ID; the exit legs exist only after the entry fills. The execute
// path and the monitor's poll loop touch the same bracket concurrently, so
// every mutable field lives behind mu and transition is a single
// check-and-set: of two racing callers exactly one wins.
type Bracket struct {
	EntryID   string
	Decision  models.TradeDecision
	CreatedAt time.Time

	mu         sync.Mutex
	state      BracketState
	entry      models.Order
	stop       *models.Order
	takeProfit *models.Order
}

func newBracket(decision models.TradeDecision, entry models.Order) *Bracket {
	return &Bracket{
		EntryID:   entry.ID,
		Decision:  decision,
		CreatedAt: time.Now().UTC(),
		state:     StatePending,
		entry:     entry,
	}
}

// CurrentState returns the lifecycle state at this instant.
func (b *Bracket) CurrentState() BracketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves the bracket to next, rejecting anything the lifecycle
// does not allow.
func (b *Bracket) transition(next BracketState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transitionLocked(next)
}

func (b *Bracket) transitionLocked(next BracketState) error {
	for _, allowed := range bracketTransitions[b.state] {
		if allowed == next {
			b.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (entry %s)", ErrInvalidTransition, b.state, next, b.EntryID)
}

// cancel moves the bracket to canceled; a bracket that already reached a
// terminal state stays where it is.
func (b *Bracket) cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Terminal() {
		return nil
	}
	return b.transitionLocked(StateCanceled)
}

// EntryOrder returns a copy of the entry order.
func (b *Bracket) EntryOrder() models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry
}

func (b *Bracket) setEntry(order models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry = order
}

func (b *Bracket) markEntryFilled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entry.Status = models.OrderStatusFilled
}

// leg returns a copy of the named exit leg, if it has been armed.
func (b *Bracket) leg(name string) (models.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o := b.legLocked(name); o != nil {
		return *o, true
	}
	return models.Order{}, false
}

func (b *Bracket) setLeg(name string, order *models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case LegStopLoss:
		b.stop = order
	case LegTakeProfit:
		b.takeProfit = order
	}
}

func (b *Bracket) markLegCanceled(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o := b.legLocked(name); o != nil {
		o.Status = models.OrderStatusCanceled
	}
}

func (b *Bracket) legLocked(name string) *models.Order {
	switch name {
	case LegStopLoss:
		return b.stop
	case LegTakeProfit:
		return b.takeProfit
	}
	return nil
}

// workingLegs lists the orders that still need canceling on the exchange.
func (b *Bracket) workingLegs() []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Order
	if !b.entry.Status.Terminal() {
		out = append(out, b.entry)
	}
	if b.stop != nil && !b.stop.Status.Terminal() {
		out = append(out, *b.stop)
	}
	if b.takeProfit != nil && !b.takeProfit.Status.Terminal() {
		out = append(out, *b.takeProfit)
	}
	return out
}
