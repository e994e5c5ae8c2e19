// Package portfolio tracks balances, positions and performance. The ledger
// is the single source of truth for equity; everything it reports is derived
// from fills it has been shown.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/notify"
)

const (
	// positionEpsilon is the quantity below which a position is considered
	// closed. Floating-point residue from partial closes must never leave a
	// phantom position behind.
	positionEpsilon = 1e-8

	// snapshotLimit bounds the daily snapshot history (about one quarter).
	snapshotLimit = 90

	// tradeHistoryLimit bounds the closed-trade history.
	tradeHistoryLimit = 1000

	// minSnapshotsForSharpe is the floor below which the Sharpe ratio is
	// reported as zero rather than a noisy estimate.
	minSnapshotsForSharpe = 30
)

// Position is an open holding. Quantity is signed: positive long, negative
// short. EntryPrice is the volume-weighted average of the fills that built
// the position.
type Position struct {
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	OpenedAt     time.Time `json:"opened_at"`
}

// UnrealizedPnL is the mark-to-market profit at the current price.
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.Quantity
}

// Value is the signed market value of the position.
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

// ClosedTrade records one realization event, full or partial.
type ClosedTrade struct {
	Symbol      string      `json:"symbol"`
	Direction   models.Side `json:"direction"` // direction of the closed position
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Quantity    float64     `json:"quantity"`
	RealizedPnL float64     `json:"realized_pnl"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// Snapshot is one equity observation, taken daily.
type Snapshot struct {
	Time        time.Time `json:"time"`
	Equity      float64   `json:"equity"`
	Available   float64   `json:"available"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// Metrics is the derived performance view published on portfolio_updates.
type Metrics struct {
	Equity        float64   `json:"equity"`
	Available     float64   `json:"available"`
	Exposure      float64   `json:"exposure"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
	Herfindahl    float64   `json:"herfindahl"`
	Drawdown      float64   `json:"drawdown"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	Sharpe        float64   `json:"sharpe"`
	ValueAtRisk   float64   `json:"value_at_risk"`
	OpenPositions int       `json:"open_positions"`
	ClosedTrades  int       `json:"closed_trades"`
	WinRate       float64   `json:"win_rate"`
	Timestamp     time.Time `json:"timestamp"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	log      *zap.Logger
	notifier notify.Sink

	varConfidence float64

	mu             sync.RWMutex
	initialCapital float64
	available      float64
	realized       float64
	positions      map[string]*Position
	trades         []ClosedTrade
	snapshots      []Snapshot
	wins           int
}

// NewLedger starts with the full initial capital available and no positions.
// varConfidence is the confidence level for the value-at-risk estimate.
func NewLedger(initialCapital, varConfidence float64, notifier notify.Sink, log *zap.Logger) *Ledger {
	return &Ledger{
		log:            log.Named("ledger"),
		notifier:       notifier,
		varConfidence:  varConfidence,
		initialCapital: initialCapital,
		available:      initialCapital,
		positions:      make(map[string]*Position),
	}
}

// ApplyFill updates balances and positions for one executed fill. A fill in
// the direction of the existing position averages into it; a fill against it
// realizes P&L on the closed quantity, and any excess opens a new position
// in the opposite direction at the fill price.
func (l *Ledger) ApplyFill(res models.ExecutionResult) error {
	if res.Quantity <= 0 || res.Price <= 0 {
		return fmt.Errorf("apply fill %s: quantity and price must be > 0", res.Symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	signed := res.Quantity * res.Direction.Sign()
	l.available -= res.Quantity * res.Price * res.Direction.Sign()

	pos, ok := l.positions[res.Symbol]
	if !ok {
		l.positions[res.Symbol] = &Position{
			Symbol:       res.Symbol,
			Quantity:     signed,
			EntryPrice:   res.Price,
			CurrentPrice: res.Price,
			OpenedAt:     res.Timestamp,
		}
		l.logPosition(res.Symbol)
		l.verifyLocked()
		return nil
	}

	if sameSign(pos.Quantity, signed) {
		// Same direction: volume-weighted average entry.
		oldAbs := math.Abs(pos.Quantity)
		addAbs := math.Abs(signed)
		pos.EntryPrice = (oldAbs*pos.EntryPrice + addAbs*res.Price) / (oldAbs + addAbs)
		pos.Quantity += signed
		pos.CurrentPrice = res.Price
		l.logPosition(res.Symbol)
		l.verifyLocked()
		return nil
	}

	// Opposing fill: realize on the overlap.
	closedQty := math.Min(math.Abs(pos.Quantity), math.Abs(signed))
	pnl := (res.Price - pos.EntryPrice) * closedQty * sign(pos.Quantity)
	l.realized += pnl
	l.recordTradeLocked(ClosedTrade{
		Symbol:      res.Symbol,
		Direction:   sideOf(pos.Quantity),
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   res.Price,
		Quantity:    closedQty,
		RealizedPnL: pnl,
		ClosedAt:    res.Timestamp,
	})

	remaining := pos.Quantity + signed
	switch {
	case math.Abs(remaining) < positionEpsilon:
		delete(l.positions, res.Symbol)
		l.log.Info("position closed",
			zap.String("symbol", res.Symbol),
			zap.Float64("realized_pnl", pnl))
	case sameSign(remaining, pos.Quantity):
		// Partial close keeps the original entry.
		pos.Quantity = remaining
		pos.CurrentPrice = res.Price
		l.logPosition(res.Symbol)
	default:
		// Flip: the excess opens fresh at the fill price.
		pos.Quantity = remaining
		pos.EntryPrice = res.Price
		pos.CurrentPrice = res.Price
		pos.OpenedAt = res.Timestamp
		l.logPosition(res.Symbol)
	}

	l.verifyLocked()
	return nil
}

// UpdatePrice marks a position to market. Unknown symbols are ignored.
func (l *Ledger) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
}

// Available returns the uncommitted quote balance.
func (l *Ledger) Available() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available
}

// Equity is available balance plus the marked value of every position.
func (l *Ledger) Equity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() float64 {
	equity := l.available
	for _, pos := range l.positions {
		equity += pos.Value()
	}
	return equity
}

// Positions returns a copy of the open positions.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// WinRate reports the fraction of closed trades with positive realized P&L
// and how many closed trades back the estimate.
func (l *Ledger) WinRate() (rate float64, trades int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.trades) == 0 {
		return 0, 0
	}
	return float64(l.wins) / float64(len(l.trades)), len(l.trades)
}

// TakeSnapshot records the current equity for the daily series, dropping the
// oldest entry beyond the retention window.
func (l *Ledger) TakeSnapshot(now time.Time) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := Snapshot{
		Time:        now,
		Equity:      l.equityLocked(),
		Available:   l.available,
		RealizedPnL: l.realized,
	}
	l.snapshots = append(l.snapshots, snap)
	if len(l.snapshots) > snapshotLimit {
		l.snapshots = l.snapshots[len(l.snapshots)-snapshotLimit:]
	}
	return snap
}

// Snapshots returns a copy of the retained daily series.
func (l *Ledger) Snapshots() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, len(l.snapshots))
	copy(out, l.snapshots)
	return out
}

// DailyPnL is equity change since the most recent snapshot, or since the
// initial capital when no snapshot exists yet.
func (l *Ledger) DailyPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	base := l.initialCapital
	if len(l.snapshots) > 0 {
		base = l.snapshots[len(l.snapshots)-1].Equity
	}
	return l.equityLocked() - base
}

// ComputeMetrics derives the full performance view.
func (l *Ledger) ComputeMetrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := Metrics{
		Equity:        l.equityLocked(),
		Available:     l.available,
		RealizedPnL:   l.realized,
		OpenPositions: len(l.positions),
		ClosedTrades:  len(l.trades),
		Timestamp:     time.Now().UTC(),
	}

	var totalAbs float64
	for _, pos := range l.positions {
		m.UnrealizedPnL += pos.UnrealizedPnL()
		m.Exposure += math.Abs(pos.Value())
		totalAbs += math.Abs(pos.Value())
	}
	if totalAbs > 0 {
		for _, pos := range l.positions {
			w := math.Abs(pos.Value()) / totalAbs
			m.Herfindahl += w * w
		}
	}
	if len(l.trades) > 0 {
		m.WinRate = float64(l.wins) / float64(len(l.trades))
	}

	m.Drawdown, m.MaxDrawdown = l.drawdownLocked(m.Equity)
	if len(l.snapshots) >= minSnapshotsForSharpe {
		m.Sharpe = sharpe(l.dailyReturnsLocked())
	}
	m.ValueAtRisk = valueAtRisk(l.tradeReturnsLocked(), l.varConfidence) * m.Equity
	return m
}

// CheckRebalance flags positions whose weight of equity exceeds maxWeight
// and suggests the trim that brings them back to it.
func (l *Ledger) CheckRebalance(maxWeight float64) []models.RebalanceSuggestion {
	l.mu.RLock()
	defer l.mu.RUnlock()

	equity := l.equityLocked()
	if equity <= 0 {
		return nil
	}

	var out []models.RebalanceSuggestion
	for _, pos := range l.positions {
		weight := math.Abs(pos.Value()) / equity
		if weight <= maxWeight || pos.CurrentPrice <= 0 {
			continue
		}
		excess := (weight - maxWeight) * equity
		out = append(out, models.RebalanceSuggestion{
			Symbol:        pos.Symbol,
			CurrentWeight: weight,
			TargetWeight:  maxWeight,
			Direction:     sideOf(pos.Quantity).Opposite(),
			Quantity:      excess / pos.CurrentPrice,
			Timestamp:     time.Now().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) recordTradeLocked(trade ClosedTrade) {
	if trade.RealizedPnL > 0 {
		l.wins++
	}
	l.trades = append(l.trades, trade)
	if len(l.trades) > tradeHistoryLimit {
		dropped := l.trades[0]
		if dropped.RealizedPnL > 0 {
			l.wins--
		}
		l.trades = l.trades[1:]
	}
}

// verifyLocked cross-checks the two ways of computing equity: balances plus
// marked positions against initial capital plus booked P&L. A mismatch means
// a bookkeeping bug and is alerted, not hidden.
func (l *Ledger) verifyLocked() {
	var unrealized float64
	for _, pos := range l.positions {
		unrealized += pos.UnrealizedPnL()
	}
	if l.available < -positionEpsilon {
		l.log.Error("available balance went negative", zap.Float64("available", l.available))
		if l.notifier != nil {
			_ = l.notifier.Send(context.Background(), fmt.Sprintf(
				"⚠️ Ledger available balance is negative: %.8f", l.available))
		}
	}

	fromBalances := l.equityLocked()
	fromPnL := l.initialCapital + l.realized + unrealized
	if math.Abs(fromBalances-fromPnL) > 1e-6 {
		l.log.Error("equity invariant violated",
			zap.Float64("from_balances", fromBalances),
			zap.Float64("from_pnl", fromPnL))
		if l.notifier != nil {
			_ = l.notifier.Send(context.Background(), fmt.Sprintf(
				"⚠️ Ledger invariant violated: equity %.8f vs %.8f", fromBalances, fromPnL))
		}
	}
}

func (l *Ledger) logPosition(symbol string) {
	pos := l.positions[symbol]
	l.log.Info("position updated",
		zap.String("symbol", symbol),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("available", l.available))
}

// drawdownLocked walks the equity series and reports the decline from the
// peak since inception: current is where equity stands now, max the worst
// decline ever observed.
func (l *Ledger) drawdownLocked(currentEquity float64) (current, max float64) {
	peak := l.initialCapital
	observe := func(equity float64) float64 {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			return 0
		}
		return (peak - equity) / peak
	}
	for _, snap := range l.snapshots {
		if dd := observe(snap.Equity); dd > max {
			max = dd
		}
	}
	current = observe(currentEquity)
	if current > max {
		max = current
	}
	return current, max
}

// tradeReturnsLocked is the realized P&L of each closed trade as a fraction
// of its entry notional.
func (l *Ledger) tradeReturnsLocked() []float64 {
	out := make([]float64, 0, len(l.trades))
	for _, tr := range l.trades {
		notional := tr.EntryPrice * tr.Quantity
		if notional <= 0 {
			continue
		}
		out = append(out, tr.RealizedPnL/notional)
	}
	return out
}

func (l *Ledger) dailyReturnsLocked() []float64 {
	if len(l.snapshots) < 2 {
		return nil
	}
	out := make([]float64, 0, len(l.snapshots)-1)
	for i := 1; i < len(l.snapshots); i++ {
		prev := l.snapshots[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, (l.snapshots[i].Equity-prev)/prev)
	}
	return out
}

// sharpe annualizes the mean daily return over its sample deviation.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(365)
}

// valueAtRisk returns the loss fraction at the given confidence as a
// positive number, from the empirical distribution of per-trade returns.
func valueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx]
	if loss < 0 {
		return 0
	}
	return loss
}

func sameSign(a, b float64) bool {
	return (a >= 0) == (b >= 0)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sideOf(quantity float64) models.Side {
	if quantity < 0 {
		return models.SideSell
	}
	return models.SideBuy
}
