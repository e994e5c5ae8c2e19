package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

func newTestLedger(capital float64) *Ledger {
	return NewLedger(capital, 0.95, nil, zap.NewNop())
}

func fill(symbol string, side models.Side, qty, price float64) models.ExecutionResult {
	return models.ExecutionResult{
		Symbol:    symbol,
		Direction: side,
		Quantity:  qty,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	l := newTestLedger(10000)

	// Buy 0.1 BTC at 30000.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 0.1, 30000)))
	assert.InDelta(t, 7000, l.Available(), 1e-9)

	pos, ok := l.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 30000, pos.EntryPrice, 1e-9)

	// Mark to 31000.
	l.UpdatePrice("BTCUSDT", 31000)
	pos, _ = l.Position("BTCUSDT")
	assert.InDelta(t, 100, pos.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 10100, l.Equity(), 1e-9)

	// Sell the full position at 31500.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.1, 31500)))
	assert.InDelta(t, 10150, l.Available(), 1e-9)
	assert.InDelta(t, 10150, l.Equity(), 1e-9)

	_, ok = l.Position("BTCUSDT")
	assert.False(t, ok, "fully closed position must be removed")

	m := l.ComputeMetrics()
	assert.InDelta(t, 150, m.RealizedPnL, 1e-9)
	assert.Equal(t, 1, m.ClosedTrades)
	assert.InDelta(t, 1.0, m.WinRate, 1e-9)
}

func TestLedgerVWAPEntry(t *testing.T) {
	l := newTestLedger(100000)

	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 2000)))
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 3, 2400)))

	pos, ok := l.Position("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 4, pos.Quantity, 1e-9)
	// (1*2000 + 3*2400) / 4
	assert.InDelta(t, 2300, pos.EntryPrice, 1e-9)
}

func TestLedgerPartialCloseKeepsEntry(t *testing.T) {
	l := newTestLedger(10000)

	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 2, 1000)))
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 1, 1100)))

	pos, ok := l.Position("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1, pos.Quantity, 1e-9)
	assert.InDelta(t, 1000, pos.EntryPrice, 1e-9)

	m := l.ComputeMetrics()
	assert.InDelta(t, 100, m.RealizedPnL, 1e-9)
	assert.Equal(t, 1, m.ClosedTrades)
}

func TestLedgerFlipOpensAtFillPrice(t *testing.T) {
	l := newTestLedger(10000)

	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 3, 1100)))

	pos, ok := l.Position("ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, -2, pos.Quantity, 1e-9)
	assert.InDelta(t, 1100, pos.EntryPrice, 1e-9)

	m := l.ComputeMetrics()
	assert.InDelta(t, 100, m.RealizedPnL, 1e-9)
}

func TestLedgerShortPosition(t *testing.T) {
	l := newTestLedger(10000)

	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 1, 1000)))
	assert.InDelta(t, 11000, l.Available(), 1e-9)
	assert.InDelta(t, 10000, l.Equity(), 1e-9)

	l.UpdatePrice("ETHUSDT", 900)
	pos, _ := l.Position("ETHUSDT")
	assert.InDelta(t, 100, pos.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 10100, l.Equity(), 1e-9)

	// Cover at 900: realized 100.
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 900)))
	assert.InDelta(t, 10100, l.Available(), 1e-9)
	m := l.ComputeMetrics()
	assert.InDelta(t, 100, m.RealizedPnL, 1e-9)
}

func TestLedgerEpsilonCleanup(t *testing.T) {
	l := newTestLedger(10000)

	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 0.1, 30000)))
	// Three partial sells that sum to 0.1 only up to float error.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.03, 30000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.03, 30000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.04, 30000)))

	_, ok := l.Position("BTCUSDT")
	assert.False(t, ok, "residual below epsilon must delete the position")
}

func TestLedgerRejectsBadFill(t *testing.T) {
	l := newTestLedger(10000)
	assert.Error(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 0, 30000)))
	assert.Error(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, -5)))
	assert.InDelta(t, 10000, l.Available(), 1e-9)
}

func TestLedgerEquityIdentity(t *testing.T) {
	l := newTestLedger(10000)

	fills := []models.ExecutionResult{
		fill("BTCUSDT", models.SideBuy, 0.05, 30000),
		fill("ETHUSDT", models.SideBuy, 1, 2000),
		fill("BTCUSDT", models.SideBuy, 0.05, 32000),
		fill("ETHUSDT", models.SideSell, 0.5, 2100),
		fill("BTCUSDT", models.SideSell, 0.08, 31000),
	}
	for _, f := range fills {
		require.NoError(t, l.ApplyFill(f))

		sum := l.Available()
		for _, pos := range l.Positions() {
			sum += pos.Value()
		}
		assert.InDelta(t, l.Equity(), sum, 1e-6, "equity must equal available plus position values")
	}
}

func TestLedgerSnapshotsBounded(t *testing.T) {
	l := newTestLedger(10000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < snapshotLimit+10; i++ {
		l.TakeSnapshot(start.AddDate(0, 0, i))
	}

	snaps := l.Snapshots()
	require.Len(t, snaps, snapshotLimit)
	assert.Equal(t, start.AddDate(0, 0, 10), snaps[0].Time, "oldest snapshots drop first")
}

func TestLedgerSharpeRequiresHistory(t *testing.T) {
	l := newTestLedger(10000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Grow equity steadily via realized profits, one snapshot per day.
	for i := 0; i < minSnapshotsForSharpe-1; i++ {
		require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 0.01, 30000)))
		require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.01, 31000)))
		l.TakeSnapshot(start.AddDate(0, 0, i))
	}
	assert.Zero(t, l.ComputeMetrics().Sharpe, "below the snapshot floor Sharpe is zero")

	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 0.01, 30000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 0.01, 31000)))
	l.TakeSnapshot(start.AddDate(0, 0, minSnapshotsForSharpe-1))
	assert.NotZero(t, l.ComputeMetrics().Sharpe)
}

func TestLedgerDrawdown(t *testing.T) {
	l := newTestLedger(10000)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Win then lose: peak 10500, trough 9450.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, 1000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 1, 1500)))
	l.TakeSnapshot(start)

	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, 2000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 1, 950)))
	l.TakeSnapshot(start.AddDate(0, 0, 1))

	m := l.ComputeMetrics()
	assert.InDelta(t, (10500.0-9450.0)/10500.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, (10500.0-9450.0)/10500.0, m.Drawdown, 1e-9,
		"at the trough current and max drawdown coincide")

	// Partial recovery: current drawdown shrinks, max stays at the trough.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, 1000)))
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideSell, 1, 1750)))

	m = l.ComputeMetrics()
	assert.InDelta(t, (10500.0-10200.0)/10500.0, m.Drawdown, 1e-9)
	assert.InDelta(t, (10500.0-9450.0)/10500.0, m.MaxDrawdown, 1e-9)
}

func TestLedgerValueAtRisk(t *testing.T) {
	l := newTestLedger(10000)
	assert.Zero(t, l.ComputeMetrics().ValueAtRisk, "no closed trades, no estimate")

	// 20 trades of 1000 notional: returns -10%, -5% and eighteen at +5%.
	exits := []float64{900, 950}
	for i := 0; i < 18; i++ {
		exits = append(exits, 1050)
	}
	for _, exit := range exits {
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 1, exit)))
	}

	// At 95% confidence the 5th-percentile trade return is -5%; scaled by
	// the 10750 equity that is a 537.50 loss estimate.
	m := l.ComputeMetrics()
	assert.InDelta(t, 10750, m.Equity, 1e-9)
	assert.InDelta(t, 0.05*10750, m.ValueAtRisk, 1e-9)
}

func TestLedgerValueAtRiskClipsToZero(t *testing.T) {
	l := newTestLedger(10000)

	// Only winning trades: the percentile return is a gain, not a loss.
	for i := 0; i < 10; i++ {
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 1, 1100)))
	}
	assert.Zero(t, l.ComputeMetrics().ValueAtRisk)
}

func TestLedgerHerfindahl(t *testing.T) {
	l := newTestLedger(100000)

	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, 3000)))
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))

	m := l.ComputeMetrics()
	// Weights 0.75 and 0.25.
	assert.InDelta(t, 0.75*0.75+0.25*0.25, m.Herfindahl, 1e-9)

	single := newTestLedger(100000)
	require.NoError(t, single.ApplyFill(fill("BTCUSDT", models.SideBuy, 1, 3000)))
	assert.InDelta(t, 1.0, single.ComputeMetrics().Herfindahl, 1e-9)
}

func TestLedgerCheckRebalance(t *testing.T) {
	l := newTestLedger(10000)

	// 4000 of 10000 equity in one symbol, threshold 25%.
	require.NoError(t, l.ApplyFill(fill("BTCUSDT", models.SideBuy, 2, 2000)))
	require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))

	suggestions := l.CheckRebalance(0.25)
	require.Len(t, suggestions, 1)
	s := suggestions[0]
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, models.SideSell, s.Direction)
	assert.InDelta(t, 0.4, s.CurrentWeight, 1e-9)
	assert.InDelta(t, 0.25, s.TargetWeight, 1e-9)
	// Trim (0.4-0.25)*10000 = 1500 quote, 0.75 units at 2000.
	assert.InDelta(t, 0.75, s.Quantity, 1e-9)

	assert.Empty(t, l.CheckRebalance(0.5))
}

func TestLedgerWinRate(t *testing.T) {
	l := newTestLedger(100000)

	// Two wins, one loss.
	for _, exit := range []float64{1100, 1200, 900} {
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideBuy, 1, 1000)))
		require.NoError(t, l.ApplyFill(fill("ETHUSDT", models.SideSell, 1, exit)))
	}

	rate, trades := l.WinRate()
	assert.Equal(t, 3, trades)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)
}
