// Package risk sizes trade signals into executable decisions and enforces
// portfolio-level limits.
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/config"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/portfolio"
)

// Rejection reasons. Every rejected signal maps to exactly one of these so
// logs can be aggregated by cause.
var (
	ErrLowConfidence = errors.New("signal confidence below minimum")
	ErrNoEdge        = errors.New("kelly fraction is not positive")
	ErrBadSignal     = errors.New("signal has no usable price")
	ErrMaxPositions  = errors.New("maximum open positions reached")
	ErrMaxExposure   = errors.New("maximum total exposure reached")
)

const (
	// halfKelly damps the raw Kelly fraction; full Kelly overbets badly
	// when the win rate estimate is off.
	halfKelly = 0.5

	// availableCapFraction caps any single trade at this share of the
	// available balance regardless of the Kelly estimate.
	availableCapFraction = 0.1

	// minTradesForWinRate is the sample size below which the configured
	// baseline win rate is used instead of the observed one.
	minTradesForWinRate = 30

	// ATR multiples for the protective exits.
	stopLossATRMultiple   = 3.0
	takeProfitATRMultiple = 5.0
)

// Sizer turns signals into sized decisions using the ledger's live state.
type Sizer struct {
	cfg           config.RiskManagementConfig
	minConfidence float64
	ledger        *portfolio.Ledger
	log           *zap.Logger
}

func NewSizer(cfg config.RiskManagementConfig, minConfidence float64, ledger *portfolio.Ledger, log *zap.Logger) *Sizer {
	return &Sizer{
		cfg:           cfg,
		minConfidence: minConfidence,
		ledger:        ledger,
		log:           log.Named("risk"),
	}
}

// Evaluate sizes one signal. The returned error is one of the rejection
// reasons above; a nil error means the decision is safe to execute.
func (s *Sizer) Evaluate(signal models.TradeSignal) (models.TradeDecision, error) {
	if signal.Price <= 0 {
		return models.TradeDecision{}, ErrBadSignal
	}
	if signal.ATR <= 0 {
		// Without ATR there are no exit levels; an entry with no stop is
		// never acceptable.
		return models.TradeDecision{}, fmt.Errorf("%w: missing ATR", ErrBadSignal)
	}
	if signal.Confidence < s.minConfidence {
		s.log.Info("signal rejected",
			zap.String("symbol", signal.Symbol),
			zap.Float64("confidence", signal.Confidence),
			zap.Float64("min_confidence", s.minConfidence))
		return models.TradeDecision{}, ErrLowConfidence
	}

	notional := s.notional(s.ledger.Available())
	if notional <= 0 {
		return models.TradeDecision{}, ErrNoEdge
	}
	if err := s.checkLimits(signal.Symbol, notional); err != nil {
		return models.TradeDecision{}, err
	}

	stop, take := ExitLevels(signal.Direction, signal.Price, signal.ATR)
	decision := models.TradeDecision{
		Symbol:     signal.Symbol,
		Direction:  signal.Direction,
		Quantity:   notional / signal.Price,
		Notional:   notional,
		EntryPrice: signal.Price,
		StopLoss:   stop,
		TakeProfit: take,
		Strategy:   signal.Strategy,
		Timestamp:  time.Now().UTC(),
	}
	s.log.Info("decision",
		zap.String("symbol", decision.Symbol),
		zap.String("direction", string(decision.Direction)),
		zap.Float64("notional", decision.Notional),
		zap.Float64("quantity", decision.Quantity),
		zap.Float64("stop_loss", decision.StopLoss),
		zap.Float64("take_profit", decision.TakeProfit))
	return decision, nil
}

// notional computes the quote amount to commit: half the Kelly fraction of
// the available balance, capped by the configured per-trade maximum and a
// fixed fraction of what is available.
func (s *Sizer) notional(available float64) float64 {
	kelly := KellyFraction(s.winRate(), s.cfg.RewardRiskRatio)
	if kelly <= 0 {
		return 0
	}

	notional := halfKelly * kelly * available
	limit := math.Min(s.cfg.MaxPositionSize, availableCapFraction*available)
	return math.Min(notional, limit)
}

// winRate prefers the observed rate once enough trades back it.
func (s *Sizer) winRate() float64 {
	rate, trades := s.ledger.WinRate()
	if trades < minTradesForWinRate {
		return s.cfg.BaselineWinRate
	}
	return rate
}

func (s *Sizer) checkLimits(symbol string, notional float64) error {
	positions := s.ledger.Positions()

	open := len(positions)
	held := false
	exposure := 0.0
	for _, pos := range positions {
		exposure += math.Abs(pos.Value())
		if pos.Symbol == symbol {
			held = true
		}
	}
	// Adding to an existing position does not open a new slot.
	if !held && open >= s.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: %d open", ErrMaxPositions, open)
	}
	if exposure+notional > s.cfg.MaxTotalExposure {
		return fmt.Errorf("%w: %.2f + %.2f > %.2f", ErrMaxExposure, exposure, notional, s.cfg.MaxTotalExposure)
	}
	return nil
}

// KellyFraction is the optimal bet fraction for the given win rate and
// reward/risk ratio. Negative means no edge.
func KellyFraction(winRate, rewardRisk float64) float64 {
	if rewardRisk <= 0 {
		return 0
	}
	return winRate - (1-winRate)/rewardRisk
}

// ExitLevels derives the protective stop and take-profit from the entry
// price and the signal's ATR.
func ExitLevels(direction models.Side, entry, atr float64) (stopLoss, takeProfit float64) {
	if direction == models.SideBuy {
		return entry - stopLossATRMultiple*atr, entry + takeProfitATRMultiple*atr
	}
	return entry + stopLossATRMultiple*atr, entry - takeProfitATRMultiple*atr
}
