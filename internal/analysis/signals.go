package analysis

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// Strategy names carried on every signal.
const (
	StrategyTrendFollowing = "trend_following"
	StrategyMeanReversion  = "mean_reversion"
	StrategyTakeProfit     = "take_profit"
)

// Analyzer turns market snapshots into trade signals. The risk layer gates
// on confidence downstream; the analyzer publishes every strategy hit.
type Analyzer struct {
	volumeThreshold float64
	timeframe       string
	log             *zap.Logger
}

// NewAnalyzer builds an Analyzer reading candles at timeframe (e.g. "1m").
func NewAnalyzer(volumeThreshold float64, timeframe string, log *zap.Logger) *Analyzer {
	return &Analyzer{
		volumeThreshold: volumeThreshold,
		timeframe:       timeframe,
		log:             log.Named("analysis"),
	}
}

// Evaluate runs every strategy against the snapshot. A nil or short candle
// series yields no signals.
func (a *Analyzer) Evaluate(snapshot models.MarketSnapshot) []models.TradeSignal {
	klines := snapshot.Candles[a.timeframe]
	ind := Compute(klines)
	if ind == nil {
		a.log.Debug("insufficient candle history",
			zap.String("symbol", snapshot.Symbol),
			zap.String("timeframe", a.timeframe),
			zap.Int("candles", len(klines)))
		return nil
	}

	price := snapshot.Price
	if price == 0 && len(klines) > 0 {
		price = klines[len(klines)-1].Close
	}

	var signals []models.TradeSignal
	now := time.Now().UTC()

	switch {
	case ind.MACD > ind.Signal && ind.VolumeRatio > a.volumeThreshold && price > ind.BollMiddle:
		signals = append(signals, models.TradeSignal{
			Symbol:     snapshot.Symbol,
			Direction:  models.SideBuy,
			Confidence: trendConfidence(ind.MACD, ind.Signal),
			Price:      price,
			Strategy:   StrategyTrendFollowing,
			ATR:        ind.ATR,
			Timestamp:  now,
		})

	case ind.RSI < 30 && price < ind.BollLower:
		signals = append(signals, models.TradeSignal{
			Symbol:     snapshot.Symbol,
			Direction:  models.SideBuy,
			Confidence: (30 - ind.RSI) / 30,
			Price:      price,
			Strategy:   StrategyMeanReversion,
			ATR:        ind.ATR,
			Timestamp:  now,
		})

	case ind.RSI > 70 || price > ind.BollUpper:
		signals = append(signals, models.TradeSignal{
			Symbol:     snapshot.Symbol,
			Direction:  models.SideSell,
			Confidence: 0.8,
			Price:      price,
			Strategy:   StrategyTakeProfit,
			ATR:        ind.ATR,
			Timestamp:  now,
		})
	}

	for _, sig := range signals {
		a.log.Info("signal",
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", sig.Strategy),
			zap.String("direction", string(sig.Direction)),
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("price", sig.Price))
	}
	return signals
}

// trendConfidence scales with how far MACD sits above its signal line,
// capped below certainty.
func trendConfidence(macd, signal float64) float64 {
	if signal == 0 {
		return 0.5
	}
	conf := (macd - signal) / math.Abs(signal) * 2
	if conf > 0.95 {
		return 0.95
	}
	if conf < 0 {
		return 0
	}
	return conf
}
