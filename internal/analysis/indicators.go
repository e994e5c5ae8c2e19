// Package analysis computes technical indicators and turns market snapshots
// into trade signals.
package analysis

import (
	"math"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/models"
)

// minCandles is how much history the indicator set needs to be meaningful.
const minCandles = 50

// Indicators holds the computed indicator values for one candle series.
type Indicators struct {
	RSI         float64
	MACD        float64
	Signal      float64
	ATR         float64
	BollUpper   float64
	BollMiddle  float64
	BollLower   float64
	VolumeRatio float64 // last candle volume vs 20-period average
	EMA20       float64
	EMA50       float64
}

// Compute calculates the indicator set. Returns nil when the series is too
// short to produce stable values.
func Compute(klines []models.Kline) *Indicators {
	if len(klines) < minCandles {
		return nil
	}

	prices := make([]float64, len(klines))
	for i, k := range klines {
		prices[i] = k.Close
	}

	ind := &Indicators{
		RSI:   rsi(klines, 14),
		ATR:   atr(klines, 14),
		EMA20: ema(prices, 20),
		EMA50: ema(prices, 50),
	}
	ind.MACD, ind.Signal = macd(prices)
	ind.BollUpper, ind.BollMiddle, ind.BollLower = bollinger(prices, 20, 2)
	ind.VolumeRatio = volumeRatio(klines, 20)
	return ind
}

func rsi(klines []models.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 50
	}

	gains := 0.0
	losses := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		sum := 0.0
		for _, p := range prices {
			sum += p
		}
		return sum / float64(len(prices))
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	out := sum / float64(period)

	for i := period; i < len(prices); i++ {
		out = (prices[i] * multiplier) + (out * (1 - multiplier))
	}
	return out
}

// emaSeries seeds from the first value instead of an SMA, for short series
// like the MACD signal line.
func emaSeries(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	multiplier := 2.0 / float64(period+1)
	out := values[0]
	for i := 1; i < len(values); i++ {
		out = (values[i] * multiplier) + (out * (1 - multiplier))
	}
	return out
}

func macd(prices []float64) (float64, float64) {
	if len(prices) < 35 { // 26 plus enough points for the signal line
		return 0, 0
	}

	macdValues := make([]float64, 0, 15)
	for i := len(prices) - 15; i < len(prices); i++ {
		ema12 := ema(prices[:i+1], 12)
		ema26 := ema(prices[:i+1], 26)
		macdValues = append(macdValues, ema12-ema26)
	}

	return macdValues[len(macdValues)-1], emaSeries(macdValues, 9)
}

func atr(klines []models.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		tr := math.Max(klines[i].High-klines[i].Low,
			math.Max(math.Abs(klines[i].High-klines[i-1].Close),
				math.Abs(klines[i].Low-klines[i-1].Close)))
		sum += tr
	}
	return sum / float64(period)
}

func bollinger(prices []float64, period int, mult float64) (upper, middle, lower float64) {
	if len(prices) < period {
		return 0, 0, 0
	}

	window := prices[len(prices)-period:]
	sum := 0.0
	for _, p := range window {
		sum += p
	}
	middle = sum / float64(period)

	variance := 0.0
	for _, p := range window {
		variance += (p - middle) * (p - middle)
	}
	stddev := math.Sqrt(variance / float64(period))

	return middle + mult*stddev, middle, middle - mult*stddev
}

func volumeRatio(klines []models.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 0
	}

	sum := 0.0
	for i := len(klines) - period - 1; i < len(klines)-1; i++ {
		sum += klines[i].Volume
	}
	avg := sum / float64(period)
	if avg == 0 {
		return 0
	}
	return klines[len(klines)-1].Volume / avg
}
