package advice

import (
	"math"

	"whale-spot-bot/internal/binance"
)

// Indicators summarises the candle window sent to the advisory model
type Indicators struct {
	RSI      float64
	EMA20    float64
	BBLower  float64
	BBMiddle float64
	BBUpper  float64
	BBWidth  float64 // (upper-lower)/middle in %
}

func computeIndicators(klines []binance.Kline) Indicators {
	var ind Indicators
	ind.RSI = calculateRSI(klines, 14)
	ind.EMA20 = calculateEMA(klines, 20)
	ind.BBUpper, ind.BBMiddle, ind.BBLower = calculateBollingerBands(klines, 20, 2)
	if ind.BBMiddle != 0 {
		ind.BBWidth = (ind.BBUpper - ind.BBLower) / ind.BBMiddle * 100
	}
	return ind
}

func calculateSMA(klines []binance.Kline, period int) float64 {
	if len(klines) < period {
		return 0
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// calculateEMA seeds with the SMA of the first period candles
func calculateEMA(klines []binance.Kline, period int) float64 {
	if len(klines) < period {
		return 0
	}

	ema := calculateSMA(klines[:period], period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(klines); i++ {
		ema = (klines[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

func calculateRSI(klines []binance.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// calculateBollingerBands returns upper, middle, lower using the population deviation
func calculateBollingerBands(klines []binance.Kline, period int, stdDev float64) (float64, float64, float64) {
	if len(klines) < period {
		return 0, 0, 0
	}

	middle := calculateSMA(klines, period)
	variance := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		diff := klines[i].Close - middle
		variance += diff * diff
	}
	sd := math.Sqrt(variance / float64(period))

	return middle + stdDev*sd, middle, middle - stdDev*sd
}
