package indicators

import "math"

// Technical indicators over float64 price series. Money amounts elsewhere in
// the codebase use decimal; indicator math stays in floats since the outputs
// are statistical, not accounting.

// RSI calculates the Relative Strength Index
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50 // neutral until enough data
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])

	// Wilder smoothing over the remainder
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// EMA calculates the Exponential Moving Average
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(prices[:period])
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema
}

// SMA calculates the Simple Moving Average
func SMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return average(prices)
	}
	return average(prices[len(prices)-period:])
}

// Momentum returns the percent price change over a period
func Momentum(prices []float64, period int) float64 {
	if len(prices) <= period {
		return 0
	}
	current := prices[len(prices)-1]
	previous := prices[len(prices)-1-period]
	if previous == 0 {
		return 0
	}
	return ((current - previous) / previous) * 100
}

// MomentumScore normalizes momentum to a -30..+30 score
func MomentumScore(prices []float64, period int) float64 {
	score := Momentum(prices, period) * 30
	return clamp(score, -30, 30)
}

// RSIScore converts RSI into a contrarian -20..+20 score: oversold is
// bullish, overbought is bearish
func RSIScore(rsi float64) float64 {
	switch {
	case rsi < 30:
		return 10 + ((30-rsi)/30)*10
	case rsi < 40:
		return ((40 - rsi) / 10) * 10
	case rsi > 70:
		return -10 - ((rsi-70)/30)*10
	case rsi > 60:
		return -((rsi - 60) / 10) * 10
	default:
		return 0
	}
}

// Volatility returns the standard deviation of the series
func Volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	avg := average(prices)
	sumSquares := 0.0
	for _, p := range prices {
		sumSquares += (p - avg) * (p - avg)
	}
	return math.Sqrt(sumSquares / float64(len(prices)))
}

// ATR calculates the Average True Range from OHLC candles. This is the
// volatility input for stop-loss and trailing-stop distances.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		tr := math.Max(
			highs[i]-lows[i],
			math.Max(
				math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1]),
			),
		)
		trs = append(trs, tr)
	}
	return SMA(trs, period)
}

// TrendStrength returns signed trend persistence: +100 = every bar up,
// -100 = every bar down
func TrendStrength(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}

	increases, decreases := 0, 0
	recent := prices[len(prices)-period:]
	for i := 1; i < len(recent); i++ {
		if recent[i] > recent[i-1] {
			increases++
		} else if recent[i] < recent[i-1] {
			decreases++
		}
	}

	total := increases + decreases
	if total == 0 {
		return 0
	}
	if increases > decreases {
		return float64(increases) / float64(total) * 100
	}
	return -float64(decreases) / float64(total) * 100
}

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
