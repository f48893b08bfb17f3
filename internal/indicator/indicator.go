package indicator

import (
	"svea/pkg/model"
)

// typicalPrice returns (H+L+C)/3 for a candle.
func typicalPrice(c model.Candle) float64 {
	return (c.High + c.Low + c.Close) / 3
}

// CumulativeVWAP calculates the volume-weighted average price over typical
// prices, accumulated from the first candle through the last. Returns
// ok=false on empty input or zero cumulative volume.
func CumulativeVWAP(candles []model.Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}

	var sumPV, sumV float64
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		sumPV += typicalPrice(c) * float64(c.Volume)
		sumV += float64(c.Volume)
	}
	if sumV == 0 {
		return 0, false
	}
	return sumPV / sumV, true
}

// VWAPSeries returns the cumulative VWAP at each bar position. Bars before
// any volume has traded carry 0.
func VWAPSeries(candles []model.Candle) []float64 {
	series := make([]float64, len(candles))

	var sumPV, sumV float64
	for i, c := range candles {
		if c.Volume > 0 {
			sumPV += typicalPrice(c) * float64(c.Volume)
			sumV += float64(c.Volume)
		}
		if sumV > 0 {
			series[i] = sumPV / sumV
		}
	}
	return series
}

// SMA calculates the simple moving average of closes over the last period
// bars. Returns 0 when there is not enough data.
func SMA(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the exponential moving average of closes over the last
// period bars, seeded with the SMA of the first period closes.
func EMA(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += candles[i].Close
	}
	ema := seed / float64(period)

	alpha := 2.0 / (float64(period) + 1)
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*alpha + ema
	}
	return ema
}

// TrailingAverage averages the closes of the last n bars. With fewer than n
// bars it averages whatever is available; empty input yields 0.
func TrailingAverage(candles []model.Candle, n int) float64 {
	if len(candles) == 0 || n <= 0 {
		return 0
	}
	start := len(candles) - n
	if start < 0 {
		start = 0
	}

	var sum float64
	for i := start; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(len(candles)-start)
}

// PriceChangePct returns the percentage change of current vs reference.
// A zero reference yields 0 rather than a division error.
func PriceChangePct(current, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (current - reference) / reference * 100
}

// SessionMetrics summarizes one session's intraday bars.
type SessionMetrics struct {
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	BarCount int
	VWAP     float64
	Avg5Min  float64 // trailing 5-bar close average, 0 when no bars
}

// ComputeSessionMetrics derives session metrics from ordered intraday bars.
// Returns ok=false on empty input.
func ComputeSessionMetrics(candles []model.Candle) (SessionMetrics, bool) {
	if len(candles) == 0 {
		return SessionMetrics{}, false
	}

	m := SessionMetrics{
		Open:     candles[0].Open,
		High:     candles[0].High,
		Low:      candles[0].Low,
		Close:    candles[len(candles)-1].Close,
		BarCount: len(candles),
	}
	for _, c := range candles {
		if c.High > m.High {
			m.High = c.High
		}
		if c.Low < m.Low {
			m.Low = c.Low
		}
		m.Volume += c.Volume
	}

	if vwap, ok := CumulativeVWAP(candles); ok {
		m.VWAP = vwap
	}
	m.Avg5Min = TrailingAverage(candles, 5)

	return m, true
}
