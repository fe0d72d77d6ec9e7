package analyzer

import "math"

// rsi returns the n-period Relative Strength Index of the last close using
// Wilder's smoothing. closes must be chronological.
func rsi(closes []float64, n int) float64 {
	if n <= 0 || len(closes) <= n {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(n)
	loss /= float64(n)

	for i := n + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain = (gain*float64(n-1) + d) / float64(n)
			loss = (loss * float64(n-1)) / float64(n)
		} else {
			gain = (gain * float64(n-1)) / float64(n)
			loss = (loss*float64(n-1) - d) / float64(n)
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// ema returns the full exponential moving average series.
func ema(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || n <= 0 {
		return out
	}
	k := 2.0 / (float64(n) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// macdState classifies the 12/26/9 MACD of the last close.
func macdState(closes []float64) MACDState {
	if len(closes) < 35 {
		return MACDNeutral
	}
	fast := ema(closes, 12)
	slow := ema(closes, 26)

	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal := ema(macd, 9)

	last := len(closes) - 1
	hist := macd[last] - signal[last]

	switch {
	case macd[last] > signal[last] && hist > 0 && macd[last] > macd[last-1]:
		return MACDBullish
	case macd[last] < signal[last] && hist < 0:
		return MACDBearish
	default:
		return MACDNeutral
	}
}

// bandPosition places the last close inside the 20-period, 2-sigma Bollinger
// band: 0 at the lower band, 1 at the upper, clamped outside.
func bandPosition(closes []float64, n int) float64 {
	if len(closes) < n {
		return 0.5
	}
	window := closes[len(closes)-n:]

	var sum float64
	for _, c := range window {
		sum += c
	}
	mean := sum / float64(n)

	var variance float64
	for _, c := range window {
		variance += (c - mean) * (c - mean)
	}
	sd := math.Sqrt(variance / float64(n))
	if sd == 0 {
		return 0.5
	}

	lower := mean - 2*sd
	upper := mean + 2*sd
	pos := (closes[len(closes)-1] - lower) / (upper - lower)
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// volumeRatio compares the latest candle volume with the trailing n-candle
// average.
func volumeRatio(volumes []float64, n int) float64 {
	if len(volumes) < n+1 {
		return 1
	}
	window := volumes[len(volumes)-n-1 : len(volumes)-1]

	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(n)
	if avg == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / avg
}
