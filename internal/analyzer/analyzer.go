package analyzer

import (
	"context"
	"fmt"

	"coinsentry/internal/exchange"
	"coinsentry/internal/logger"
)

const (
	candleUnit  = 1
	candleCount = 120
	minCandles  = 60
)

// Analyzer builds indicator snapshots from minute candles.
type Analyzer struct {
	client *exchange.Client
	log    *logger.Logger
}

func New(client *exchange.Client, log *logger.Logger) *Analyzer {
	return &Analyzer{client: client, log: log}
}

// Analyze returns the current indicator snapshot for a market, or nil when the
// market has not enough candle history to score.
func (a *Analyzer) Analyze(ctx context.Context, market string) (*Snapshot, error) {
	candles, err := a.client.Candles(ctx, market, candleUnit, candleCount)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", market, err)
	}
	if len(candles) < minCandles {
		a.log.Debug("insufficient candle history", "market", market, "candles", len(candles))
		return nil, nil
	}

	// API returns most-recent-first; indicators want chronological order.
	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		j := len(candles) - 1 - i
		closes[j] = c.Close
		volumes[j] = c.AccVolume
	}

	snap := &Snapshot{
		Market:       market,
		Price:        closes[len(closes)-1],
		RSI:          rsi(closes, 14),
		MACD:         macdState(closes),
		BandPosition: bandPosition(closes, 20),
		VolumeRatio:  volumeRatio(volumes, 20),
	}
	snap.ConfluenceScore = confluence(snap, closes)

	return snap, nil
}

// confluence folds the individual signals into one 0-100 entry-strength score.
func confluence(s *Snapshot, closes []float64) float64 {
	var score float64

	switch {
	case s.RSI < 30:
		score += 25
	case s.RSI < 40:
		score += 15
	case s.RSI < 50:
		score += 8
	}

	switch s.MACD {
	case MACDBullish:
		score += 25
	case MACDNeutral:
		score += 10
	}

	switch {
	case s.BandPosition < 0.2:
		score += 20
	case s.BandPosition < 0.4:
		score += 12
	}

	switch {
	case s.VolumeRatio >= 3.0:
		score += 20
	case s.VolumeRatio >= 2.0:
		score += 12
	case s.VolumeRatio >= 1.5:
		score += 6
	}

	// short-term momentum over the last 5 candles
	if n := len(closes); n >= 6 && closes[n-1] > closes[n-6] {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
