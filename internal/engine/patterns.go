package engine

import (
	"fmt"
	"sync"
	"time"

	"coinsentry/internal/analyzer"
	"coinsentry/internal/config"
	"coinsentry/internal/logger"
	"coinsentry/internal/metrics"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
)

// Pattern names a recurring losing setup, classified from the market and
// indicator conditions present at entry.
type Pattern string

const (
	PatternVolumeFakeout  Pattern = "VOLUME_SPIKE_FAKEOUT"
	PatternOverbought     Pattern = "OVERBOUGHT_ENTRY"
	PatternCounterTrend   Pattern = "COUNTER_TREND_ENTRY"
	PatternBandTop        Pattern = "BAND_TOP_ENTRY"
	PatternWeakVolume     Pattern = "WEAK_VOLUME_ENTRY"
	PatternLowConfluence  Pattern = "LOW_CONFLUENCE_ENTRY"
	PatternTimeout        Pattern = "TIMEOUT_EXIT"
	PatternProfitGiveback Pattern = "PROFIT_GIVEBACK"
	PatternUnknown        Pattern = "UNKNOWN"
)

// PatternTracker classifies closed losers, counts consecutive failures per
// pattern and suspends entries matching a pattern for an escalating cool-off.
type PatternTracker struct {
	cfg      *config.Config
	repo     *storage.Repository
	notifier *telegram.Notifier
	log      *logger.Logger

	mu     sync.Mutex
	states map[Pattern]*storage.PatternState

	now func() time.Time
}

func NewPatternTracker(cfg *config.Config, repo *storage.Repository, notifier *telegram.Notifier, log *logger.Logger) (*PatternTracker, error) {
	records, err := repo.LoadPatternStates()
	if err != nil {
		return nil, fmt.Errorf("load pattern states: %w", err)
	}

	states := make(map[Pattern]*storage.PatternState, len(records))
	for i := range records {
		rec := records[i]
		states[Pattern(rec.Pattern)] = &rec
	}

	return &PatternTracker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		log:      log,
		states:   states,
		now:      time.Now,
	}, nil
}

// Classify tags a closed losing position with the first matching pattern.
func (t *PatternTracker) Classify(p *storage.Position) Pattern {
	pc := t.cfg.Patterns

	holding := time.Duration(0)
	if p.ExitTime != nil {
		holding = p.ExitTime.Sub(p.EntryTime)
	}

	switch {
	case p.ExitReason == storage.ExitStopLoss &&
		holding > 0 && holding <= time.Duration(pc.FakeoutWindowMinutes)*time.Minute &&
		p.EntryVolumeRatio >= pc.FakeoutVolumeRatio:
		return PatternVolumeFakeout
	case p.EntryRSI >= pc.OverboughtRSI:
		return PatternOverbought
	case p.EntryMACD != string(analyzer.MACDBullish):
		return PatternCounterTrend
	case p.EntryBandPos >= pc.BandTopPosition:
		return PatternBandTop
	case p.EntryVolumeRatio < pc.WeakVolumeRatio:
		return PatternWeakVolume
	case p.EntryConfluence < pc.LowConfluenceScore:
		return PatternLowConfluence
	case p.ExitReason == storage.ExitTimeout:
		return PatternTimeout
	case p.ExitReason == storage.ExitTrailingStop && p.PnL < 0:
		return PatternProfitGiveback
	default:
		return PatternUnknown
	}
}

// RecordLoss classifies the loser, bumps the pattern's consecutive-failure
// count and applies the escalating suspension ladder. UNKNOWN never suspends.
func (t *PatternTracker) RecordLoss(p *storage.Position) Pattern {
	pattern := t.Classify(p)
	if pattern == PatternUnknown {
		return pattern
	}

	t.mu.Lock()
	state := t.stateLocked(pattern)
	state.ConsecutiveFails++

	if dur := suspensionFor(state.ConsecutiveFails); dur > 0 {
		until := t.now().Add(dur)
		state.SuspendedUntil = &until

		metrics.PatternSuspensions.WithLabelValues(string(pattern)).Inc()
		t.log.Warn("failure pattern suspended",
			"pattern", pattern,
			"consecutive_fails", state.ConsecutiveFails,
			"until", until.Format(time.RFC3339))
		t.notifier.NotifySuspension(string(pattern), until.Format("2006-01-02 15:04:05"))
	}

	t.persistLocked(state)
	t.mu.Unlock()

	return pattern
}

// RecordWin resets every pattern whose trigger conditions the winning trade's
// entry snapshot would have matched, lifting any active suspension.
func (t *PatternTracker) RecordWin(p *storage.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for pattern, state := range t.states {
		if state.ConsecutiveFails == 0 && state.SuspendedUntil == nil {
			continue
		}
		if !t.winMatches(pattern, p) {
			continue
		}
		state.ConsecutiveFails = 0
		state.SuspendedUntil = nil
		t.persistLocked(state)
		t.log.Info("failure pattern reset by winning trade", "pattern", pattern, "market", p.Market)
	}
}

// SuspendedFor returns the first currently suspended pattern whose trigger
// conditions the entry snapshot matches.
func (t *PatternTracker) SuspendedFor(snap *analyzer.Snapshot) (Pattern, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for pattern, state := range t.states {
		if state.SuspendedUntil == nil {
			continue
		}
		if !state.SuspendedUntil.After(now) {
			// expired; next classification re-evaluates normally
			state.SuspendedUntil = nil
			t.persistLocked(state)
			continue
		}
		if t.entryMatches(pattern, snap) {
			return pattern, *state.SuspendedUntil, true
		}
	}
	return "", time.Time{}, false
}

// entryMatches reports whether an entry snapshot satisfies the pattern's
// trigger conditions. Exit-driven patterns have no entry trigger.
func (t *PatternTracker) entryMatches(pattern Pattern, snap *analyzer.Snapshot) bool {
	pc := t.cfg.Patterns
	switch pattern {
	case PatternVolumeFakeout:
		return snap.VolumeRatio >= pc.FakeoutVolumeRatio
	case PatternOverbought:
		return snap.RSI >= pc.OverboughtRSI
	case PatternCounterTrend:
		return snap.MACD != analyzer.MACDBullish
	case PatternBandTop:
		return snap.BandPosition >= pc.BandTopPosition
	case PatternWeakVolume:
		return snap.VolumeRatio < pc.WeakVolumeRatio
	case PatternLowConfluence:
		return snap.ConfluenceScore < pc.LowConfluenceScore
	default:
		return false
	}
}

// winMatches decides whether a winning trade counts against a pattern. Entry
// patterns compare the entry snapshot; exit-driven patterns reset when the win
// exited through the same mechanism.
func (t *PatternTracker) winMatches(pattern Pattern, p *storage.Position) bool {
	switch pattern {
	case PatternTimeout:
		return p.ExitReason == storage.ExitTimeout
	case PatternProfitGiveback:
		return p.ExitReason == storage.ExitTrailingStop
	default:
		return t.entryMatches(pattern, &analyzer.Snapshot{
			RSI:             p.EntryRSI,
			MACD:            analyzer.MACDState(p.EntryMACD),
			BandPosition:    p.EntryBandPos,
			VolumeRatio:     p.EntryVolumeRatio,
			ConfluenceScore: p.EntryConfluence,
		})
	}
}

func (t *PatternTracker) stateLocked(pattern Pattern) *storage.PatternState {
	if state, ok := t.states[pattern]; ok {
		return state
	}
	state := &storage.PatternState{Pattern: string(pattern)}
	t.states[pattern] = state
	return state
}

func (t *PatternTracker) persistLocked(state *storage.PatternState) {
	if err := t.repo.SavePatternState(state); err != nil {
		t.log.Error("persist pattern state", "pattern", state.Pattern, "error", err)
	}
}

// suspensionFor maps a consecutive-failure count to its cool-off; the longest
// applicable duration wins.
func suspensionFor(fails int) time.Duration {
	switch {
	case fails >= 10:
		return 24 * time.Hour
	case fails >= 5:
		return 4 * time.Hour
	case fails >= 3:
		return time.Hour
	default:
		return 0
	}
}
