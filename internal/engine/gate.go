package engine

import (
	"fmt"
	"sync"
	"time"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
	"coinsentry/internal/storage"
)

// EntryGate validates an approved signal against cooldown, circuit breaker,
// concurrency limits, pattern suspensions and entry thresholds before
// reserving the market. Checks run in order; the first failure short-circuits.
type EntryGate struct {
	cfg         *config.Config
	repo        *storage.Repository
	breaker     *Breaker
	patterns    *PatternTracker
	coordinator *Coordinator
	log         *logger.Logger

	mu         sync.Mutex
	lastClosed map[string]time.Time

	now func() time.Time
}

func NewEntryGate(cfg *config.Config, repo *storage.Repository, breaker *Breaker, patterns *PatternTracker, coordinator *Coordinator, log *logger.Logger) *EntryGate {
	return &EntryGate{
		cfg:         cfg,
		repo:        repo,
		breaker:     breaker,
		patterns:    patterns,
		coordinator: coordinator,
		log:         log,
		lastClosed:  make(map[string]time.Time),
		now:         time.Now,
	}
}

// TryEnter returns nil when the signal may open a position; the market is then
// reserved and stays reserved until the position reaches a terminal state.
func (g *EntryGate) TryEnter(sig *Signal) *Rejection {
	// 1. market-level cooldown
	if last, ok := g.lastClosedAt(sig.Market); ok {
		elapsed := g.now().Sub(last)
		if elapsed < g.cfg.Cooldown() {
			return &Rejection{
				Code: RejectCooldown,
				Reason: fmt.Sprintf("last trade on %s closed %s ago, cooldown is %s",
					sig.Market, elapsed.Round(time.Second), g.cfg.Cooldown()),
			}
		}
	}

	// 2. circuit breaker
	if ok, reason := g.breaker.CanTrade(); !ok {
		return &Rejection{Code: RejectBreaker, Reason: "circuit breaker: " + reason}
	}

	// 3. concurrent-position cap
	open, err := g.repo.CountByStatus(storage.StatusOpen)
	if err != nil {
		return &Rejection{Code: RejectUpstream, Reason: "count open positions: " + err.Error()}
	}
	closing, err := g.repo.CountByStatus(storage.StatusClosing)
	if err != nil {
		return &Rejection{Code: RejectUpstream, Reason: "count closing positions: " + err.Error()}
	}
	if int(open+closing) >= g.cfg.Trading.MaxConcurrentPositions {
		return &Rejection{
			Code:   RejectMaxPositions,
			Reason: fmt.Sprintf("open positions %d >= max %d", open+closing, g.cfg.Trading.MaxConcurrentPositions),
		}
	}

	// 4. failure-pattern suspension
	if pattern, until, suspended := g.patterns.SuspendedFor(sig.Snapshot); suspended {
		return &Rejection{
			Code: RejectSuspended,
			Reason: fmt.Sprintf("pattern %s suspended until %s",
				pattern, until.Format("2006-01-02 15:04:05")),
		}
	}

	// 5. entry-condition thresholds
	if sig.Snapshot.RSI >= g.cfg.Trading.MaxEntryRSI {
		return &Rejection{
			Code:   RejectRSICeiling,
			Reason: fmt.Sprintf("RSI %.1f >= ceiling %.1f", sig.Snapshot.RSI, g.cfg.Trading.MaxEntryRSI),
		}
	}
	required := g.requiredScore(sig.Snapshot.VolumeRatio)
	if sig.Snapshot.ConfluenceScore < required {
		return &Rejection{
			Code: RejectLowScore,
			Reason: fmt.Sprintf("confluence %.0f < required %.0f at %.1fx volume",
				sig.Snapshot.ConfluenceScore, required, sig.Snapshot.VolumeRatio),
		}
	}

	// 6. market reservation
	if !g.coordinator.TryAcquire(sig.Market) {
		return &Rejection{
			Code:   RejectMarketHeld,
			Reason: fmt.Sprintf("market %s already held by another engine", sig.Market),
		}
	}

	return nil
}

// requiredScore relaxes the confluence floor as volume ratio grows: an
// overwhelming volume signal compensates for a weaker composite score.
func (g *EntryGate) requiredScore(volumeRatio float64) float64 {
	switch {
	case volumeRatio >= 5.0:
		return 30
	case volumeRatio >= 3.0:
		return 40
	case volumeRatio >= 2.0:
		return 50
	default:
		return g.cfg.Trading.MinConfluenceScore
	}
}

// MarkClosed records the close time used by the cooldown check.
func (g *EntryGate) MarkClosed(market string, at time.Time) {
	g.mu.Lock()
	g.lastClosed[market] = at
	g.mu.Unlock()
}

func (g *EntryGate) lastClosedAt(market string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastClosed[market]
	return t, ok
}

// RestoreCooldowns seeds the cooldown map from trade history after a restart.
func (g *EntryGate) RestoreCooldowns(markets []string) {
	for _, market := range markets {
		last, err := g.repo.LastClosedPosition(market)
		if err != nil || last == nil || last.ExitTime == nil {
			continue
		}
		g.MarkClosed(market, *last.ExitTime)
	}
}
