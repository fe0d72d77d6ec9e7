package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
	"coinsentry/internal/metrics"
	"coinsentry/internal/news"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
)

// NewsSource provides recent headlines for the filter's alert context.
type NewsSource interface {
	FetchRecent(ctx context.Context) ([]news.Item, error)
}

// Engine wires the position lifecycle together: entry gate, state machine,
// exit evaluator, circuit breaker, failure-pattern tracker and the market
// coordinator, plus the strategy workers feeding them.
type Engine struct {
	cfg      *config.Config
	repo     *storage.Repository
	exchange Exchange
	prices   PriceSource
	analyzer Analyzer
	filter   Filter
	newsFeed NewsSource
	notifier *telegram.Notifier
	log      *logger.Logger

	coordinator *Coordinator
	breaker     *Breaker
	patterns    *PatternTracker
	gate        *EntryGate
	exit        *ExitEngine
	sm          *StateMachine

	sigCh   chan *Signal
	enabled atomic.Bool

	newsMu    sync.RWMutex
	headlines []news.Item
}

func New(
	cfg *config.Config,
	repo *storage.Repository,
	ex Exchange,
	prices PriceSource,
	an Analyzer,
	filter Filter,
	newsFeed NewsSource,
	notifier *telegram.Notifier,
	log *logger.Logger,
) (*Engine, error) {
	breaker, err := NewBreaker(cfg, repo, notifier, log)
	if err != nil {
		return nil, fmt.Errorf("init circuit breaker: %w", err)
	}
	patterns, err := NewPatternTracker(cfg, repo, notifier, log)
	if err != nil {
		return nil, fmt.Errorf("init pattern tracker: %w", err)
	}

	coordinator := NewCoordinator()
	exit := NewExitEngine(cfg, log)

	e := &Engine{
		cfg:         cfg,
		repo:        repo,
		exchange:    ex,
		prices:      prices,
		analyzer:    an,
		filter:      filter,
		newsFeed:    newsFeed,
		notifier:    notifier,
		log:         log,
		coordinator: coordinator,
		breaker:     breaker,
		patterns:    patterns,
		exit:        exit,
		gate:        NewEntryGate(cfg, repo, breaker, patterns, coordinator, log),
		sigCh:       make(chan *Signal, cfg.Trading.SignalQueueSize),
	}
	e.sm = NewStateMachine(cfg, repo, ex, notifier, breaker, exit, log)
	e.sm.SetOnClosed(e.handleClosed)
	e.enabled.Store(true)

	return e, nil
}

// handleClosed runs once per finalized position: release the market, seed the
// cooldown, feed the breaker and tag losses with their failure pattern.
func (e *Engine) handleClosed(p *storage.Position) {
	if p.ExitTime != nil {
		e.gate.MarkClosed(p.Market, *p.ExitTime)
	}
	e.coordinator.Release(p.Market)

	// a stranded position resolved through the zero-balance path carries a
	// synthetic zero P&L; feeding it to the breaker would clear a live loss
	// streak, so the outcome is not recorded
	if p.ExitReason == storage.ExitAbandonedNoBalance {
		return
	}
	e.breaker.RecordOutcome(p.PnL)

	if p.PnL < 0 {
		pattern := e.patterns.RecordLoss(p)
		p.FailurePattern = string(pattern)
		if err := e.repo.UpdatePosition(p); err != nil {
			e.log.Error("persist failure pattern", "position", p.ID, "error", err)
		}
	} else {
		e.patterns.RecordWin(p)
	}
}

// Recover reloads in-flight positions after a restart: OPEN positions resume
// monitoring with their trailing marks, CLOSING positions re-poll their close
// order immediately, ABANDONED positions are registered for the retry timer.
func (e *Engine) Recover(ctx context.Context) error {
	open, err := e.repo.FindPositionsByStatus(storage.StatusOpen)
	if err != nil {
		return fmt.Errorf("recover open positions: %w", err)
	}
	for i := range open {
		p := &open[i]
		e.coordinator.TryAcquire(p.Market)
		e.exit.Restore(p)
		e.log.Info("recovered open position", "market", p.Market, "position", p.ID, "trailing", p.TrailingActive)
	}

	closing, err := e.repo.FindPositionsByStatus(storage.StatusClosing)
	if err != nil {
		return fmt.Errorf("recover closing positions: %w", err)
	}
	metrics.OpenPositions.Set(float64(len(open) + len(closing)))

	for i := range closing {
		p := &closing[i]
		e.coordinator.TryAcquire(p.Market)
		e.log.Info("recovered closing position, re-polling close order", "market", p.Market, "position", p.ID)
		e.confirmOne(ctx, p)
	}

	abandoned, err := e.repo.FindPositionsByStatus(storage.StatusAbandoned)
	if err != nil {
		return fmt.Errorf("recover abandoned positions: %w", err)
	}
	for i := range abandoned {
		p := &abandoned[i]
		e.coordinator.TryAcquire(p.Market)
		e.log.Warn("abandoned position registered for retry timer", "market", p.Market, "position", p.ID)
	}

	// cooldowns are per market, not per strategy: a market traded only through
	// the manual trigger still cools down, so the restore set comes from the
	// trade history with the strategy lists folded in
	seen := make(map[string]bool)
	var markets []string
	recent, err := e.repo.RecentlyClosedMarkets(time.Now().Add(-e.cfg.Cooldown()))
	if err != nil {
		e.log.Error("load recently closed markets", "error", err)
	}
	for _, m := range recent {
		if !seen[m] {
			seen[m] = true
			markets = append(markets, m)
		}
	}
	for _, s := range e.cfg.Strategies {
		for _, m := range s.Markets {
			if !seen[m] {
				seen[m] = true
				markets = append(markets, m)
			}
		}
	}
	e.gate.RestoreCooldowns(markets)

	e.log.Info("recovery complete", "open", len(open), "closing", len(closing), "abandoned", len(abandoned))
	return nil
}

// Run starts every background task and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.monitorLoop(ctx) })
	g.Go(func() error { return e.abandonedLoop(ctx) })
	g.Go(func() error { return e.equityLoop(ctx) })

	for i := 0; i < e.cfg.Trading.SignalWorkers; i++ {
		g.Go(func() error { return e.workerLoop(ctx) })
	}

	for _, s := range e.cfg.Strategies {
		s := s
		g.Go(func() error { return e.scanLoop(ctx, s.Name, s.Markets, s.ScanInterval()) })
	}

	if e.filter != nil && e.newsFeed != nil {
		g.Go(func() error { return e.newsLoop(ctx) })
	}

	return g.Wait()
}

func (e *Engine) newsLoop(ctx context.Context) error {
	e.refreshNews(ctx)

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.refreshNews(ctx)
		}
	}
}

func (e *Engine) refreshNews(ctx context.Context) {
	items, err := e.newsFeed.FetchRecent(ctx)
	if err != nil {
		// non-fatal; the filter just sees fewer headlines
		e.log.Warn("fetch news", "error", err)
		return
	}
	e.newsMu.Lock()
	e.headlines = items
	e.newsMu.Unlock()
	e.log.Debug("news refreshed", "headlines", len(items))
}

func (e *Engine) headlinesFor(market string) []string {
	e.newsMu.RLock()
	items := e.headlines
	e.newsMu.RUnlock()
	return news.HeadlinesFor(items, market)
}

// Status is the operator-facing summary.
type Status struct {
	Enabled           bool    `json:"enabled"`
	OpenPositionCount int     `json:"open_position_count"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	DailyPnL          float64 `json:"daily_pnl"`
	CanTrade          bool    `json:"can_trade"`
	BreakerReason     string  `json:"breaker_reason,omitempty"`
}

func (e *Engine) Status() Status {
	open, err := e.repo.CountByStatus(storage.StatusOpen)
	if err != nil {
		e.log.Error("count open positions", "error", err)
	}
	breaker := e.breaker.Snapshot()
	canTrade, reason := e.breaker.CanTrade()

	return Status{
		Enabled:           e.enabled.Load(),
		OpenPositionCount: int(open),
		ConsecutiveLosses: breaker.ConsecutiveLosses,
		DailyPnL:          breaker.DailyPnL,
		CanTrade:          canTrade,
		BreakerReason:     reason,
	}
}

// ManualTrigger runs the full entry path for one market synchronously,
// optionally bypassing the filter.
func (e *Engine) ManualTrigger(ctx context.Context, market string, skipFilter bool) (bool, string) {
	return e.process(ctx, &Signal{Market: market, Strategy: "manual", SkipFilter: skipFilter})
}

// CloseResult reports one position's manual-close outcome.
type CloseResult struct {
	PositionID uint   `json:"position_id"`
	Market     string `json:"market"`
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
}

// ManualClose requests a close for every OPEN position on the market.
func (e *Engine) ManualClose(ctx context.Context, market string) []CloseResult {
	var results []CloseResult

	open, err := e.repo.FindPositionsByMarketAndStatus(market, storage.StatusOpen)
	if err != nil {
		return []CloseResult{{Market: market, OK: false, Message: "load positions: " + err.Error()}}
	}
	closing, err := e.repo.FindPositionsByMarketAndStatus(market, storage.StatusClosing)
	if err == nil {
		for _, p := range closing {
			results = append(results, CloseResult{
				PositionID: p.ID, Market: market, OK: true, Message: "close already in progress",
			})
		}
	}

	if len(open) == 0 && len(results) == 0 {
		return []CloseResult{{Market: market, OK: false, Message: "no open position"}}
	}

	for i := range open {
		p := &open[i]
		if err := e.sm.RequestClose(ctx, p, storage.ExitManual); err != nil {
			results = append(results, CloseResult{PositionID: p.ID, Market: market, OK: false, Message: err.Error()})
			continue
		}
		results = append(results, CloseResult{PositionID: p.ID, Market: market, OK: true, Message: "close order submitted"})
	}
	return results
}

// ResetBreaker is the operator override; returns the counters after reset.
func (e *Engine) ResetBreaker() storage.BreakerState {
	return e.breaker.Reset()
}
