package engine

import (
	"sync"
	"time"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
	"coinsentry/internal/storage"
)

// ExitDecision is the outcome of one evaluation tick for one position.
type ExitDecision struct {
	Close   bool
	Reason  storage.ExitReason
	Updated bool // trailing fields changed and should be persisted
}

// ExitEngine turns live price into a close decision for every OPEN position.
// The trailing high-water marks live in an internal map keyed by position id
// and are mirrored into the position row for restart recovery.
type ExitEngine struct {
	cfg *config.Config
	log *logger.Logger

	mu        sync.Mutex
	highWater map[uint]float64

	now func() time.Time
}

func NewExitEngine(cfg *config.Config, log *logger.Logger) *ExitEngine {
	return &ExitEngine{
		cfg:       cfg,
		log:       log,
		highWater: make(map[uint]float64),
		now:       time.Now,
	}
}

// Evaluate applies the exit rules in order: stop-loss, take-profit, trailing
// stop, timeout. First match wins. A position with a non-positive entry price
// is never evaluated; it must have been routed to ABANDONED at creation.
func (x *ExitEngine) Evaluate(p *storage.Position, price float64) ExitDecision {
	if p.EntryPrice <= 0 {
		x.log.Error("position with invalid entry price reached exit evaluation", "position", p.ID, "market", p.Market)
		return ExitDecision{}
	}

	pnlPct := (price - p.EntryPrice) / p.EntryPrice * 100
	tr := x.cfg.Trading

	// 1. stop-loss
	if pnlPct <= -p.StopLossPct {
		return ExitDecision{Close: true, Reason: storage.ExitStopLoss}
	}

	if p.TrailingActive {
		// 3. trailing stop: raise the mark, close on the offset drop
		hwm := x.raiseHighWater(p, price)
		updated := hwm != p.HighestPrice
		p.HighestPrice = hwm
		if price <= hwm*(1-tr.TrailingOffsetPct/100) {
			return ExitDecision{Close: true, Reason: storage.ExitTrailingStop, Updated: updated}
		}
		return x.withTimeout(p, ExitDecision{Updated: updated})
	}

	if pnlPct >= p.TakeProfitPct {
		// 2. take-profit, unless trailing is due to take over: trailing
		// protects profit past the take-profit threshold, it does not
		// substitute for it.
		if tr.TrailingEnabled && pnlPct >= tr.TrailingTriggerPct {
			x.activate(p, price)
			return x.withTimeout(p, ExitDecision{Updated: true})
		}
		return ExitDecision{Close: true, Reason: storage.ExitTakeProfit}
	}

	// 4. timeout
	return x.withTimeout(p, ExitDecision{})
}

func (x *ExitEngine) withTimeout(p *storage.Position, d ExitDecision) ExitDecision {
	if x.now().Sub(p.EntryTime) >= x.cfg.MaxHolding() {
		return ExitDecision{Close: true, Reason: storage.ExitTimeout, Updated: d.Updated}
	}
	return d
}

func (x *ExitEngine) activate(p *storage.Position, price float64) {
	x.mu.Lock()
	x.highWater[p.ID] = price
	x.mu.Unlock()

	p.TrailingActive = true
	p.HighestPrice = price
	x.log.Info("trailing stop activated", "market", p.Market, "position", p.ID, "high_water", price)
}

// raiseHighWater returns the current mark, lifted to price when price exceeds
// it. The mark never decreases while trailing is active.
func (x *ExitEngine) raiseHighWater(p *storage.Position, price float64) float64 {
	x.mu.Lock()
	defer x.mu.Unlock()

	hwm, ok := x.highWater[p.ID]
	if !ok {
		hwm = p.HighestPrice
	}
	if price > hwm {
		hwm = price
	}
	x.highWater[p.ID] = hwm
	return hwm
}

// Restore re-seeds the in-memory high-water mark from a recovered position so
// trailing resumes from the persisted value, not from scratch.
func (x *ExitEngine) Restore(p *storage.Position) {
	if !p.TrailingActive || p.HighestPrice <= 0 {
		return
	}
	x.mu.Lock()
	x.highWater[p.ID] = p.HighestPrice
	x.mu.Unlock()
	x.log.Info("trailing high-water mark restored", "market", p.Market, "position", p.ID, "high_water", p.HighestPrice)
}

// Forget drops the in-memory mark once the position reached a terminal state.
func (x *ExitEngine) Forget(id uint) {
	x.mu.Lock()
	delete(x.highWater, id)
	x.mu.Unlock()
}
