package engine

import (
	"context"
	"fmt"
	"time"

	"coinsentry/internal/storage"
)

// monitorLoop is the fixed-interval tick driving the exit evaluator over all
// OPEN positions and the close-confirmation poll over all CLOSING ones.
func (e *Engine) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MonitorInterval())
	defer ticker.Stop()

	e.log.Info("position monitor started", "interval", e.cfg.MonitorInterval().String())

	for {
		select {
		case <-ctx.Done():
			e.log.Info("position monitor stopped")
			return nil
		case <-ticker.C:
			e.monitorTick(ctx)
		}
	}
}

func (e *Engine) monitorTick(ctx context.Context) {
	open, err := e.repo.FindPositionsByStatus(storage.StatusOpen)
	if err != nil {
		e.log.Error("load open positions", "error", err)
	} else {
		for i := range open {
			e.evaluateOne(ctx, &open[i])
		}
	}

	closing, err := e.repo.FindPositionsByStatus(storage.StatusClosing)
	if err != nil {
		e.log.Error("load closing positions", "error", err)
		return
	}
	for i := range closing {
		e.confirmOne(ctx, &closing[i])
	}
}

// evaluateOne handles a single OPEN position; errors are contained at this
// granularity so the tick continues for every other position.
func (e *Engine) evaluateOne(ctx context.Context, p *storage.Position) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic evaluating position", "market", p.Market, "position", p.ID, "panic", fmt.Sprint(r))
		}
	}()

	if p.EntryPrice <= 0 {
		// invalid data discovered post-creation: never monitored, forced out
		e.sm.ForceAbandon(p)
		return
	}

	price, err := e.prices.Price(ctx, p.Market)
	if err != nil {
		e.breaker.RecordAPIError()
		e.log.Debug("price lookup failed, skipping tick", "market", p.Market, "error", err)
		return
	}

	decision := e.exit.Evaluate(p, price)
	if decision.Updated {
		if err := e.repo.UpdatePosition(p); err != nil {
			e.log.Error("persist trailing update", "market", p.Market, "position", p.ID, "error", err)
		}
	}
	if !decision.Close {
		return
	}

	if err := e.sm.RequestClose(ctx, p, decision.Reason); err != nil {
		e.log.Error("close request failed", "market", p.Market, "position", p.ID, "error", err)
	}
}

func (e *Engine) confirmOne(ctx context.Context, p *storage.Position) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic confirming close", "market", p.Market, "position", p.ID, "panic", fmt.Sprint(r))
		}
	}()

	if err := e.sm.ConfirmClose(ctx, p); err != nil {
		e.log.Warn("close confirmation pending", "market", p.Market, "position", p.ID, "error", err)
	}
}

// abandonedLoop drives the slow ABANDONED retry timer.
func (e *Engine) abandonedLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.AbandonedRetryInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.sm.RetryAbandoned(ctx)
		}
	}
}

// equityLoop samples total account value for the drawdown condition.
func (e *Engine) equityLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			equity, err := e.exchange.TotalEquityKRW(ctx)
			if err != nil {
				e.breaker.RecordAPIError()
				e.log.Debug("equity lookup failed", "error", err)
				continue
			}
			e.breaker.ObserveEquity(equity)
		}
	}
}
