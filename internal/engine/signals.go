package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinsentry/internal/ai"
	"coinsentry/internal/metrics"
	"coinsentry/internal/storage"
)

// Filter is the news/context veto collaborator.
type Filter interface {
	Filter(ctx context.Context, req *ai.FilterRequest) (*ai.Decision, error)
}

// Submit queues a signal for processing. The queue is bounded; a full queue
// drops the signal rather than blocking the caller.
func (e *Engine) Submit(sig *Signal) bool {
	select {
	case e.sigCh <- sig:
		return true
	default:
		e.log.Warn("signal queue full, dropping signal", "market", sig.Market, "strategy", sig.Strategy)
		return false
	}
}

// workerLoop drains the signal queue. Each signal runs under its own panic
// boundary so one failing task cannot take down the pool.
func (e *Engine) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-e.sigCh:
			e.safeProcess(ctx, sig)
		}
	}
}

func (e *Engine) safeProcess(ctx context.Context, sig *Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in signal processing", "market", sig.Market, "panic", fmt.Sprint(r))
			e.notifier.NotifyError("signal "+sig.Market, fmt.Errorf("%v", r))
		}
	}()
	e.process(ctx, sig)
}

// process runs one signal through analyze → filter → gate → execute → open and
// returns the outcome for callers that need it (manual trigger).
func (e *Engine) process(ctx context.Context, sig *Signal) (bool, string) {
	if !e.enabled.Load() {
		return false, "engine disabled"
	}

	if sig.Snapshot == nil {
		snap, err := e.analyzer.Analyze(ctx, sig.Market)
		if err != nil {
			e.breaker.RecordAPIError()
			e.log.Error("analyzer unavailable", "market", sig.Market, "error", err)
			return false, "analyzer unavailable: " + err.Error()
		}
		if snap == nil {
			return false, "insufficient market data"
		}
		sig.Snapshot = snap
	}

	slog := &storage.SignalLog{
		Market:      sig.Market,
		Strategy:    sig.Strategy,
		Confluence:  sig.Snapshot.ConfluenceScore,
		RSI:         sig.Snapshot.RSI,
		VolumeRatio: sig.Snapshot.VolumeRatio,
	}

	if e.filter != nil && !sig.SkipFilter {
		decision, err := e.filter.Filter(ctx, &ai.FilterRequest{
			Market:   sig.Market,
			Snapshot: sig.Snapshot,
			News:     e.headlinesFor(sig.Market),
		})
		if err != nil {
			// filter is a veto: when it cannot answer, we do not enter
			e.log.Error("filter unavailable", "market", sig.Market, "error", err)
			return e.logOutcome(slog, false, "filter unavailable: "+err.Error())
		}
		slog.FilterVerdict = string(decision.Verdict)
		slog.FilterReason = decision.Reason
		if decision.Verdict == ai.VerdictRejected {
			return e.logOutcome(slog, false,
				fmt.Sprintf("filter rejected (%.2f): %s", decision.Confidence, decision.Reason))
		}
	}

	if rej := e.gate.TryEnter(sig); rej != nil {
		metrics.Rejections.WithLabelValues(rej.Code).Inc()
		e.log.Info("entry rejected", "market", sig.Market, "code", rej.Code, "reason", rej.Reason)
		return e.logOutcome(slog, false, rej.Code+": "+rej.Reason)
	}

	// market reserved from here; release on any failure to open
	res, err := e.exchange.ExecuteBuy(ctx, sig.Market, e.cfg.Trading.MaxPositionKRW)
	if err != nil {
		e.coordinator.Release(sig.Market)
		e.breaker.RecordExecFailure()
		e.notifier.NotifyError("BUY "+sig.Market, err)
		e.log.Error("entry order failed", "market", sig.Market, "error", err)
		return e.logOutcome(slog, false, "entry order failed: "+err.Error())
	}

	e.breaker.RecordExecSuccess()
	e.breaker.RecordSlippage(sig.Snapshot.Price, res.Price)

	p, err := e.sm.Open(sig, res)
	if err != nil {
		e.coordinator.Release(sig.Market)
		if errors.Is(err, ErrInvalidEntryData) {
			e.notifier.Warn("invalid entry fill", fmt.Sprintf("%s: %v", sig.Market, err))
		}
		e.log.Error("open position failed", "market", sig.Market, "error", err)
		return e.logOutcome(slog, false, "open failed: "+err.Error())
	}

	return e.logOutcome(slog, true, fmt.Sprintf("position %d opened at %.2f", p.ID, p.EntryPrice))
}

func (e *Engine) logOutcome(slog *storage.SignalLog, accepted bool, reason string) (bool, string) {
	if accepted {
		slog.Outcome = "accepted"
	} else {
		slog.Outcome = "rejected"
	}
	slog.Reason = reason
	if err := e.repo.SaveSignalLog(slog); err != nil {
		e.log.Error("save signal log", "error", err)
	}
	return accepted, reason
}

// scanLoop is one strategy worker: it scores its markets on its own schedule
// and submits qualifying snapshots to the shared signal queue.
func (e *Engine) scanLoop(ctx context.Context, name string, markets []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("strategy worker started", "strategy", name, "markets", len(markets), "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			e.log.Info("strategy worker stopped", "strategy", name)
			return nil
		case <-ticker.C:
			e.scanOnce(ctx, name, markets)
		}
	}
}

func (e *Engine) scanOnce(ctx context.Context, name string, markets []string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in strategy scan", "strategy", name, "panic", fmt.Sprint(r))
		}
	}()

	for _, market := range markets {
		if e.coordinator.Held(market) {
			continue
		}

		snap, err := e.analyzer.Analyze(ctx, market)
		if err != nil {
			e.breaker.RecordAPIError()
			e.log.Debug("scan: analyze failed", "strategy", name, "market", market, "error", err)
			continue
		}
		if snap == nil {
			continue
		}

		// cheap pre-screen: below the most relaxed floor nothing downstream
		// can accept it, so don't burn a filter call
		if snap.ConfluenceScore < 30 {
			continue
		}

		e.Submit(&Signal{Market: market, Strategy: name, Snapshot: snap})
	}
}
