package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinsentry/internal/config"
	"coinsentry/internal/exchange"
	"coinsentry/internal/logger"
	"coinsentry/internal/metrics"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
)

// StateMachine owns position creation, the OPEN→CLOSING→CLOSED/ABANDONED
// transitions, close-order retry and crash-recovery resume. Every durable
// transition is one repository call; readers see either the pre- or the
// post-transition row, never a partial one.
type StateMachine struct {
	cfg      *config.Config
	repo     *storage.Repository
	exchange Exchange
	notifier *telegram.Notifier
	breaker  *Breaker
	exit     *ExitEngine
	log      *logger.Logger

	// onClosed runs after a position is finalized as CLOSED; the engine uses
	// it to release the market, tag losses and update cooldowns.
	onClosed func(p *storage.Position)

	mu            sync.Mutex // serializes transitions per process
	alertedParked map[uint]bool

	now func() time.Time
}

func NewStateMachine(cfg *config.Config, repo *storage.Repository, ex Exchange, notifier *telegram.Notifier, breaker *Breaker, exit *ExitEngine, log *logger.Logger) *StateMachine {
	return &StateMachine{
		cfg:           cfg,
		repo:          repo,
		exchange:      ex,
		notifier:      notifier,
		breaker:       breaker,
		exit:          exit,
		log:           log,
		alertedParked: make(map[uint]bool),
		now:           time.Now,
	}
}

// SetOnClosed installs the engine's finalization hook.
func (m *StateMachine) SetOnClosed(hook func(p *storage.Position)) {
	m.onClosed = hook
}

// Open creates an OPEN position from an entry fill. A non-positive fill price
// or quantity rejects creation outright: no row is persisted.
func (m *StateMachine) Open(sig *Signal, res *exchange.ExecResult) (*storage.Position, error) {
	if res.Price <= 0 || res.Quantity <= 0 {
		return nil, fmt.Errorf("%w: price=%.2f quantity=%.8f", ErrInvalidEntryData, res.Price, res.Quantity)
	}

	p := &storage.Position{
		Market:        sig.Market,
		Strategy:      sig.Strategy,
		Status:        storage.StatusOpen,
		EntryPrice:    res.Price,
		Quantity:      res.Quantity,
		EntryTime:     m.now(),
		BuyOrderID:    res.OrderID,
		StopLossPct:   m.cfg.Trading.DefaultStopLossPct,
		TakeProfitPct: m.cfg.Trading.TakeProfitPct,
		RiskMethod:    "fixed_pct",

		EntryRSI:         sig.Snapshot.RSI,
		EntryMACD:        string(sig.Snapshot.MACD),
		EntryBandPos:     sig.Snapshot.BandPosition,
		EntryVolumeRatio: sig.Snapshot.VolumeRatio,
		EntryConfluence:  sig.Snapshot.ConfluenceScore,
	}

	if err := m.repo.SavePosition(p); err != nil {
		return nil, fmt.Errorf("persist new position: %w", err)
	}

	metrics.Entries.WithLabelValues(sig.Strategy).Inc()
	metrics.OpenPositions.Inc()
	m.notifier.NotifyEntry(p.Market, p.EntryPrice, p.Quantity, p.EntryConfluence)
	m.log.Info("position opened",
		"market", p.Market, "strategy", p.Strategy,
		"price", p.EntryPrice, "quantity", p.Quantity,
		"stop_loss_pct", p.StopLossPct, "take_profit_pct", p.TakeProfitPct)

	return p, nil
}

// RequestClose submits a sell order and moves the position to CLOSING. A
// failed submission increments the attempt counter without changing status;
// the next monitor cycle retries.
func (m *StateMachine) RequestClose(ctx context.Context, p *storage.Position, reason storage.ExitReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// callers hold their own copy of the row; another caller may have advanced
	// it since they loaded it, so the guard must check the stored status
	if err := m.reloadLocked(p); err != nil {
		return fmt.Errorf("reload position %d: %w", p.ID, err)
	}
	if p.Status != storage.StatusOpen {
		return nil
	}

	order, err := m.exchange.SellMarket(ctx, p.Market, p.Quantity)
	if err != nil {
		p.CloseAttempts++
		now := m.now()
		p.LastCloseAttempt = &now
		if perr := m.repo.UpdatePosition(p); perr != nil {
			m.log.Error("persist close attempt", "position", p.ID, "error", perr)
		}
		m.breaker.RecordExecFailure()

		if p.CloseAttempts >= m.cfg.Trading.MaxCloseAttempts {
			m.abandonLocked(p)
			return fmt.Errorf("%w: %v", ErrCloseRetriesExhausted, err)
		}
		return fmt.Errorf("%w: %v", ErrOrderSubmission, err)
	}

	p.Status = storage.StatusClosing
	p.CloseOrderID = order.UUID
	p.CloseReason = reason
	p.CloseAttempts++
	now := m.now()
	p.LastCloseAttempt = &now

	if err := m.repo.UpdatePosition(p); err != nil {
		return fmt.Errorf("persist CLOSING transition: %w", err)
	}

	m.log.Info("close requested",
		"market", p.Market, "position", p.ID,
		"reason", reason, "order_id", order.UUID, "attempt", p.CloseAttempts)
	return nil
}

// ConfirmClose polls the close order of a CLOSING position. Polling an
// already-filled order twice yields the same CLOSED result.
func (m *StateMachine) ConfirmClose(ctx context.Context, p *storage.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadLocked(p); err != nil {
		return fmt.Errorf("reload position %d: %w", p.ID, err)
	}
	if p.Status != storage.StatusClosing {
		return nil
	}

	order, err := m.exchange.GetOrder(ctx, p.CloseOrderID)
	if err != nil {
		m.breaker.RecordAPIError()
		if p.LastCloseAttempt != nil && m.now().Sub(*p.LastCloseAttempt) > m.cfg.CloseErrorTimeout() {
			p.CloseAttempts++
			now := m.now()
			p.LastCloseAttempt = &now
			if perr := m.repo.UpdatePosition(p); perr != nil {
				m.log.Error("persist close attempt", "position", p.ID, "error", perr)
			}
			if p.CloseAttempts >= m.cfg.Trading.MaxCloseAttempts {
				m.abandonLocked(p)
				return fmt.Errorf("%w: %v", ErrCloseRetriesExhausted, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrConfirmationTimeout, err)
	}

	switch order.State {
	case exchange.OrderStateDone:
		exitPrice := order.AvgFillPrice()
		if exitPrice <= 0 {
			exitPrice = p.EntryPrice
		}
		return m.finalizeLocked(p, exitPrice, p.CloseReason)

	case exchange.OrderStateCancel:
		// exchange cancelled the close; back to OPEN, the normal exit path
		// will decide again
		p.Status = storage.StatusOpen
		p.CloseOrderID = ""
		p.CloseReason = ""
		if err := m.repo.UpdatePosition(p); err != nil {
			return fmt.Errorf("persist revert to OPEN: %w", err)
		}
		m.log.Warn("close order cancelled, position reverted to OPEN", "market", p.Market, "position", p.ID)
		return nil

	default: // still waiting
		if p.LastCloseAttempt != nil && m.now().Sub(*p.LastCloseAttempt) > m.cfg.CloseWaitTimeout() {
			p.CloseAttempts++
			now := m.now()
			p.LastCloseAttempt = &now
			if err := m.repo.UpdatePosition(p); err != nil {
				m.log.Error("persist close attempt", "position", p.ID, "error", err)
			}
			if p.CloseAttempts >= m.cfg.Trading.MaxCloseAttempts {
				m.abandonLocked(p)
				return ErrCloseRetriesExhausted
			}
		}
		return nil
	}
}

// reloadLocked refreshes p from the repository so the transition guards see
// the authoritative row, not a copy another caller may have advanced. A row
// that vanished is left as-is; the status guard handles it.
func (m *StateMachine) reloadLocked(p *storage.Position) error {
	fresh, err := m.repo.FindPositionByID(p.ID)
	if err != nil {
		return err
	}
	if fresh != nil {
		*p = *fresh
	}
	return nil
}

// finalizeLocked sets every exit field and CLOSED in a single persistence
// call; this is the synchronization point for readers of position status.
func (m *StateMachine) finalizeLocked(p *storage.Position, exitPrice float64, reason storage.ExitReason) error {
	if p.Closed() {
		return nil
	}
	prev := p.Status

	now := m.now()
	pnl := (exitPrice - p.EntryPrice) * p.Quantity
	pnlPct := 0.0
	if p.EntryPrice > 0 {
		pnlPct = (exitPrice - p.EntryPrice) / p.EntryPrice * 100
	}
	if reason == storage.ExitAbandonedNoBalance {
		pnl, pnlPct = 0, 0
	}

	p.Status = storage.StatusClosed
	p.ExitPrice = &exitPrice
	p.ExitTime = &now
	p.ExitReason = reason
	p.PnL = pnl
	p.PnLPct = pnlPct

	if err := m.repo.UpdatePosition(p); err != nil {
		// position stays in its last known-good state; next poll retries
		p.Status = prev
		p.ExitPrice = nil
		p.ExitTime = nil
		p.ExitReason = ""
		return fmt.Errorf("persist CLOSED transition: %w", err)
	}

	m.exit.Forget(p.ID)
	metrics.Exits.WithLabelValues(string(reason)).Inc()
	if prev != storage.StatusAbandoned {
		metrics.OpenPositions.Dec()
	}

	m.notifier.NotifyExit(p.Market, string(reason), exitPrice, pnl, pnlPct)
	m.log.Info("position closed",
		"market", p.Market, "position", p.ID, "reason", reason,
		"exit_price", exitPrice, "pnl", pnl, "pnl_pct", pnlPct)

	if m.onClosed != nil {
		m.onClosed(p)
	}
	return nil
}

func (m *StateMachine) abandonLocked(p *storage.Position) {
	p.Status = storage.StatusAbandoned
	if err := m.repo.UpdatePosition(p); err != nil {
		m.log.Error("persist ABANDONED transition", "position", p.ID, "error", err)
		return
	}

	metrics.AbandonedPositions.Inc()
	metrics.OpenPositions.Dec()
	m.notifier.NotifyAbandoned(p.Market, p.CloseAttempts)
	m.log.Error("position abandoned",
		"market", p.Market, "position", p.ID,
		"close_attempts", p.CloseAttempts, "abandon_retries", p.AbandonRetries)
}

// ForceAbandon routes a position with invalid entry data out of monitoring.
func (m *StateMachine) ForceAbandon(p *storage.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadLocked(p); err != nil {
		m.log.Error("reload position", "position", p.ID, "error", err)
		return
	}
	if p.Status != storage.StatusOpen {
		return
	}
	m.log.Error("position has non-positive entry price, forcing ABANDONED",
		"market", p.Market, "position", p.ID, "entry_price", p.EntryPrice)
	m.abandonLocked(p)
}

// RetryAbandoned runs on the slow timer. A position whose asset balance is
// gone is finalized as CLOSED with zero P&L; otherwise it goes back to OPEN so
// the normal close path retries, up to the combined retry cap.
func (m *StateMachine) RetryAbandoned(ctx context.Context) {
	positions, err := m.repo.FindPositionsByStatus(storage.StatusAbandoned)
	if err != nil {
		m.log.Error("load abandoned positions", "error", err)
		return
	}

	for i := range positions {
		p := &positions[i]
		m.retryAbandonedOne(ctx, p)
	}
}

func (m *StateMachine) retryAbandonedOne(ctx context.Context, p *storage.Position) {
	balance, err := m.exchange.Balance(ctx, exchange.AssetCurrency(p.Market))
	if err != nil {
		m.breaker.RecordAPIError()
		m.log.Error("abandoned retry: balance lookup", "market", p.Market, "position", p.ID, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reloadLocked(p); err != nil {
		m.log.Error("reload position", "position", p.ID, "error", err)
		return
	}
	if p.Status != storage.StatusAbandoned {
		return
	}

	if balance <= 0 {
		if err := m.finalizeLocked(p, p.EntryPrice, storage.ExitAbandonedNoBalance); err != nil {
			m.log.Error("abandoned retry: finalize", "position", p.ID, "error", err)
		}
		return
	}

	if p.AbandonRetries >= m.cfg.Trading.MaxAbandonRetries {
		if !m.alertedParked[p.ID] {
			m.alertedParked[p.ID] = true
			m.notifier.Warn("position parked",
				fmt.Sprintf("%s: close retries exhausted (%d + %d), manual action required",
					p.Market, p.CloseAttempts, p.AbandonRetries))
			m.log.Error("abandoned position parked, manual action required",
				"market", p.Market, "position", p.ID)
		}
		return
	}

	p.CloseAttempts = 0
	p.AbandonRetries++
	p.Status = storage.StatusOpen
	p.CloseOrderID = ""
	p.CloseReason = ""
	if err := m.repo.UpdatePosition(p); err != nil {
		m.log.Error("abandoned retry: persist OPEN", "position", p.ID, "error", err)
		return
	}

	metrics.OpenPositions.Inc()
	m.log.Info("abandoned position queued for close retry",
		"market", p.Market, "position", p.ID, "abandon_retries", p.AbandonRetries)
}
