package engine

import (
	"fmt"
	"sync"
	"time"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
	"coinsentry/internal/metrics"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
)

// Breaker halts all new entries once any loss or error condition crosses its
// threshold. Counters persist across restarts; a new calendar day resets the
// daily-loss and consecutive-loss counters but not the drawdown baseline.
type Breaker struct {
	cfg      *config.Config
	repo     *storage.Repository
	notifier *telegram.Notifier
	log      *logger.Logger

	mu        sync.Mutex
	state     *storage.BreakerState
	apiErrors []time.Time
	equity    float64
	lastTrip  string

	now func() time.Time
}

func NewBreaker(cfg *config.Config, repo *storage.Repository, notifier *telegram.Notifier, log *logger.Logger) (*Breaker, error) {
	state, err := repo.LoadBreakerState()
	if err != nil {
		return nil, fmt.Errorf("load breaker state: %w", err)
	}

	b := &Breaker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		log:      log,
		state:    state,
		now:      time.Now,
	}

	log.Info("circuit breaker restored",
		"consecutive_losses", state.ConsecutiveLosses,
		"daily_pnl", state.DailyPnL,
		"peak_equity", state.PeakEquity)

	return b, nil
}

// CanTrade reports whether new entries are allowed; when not, the second
// return value names the tripped condition.
func (b *Breaker) CanTrade() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	reason := b.trippedLocked()
	return reason == "", reason
}

func (b *Breaker) trippedLocked() string {
	risk := b.cfg.Risk

	if b.state.ConsecutiveLosses >= risk.MaxConsecutiveLosses {
		return fmt.Sprintf("consecutive losses %d >= %d", b.state.ConsecutiveLosses, risk.MaxConsecutiveLosses)
	}
	if b.state.DailyPnL <= -risk.MaxDailyLossKRW {
		return fmt.Sprintf("daily loss %.0f KRW >= limit %.0f KRW", -b.state.DailyPnL, risk.MaxDailyLossKRW)
	}
	if risk.MaxDailyLossPct > 0 && b.state.PeakEquity > 0 {
		limit := b.state.PeakEquity * risk.MaxDailyLossPct / 100
		if b.state.DailyPnL <= -limit {
			return fmt.Sprintf("daily loss %.0f KRW >= %.1f%% of equity", -b.state.DailyPnL, risk.MaxDailyLossPct)
		}
	}
	if b.state.ExecFailures >= risk.MaxExecFailures {
		return fmt.Sprintf("execution failures %d >= %d", b.state.ExecFailures, risk.MaxExecFailures)
	}
	if b.state.SlippageStreak >= risk.MaxSlippageStreak {
		return fmt.Sprintf("high-slippage fills %d >= %d", b.state.SlippageStreak, risk.MaxSlippageStreak)
	}
	if n := b.apiErrorCountLocked(); n > risk.MaxAPIErrorsPerMinute {
		return fmt.Sprintf("api errors %d/min > %d", n, risk.MaxAPIErrorsPerMinute)
	}
	if b.state.PeakEquity > 0 && b.equity > 0 {
		drawdown := (b.state.PeakEquity - b.equity) / b.state.PeakEquity * 100
		if drawdown >= risk.MaxDrawdownPct {
			return fmt.Sprintf("drawdown %.1f%% >= %.1f%%", drawdown, risk.MaxDrawdownPct)
		}
	}
	return ""
}

// RecordOutcome folds one realized trade result into the counters.
func (b *Breaker) RecordOutcome(pnl float64) {
	b.mu.Lock()
	b.rolloverLocked()

	if pnl < 0 {
		b.state.ConsecutiveLosses++
	} else {
		b.state.ConsecutiveLosses = 0
	}
	b.state.DailyPnL += pnl
	metrics.DailyPnL.Set(b.state.DailyPnL)

	b.persistLocked()
	b.checkTripLocked("outcome")
	b.mu.Unlock()
}

func (b *Breaker) RecordExecFailure() {
	b.mu.Lock()
	b.state.ExecFailures++
	b.persistLocked()
	b.checkTripLocked("execution")
	b.mu.Unlock()
}

func (b *Breaker) RecordExecSuccess() {
	b.mu.Lock()
	if b.state.ExecFailures != 0 {
		b.state.ExecFailures = 0
		b.persistLocked()
	}
	b.mu.Unlock()
}

// RecordSlippage compares the fill against the expected price and tracks the
// streak of fills deviating more than the configured percentage.
func (b *Breaker) RecordSlippage(expected, actual float64) {
	if expected <= 0 || actual <= 0 {
		return
	}
	deviation := (actual - expected) / expected * 100
	if deviation < 0 {
		deviation = -deviation
	}

	b.mu.Lock()
	if deviation > b.cfg.Risk.SlippagePct {
		b.state.SlippageStreak++
	} else {
		b.state.SlippageStreak = 0
	}
	b.persistLocked()
	b.checkTripLocked("slippage")
	b.mu.Unlock()
}

// RecordAPIError counts one exchange API failure into the rolling one-minute
// window. The window lives only in memory.
func (b *Breaker) RecordAPIError() {
	b.mu.Lock()
	b.apiErrors = append(b.apiErrors, b.now())
	b.checkTripLocked("api_errors")
	b.mu.Unlock()
}

func (b *Breaker) apiErrorCountLocked() int {
	cutoff := b.now().Add(-time.Minute)
	alive := b.apiErrors[:0]
	for _, t := range b.apiErrors {
		if t.After(cutoff) {
			alive = append(alive, t)
		}
	}
	b.apiErrors = alive
	return len(alive)
}

// ObserveEquity records the current total asset value, raising the persisted
// peak when a new high is seen.
func (b *Breaker) ObserveEquity(equity float64) {
	if equity <= 0 {
		return
	}
	b.mu.Lock()
	b.equity = equity
	if equity > b.state.PeakEquity {
		b.state.PeakEquity = equity
		b.persistLocked()
	}
	b.checkTripLocked("drawdown")
	b.mu.Unlock()
}

// Reset clears every counter, operator override. The drawdown baseline is
// re-anchored to the current equity so a reset actually unblocks trading.
func (b *Breaker) Reset() storage.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.ConsecutiveLosses = 0
	b.state.DailyPnL = 0
	b.state.ExecFailures = 0
	b.state.SlippageStreak = 0
	b.state.Day = b.now().Format("2006-01-02")
	if b.equity > 0 {
		b.state.PeakEquity = b.equity
	}
	b.apiErrors = nil
	b.lastTrip = ""
	metrics.DailyPnL.Set(0)

	b.persistLocked()
	b.log.Info("circuit breaker reset by operator")
	return *b.state
}

// Snapshot returns a copy of the persisted counters.
func (b *Breaker) Snapshot() storage.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked()
	return *b.state
}

func (b *Breaker) rolloverLocked() {
	day := b.now().Format("2006-01-02")
	if b.state.Day == day {
		return
	}
	b.log.Info("daily breaker rollover", "from", b.state.Day, "to", day)
	b.state.Day = day
	b.state.DailyPnL = 0
	b.state.ConsecutiveLosses = 0
	metrics.DailyPnL.Set(0)
	b.persistLocked()
}

func (b *Breaker) persistLocked() {
	if err := b.repo.SaveBreakerState(b.state); err != nil {
		b.log.Error("persist breaker state", "error", err)
	}
}

// checkTripLocked reports a newly tripped condition once; trips never throw.
func (b *Breaker) checkTripLocked(condition string) {
	reason := b.trippedLocked()
	if reason == "" {
		b.lastTrip = ""
		return
	}
	if reason == b.lastTrip {
		return
	}
	b.lastTrip = reason

	metrics.BreakerTrips.WithLabelValues(condition).Inc()
	b.log.Warn("circuit breaker tripped", "reason", reason)
	b.notifier.NotifyBreakerTripped(reason)
}
