package storage

import "time"

type PositionStatus string

const (
	StatusOpen      PositionStatus = "OPEN"
	StatusClosing   PositionStatus = "CLOSING"
	StatusClosed    PositionStatus = "CLOSED"
	StatusAbandoned PositionStatus = "ABANDONED"
)

type ExitReason string

const (
	ExitStopLoss           ExitReason = "STOP_LOSS"
	ExitTakeProfit         ExitReason = "TAKE_PROFIT"
	ExitTrailingStop       ExitReason = "TRAILING_STOP"
	ExitTimeout            ExitReason = "TIMEOUT"
	ExitManual             ExitReason = "MANUAL"
	ExitAbandonedNoBalance ExitReason = "ABANDONED_NO_BALANCE"
)

// Position is one trade lifecycle instance. Terminal rows are kept as history.
type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Market   string         `gorm:"index;not null" json:"market"`
	Strategy string         `json:"strategy"`
	Status   PositionStatus `gorm:"index;not null" json:"status"`

	EntryPrice float64   `gorm:"not null" json:"entry_price"`
	Quantity   float64   `gorm:"not null" json:"quantity"`
	EntryTime  time.Time `json:"entry_time"`
	BuyOrderID string    `json:"buy_order_id"`

	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	RiskMethod    string  `json:"risk_method"`

	TrailingActive bool    `json:"trailing_active"`
	HighestPrice   float64 `json:"highest_price"`

	CloseOrderID     string     `json:"close_order_id"`
	CloseReason      ExitReason `json:"close_reason"`
	CloseAttempts    int        `json:"close_attempts"`
	AbandonRetries   int        `json:"abandon_retries"`
	LastCloseAttempt *time.Time `json:"last_close_attempt"`

	ExitPrice  *float64   `json:"exit_price"`
	ExitTime   *time.Time `json:"exit_time"`
	ExitReason ExitReason `json:"exit_reason"`
	PnL        float64    `gorm:"column:pnl" json:"pnl"`
	PnLPct     float64    `gorm:"column:pnl_pct" json:"pnl_pct"`

	// Entry snapshot, kept for failure-pattern classification.
	EntryRSI         float64 `json:"entry_rsi"`
	EntryMACD        string  `json:"entry_macd"`
	EntryBandPos     float64 `json:"entry_band_pos"`
	EntryVolumeRatio float64 `json:"entry_volume_ratio"`
	EntryConfluence  float64 `json:"entry_confluence"`

	FailurePattern string `json:"failure_pattern"`
}

// Closed reports whether the position reached CLOSED with all exit fields set.
func (p *Position) Closed() bool {
	return p.Status == StatusClosed && p.ExitPrice != nil && p.ExitTime != nil && p.ExitReason != ""
}

// BreakerState is the persisted circuit-breaker counters, a single row.
type BreakerState struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	ConsecutiveLosses int     `json:"consecutive_losses"`
	DailyPnL          float64 `gorm:"column:daily_pnl" json:"daily_pnl"`
	Day               string  `json:"day"` // YYYY-MM-DD, daily-reset marker
	ExecFailures      int     `json:"exec_failures"`
	SlippageStreak    int     `json:"slippage_streak"`
	PeakEquity        float64 `json:"peak_equity"` // drawdown baseline, survives day rollover
}

// PatternState tracks consecutive failures and suspension per failure pattern.
type PatternState struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`

	Pattern          string     `gorm:"uniqueIndex;not null" json:"pattern"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	SuspendedUntil   *time.Time `json:"suspended_until"`
}

// SignalLog records the outcome of every processed entry signal.
type SignalLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Market        string  `gorm:"index" json:"market"`
	Strategy      string  `json:"strategy"`
	Confluence    float64 `json:"confluence"`
	RSI           float64 `gorm:"column:rsi" json:"rsi"`
	VolumeRatio   float64 `json:"volume_ratio"`
	FilterVerdict string  `json:"filter_verdict"`
	FilterReason  string  `gorm:"type:text" json:"filter_reason"`
	Outcome       string  `json:"outcome"`
	Reason        string  `gorm:"type:text" json:"reason"`
}
