package engine

import (
	"context"
	"errors"

	"coinsentry/internal/analyzer"
	"coinsentry/internal/exchange"
)

// Signal is an entry candidate produced by a strategy scan or a manual trigger.
type Signal struct {
	Market     string
	Strategy   string
	Snapshot   *analyzer.Snapshot
	SkipFilter bool
}

// Rejection explains why an entry signal was not allowed through.
type Rejection struct {
	Code   string
	Reason string
}

// Rejection codes, in gate check order.
const (
	RejectCooldown     = "COOLDOWN"
	RejectBreaker      = "BREAKER"
	RejectMaxPositions = "MAX_POSITIONS"
	RejectSuspended    = "PATTERN_SUSPENDED"
	RejectLowScore     = "LOW_SCORE"
	RejectRSICeiling   = "RSI_CEILING"
	RejectMarketHeld   = "MARKET_HELD"
	RejectUpstream     = "UPSTREAM"
)

// Error taxonomy for the position lifecycle.
var (
	ErrInvalidEntryData      = errors.New("invalid entry data: non-positive fill price or quantity")
	ErrInvalidPositionData   = errors.New("invalid position data: entry price must be positive")
	ErrOrderSubmission       = errors.New("close order submission failed")
	ErrConfirmationTimeout   = errors.New("close order confirmation timed out")
	ErrCloseRetriesExhausted = errors.New("close retries exhausted")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
)

// Exchange is the slice of the exchange client the engine needs.
type Exchange interface {
	ExecuteBuy(ctx context.Context, market string, krwAmount float64) (*exchange.ExecResult, error)
	SellMarket(ctx context.Context, market string, volume float64) (*exchange.Order, error)
	GetOrder(ctx context.Context, orderUUID string) (*exchange.Order, error)
	Balance(ctx context.Context, currency string) (float64, error)
	TotalEquityKRW(ctx context.Context) (float64, error)
}

// PriceSource provides the current price used by the exit evaluator.
type PriceSource interface {
	Price(ctx context.Context, market string) (float64, error)
}

// Analyzer produces indicator snapshots; nil snapshot means not enough data.
type Analyzer interface {
	Analyze(ctx context.Context, market string) (*analyzer.Snapshot, error)
}
