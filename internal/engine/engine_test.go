package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinsentry/internal/ai"
	"coinsentry/internal/analyzer"
	"coinsentry/internal/exchange"
	"coinsentry/internal/storage"
)

type fakeAnalyzer struct {
	snap *analyzer.Snapshot
	err  error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, market string) (*analyzer.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.snap == nil {
		return nil, nil
	}
	snap := *f.snap
	snap.Market = market
	return &snap, nil
}

type fakeFilter struct {
	decision *ai.Decision
	err      error
	calls    int
}

func (f *fakeFilter) Filter(ctx context.Context, req *ai.FilterRequest) (*ai.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Price(ctx context.Context, market string) (float64, error) {
	return f.price, f.err
}

type engineFixture struct {
	engine   *Engine
	repo     *storage.Repository
	exchange *fakeExchange
	filter   *fakeFilter
	prices   *fakePrices
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := testConfig()
	repo := testRepo(t)
	ex := &fakeExchange{}
	filter := &fakeFilter{decision: &ai.Decision{Verdict: ai.VerdictApproved, Confidence: 0.9, Reason: "clear"}}
	prices := &fakePrices{price: 50000000}

	e, err := New(cfg, repo, ex, prices, &fakeAnalyzer{snap: goodSnapshot("")}, filter, nil, testNotifier(), testLogger())
	require.NoError(t, err)

	return &engineFixture{engine: e, repo: repo, exchange: ex, filter: filter, prices: prices}
}

func TestProcessOpensPosition(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	accepted, reason := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC"),
	})
	require.True(t, accepted, reason)

	assert.True(t, f.engine.coordinator.Held("KRW-BTC"))
	count, err := f.repo.CountByStatus(storage.StatusOpen)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestProcessFilterVeto(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.filter.decision = &ai.Decision{Verdict: ai.VerdictRejected, Confidence: 0.8, Reason: "hack headline"}

	accepted, reason := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC"),
	})
	assert.False(t, accepted)
	assert.Contains(t, reason, "filter rejected")
	assert.False(t, f.engine.coordinator.Held("KRW-BTC"))
}

func TestProcessFilterUnavailableBlocksEntry(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.filter.err = errors.New("model timeout")

	accepted, reason := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC"),
	})
	assert.False(t, accepted)
	assert.Contains(t, reason, "filter unavailable")
}

func TestProcessSkipFilter(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.filter.err = errors.New("model timeout")

	accepted, _ := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "manual", Snapshot: goodSnapshot("KRW-BTC"), SkipFilter: true,
	})
	assert.True(t, accepted)
	assert.Zero(t, f.filter.calls)
}

func TestProcessBuyFailureReleasesMarket(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.exchange.buyFunc = func(ctx context.Context, market string, krw float64) (*exchange.ExecResult, error) {
		return nil, errors.New("insufficient funds")
	}

	accepted, _ := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC"),
	})
	assert.False(t, accepted)
	assert.False(t, f.engine.coordinator.Held("KRW-BTC"), "failed entry releases the reservation")
	assert.Equal(t, 1, f.engine.breaker.Snapshot().ExecFailures)
}

func TestProcessInvalidFillReleasesMarket(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.exchange.buyFunc = func(ctx context.Context, market string, krw float64) (*exchange.ExecResult, error) {
		return &exchange.ExecResult{OrderID: "buy-1", Price: 0, Quantity: 0.002}, nil
	}

	accepted, reason := f.engine.process(context.Background(), &Signal{
		Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC"),
	})
	assert.False(t, accepted)
	assert.Contains(t, reason, "open failed")
	assert.False(t, f.engine.coordinator.Held("KRW-BTC"))

	count, err := f.repo.CountByStatus(storage.StatusOpen)
	require.NoError(t, err)
	assert.Zero(t, count, "no position row for an invalid fill")
}

func TestClosedLossReleasesMarketAndTagsPattern(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	snap := goodSnapshot("KRW-BTC")
	accepted, _ := f.engine.process(ctx, &Signal{Market: "KRW-BTC", Strategy: "scalp", Snapshot: snap})
	require.True(t, accepted)

	rows, err := f.repo.FindPositionsByStatus(storage.StatusOpen)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p := &rows[0]

	require.NoError(t, f.engine.sm.RequestClose(ctx, p, storage.ExitStopLoss))
	f.exchange.orderFunc = func(ctx context.Context, uuid string) (*exchange.Order, error) {
		return filledOrder(uuid, 48500000, 0.002), nil
	}
	require.NoError(t, f.engine.sm.ConfirmClose(ctx, p))

	assert.False(t, f.engine.coordinator.Held("KRW-BTC"), "terminal CLOSED releases the market")
	assert.Equal(t, 1, f.engine.breaker.Snapshot().ConsecutiveLosses)
	assert.NotEmpty(t, p.FailurePattern)

	// cooldown now applies
	rej := f.engine.gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)
}

func TestAbandonedNoBalanceKeepsLossStreak(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	f.engine.breaker.RecordOutcome(-10000)
	f.engine.breaker.RecordOutcome(-10000)
	require.Equal(t, 2, f.engine.breaker.Snapshot().ConsecutiveLosses)

	accepted, _ := f.engine.process(ctx, &Signal{Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC")})
	require.True(t, accepted)

	rows, err := f.repo.FindPositionsByStatus(storage.StatusOpen)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p := &rows[0]

	f.exchange.sellFunc = func(ctx context.Context, market string, volume float64) (*exchange.Order, error) {
		return nil, errors.New("exchange down")
	}
	for i := 0; i < 3; i++ {
		_ = f.engine.sm.RequestClose(ctx, p, storage.ExitStopLoss)
	}
	require.Equal(t, storage.StatusAbandoned, p.Status)

	// the asset is gone; the zero-P&L finalization must not read as a win
	f.exchange.balance = 0
	f.engine.sm.RetryAbandoned(ctx)

	assert.Equal(t, 2, f.engine.breaker.Snapshot().ConsecutiveLosses)
	assert.False(t, f.engine.coordinator.Held("KRW-BTC"), "the market is still released")
}

func TestRecoverRestoresState(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	openP := &storage.Position{
		Market: "KRW-BTC", Status: storage.StatusOpen,
		EntryPrice: 50000000, Quantity: 0.002, EntryTime: f.engine.sm.now(),
		TrailingActive: true, HighestPrice: 53000000,
	}
	require.NoError(t, f.repo.SavePosition(openP))

	closingP := &storage.Position{
		Market: "KRW-ETH", Status: storage.StatusClosing,
		EntryPrice: 3000000, Quantity: 0.5, EntryTime: f.engine.sm.now(),
		CloseOrderID: "sell-9", CloseReason: storage.ExitTakeProfit, CloseAttempts: 1,
	}
	require.NoError(t, f.repo.SavePosition(closingP))

	f.exchange.orderFunc = func(ctx context.Context, uuid string) (*exchange.Order, error) {
		return filledOrder(uuid, 3150000, 0.5), nil
	}

	require.NoError(t, f.engine.Recover(ctx))

	assert.True(t, f.engine.coordinator.Held("KRW-BTC"))
	assert.InDelta(t, 53000000.0, f.engine.exit.highWater[openP.ID], 1e-6, "trailing mark restored")

	// the pending close was re-polled and finalized
	closed, err := f.repo.FindPositionsByMarketAndStatus("KRW-ETH", storage.StatusClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, storage.ExitTakeProfit, closed[0].ExitReason)
	assert.False(t, f.engine.coordinator.Held("KRW-ETH"), "finalized close releases the market")
}

func TestRecoverRestoresCooldownForUnlistedMarket(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	// traded through the manual trigger; no strategy lists this market
	exitTime := time.Now().Add(-5 * time.Minute)
	exitPrice := 49000000.0
	closed := &storage.Position{
		Market: "KRW-XRP", Status: storage.StatusClosed,
		EntryPrice: 50000000, Quantity: 0.002, EntryTime: exitTime.Add(-time.Hour),
		ExitPrice: &exitPrice, ExitTime: &exitTime, ExitReason: storage.ExitStopLoss,
	}
	require.NoError(t, f.repo.SavePosition(closed))

	require.NoError(t, f.engine.Recover(context.Background()))

	rej := f.engine.gate.TryEnter(&Signal{Market: "KRW-XRP", Snapshot: goodSnapshot("KRW-XRP")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)
}

func TestStatusReflectsBreaker(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	st := f.engine.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.CanTrade)

	for i := 0; i < 3; i++ {
		f.engine.breaker.RecordOutcome(-10000)
	}
	st = f.engine.Status()
	assert.False(t, st.CanTrade)
	assert.NotEmpty(t, st.BreakerReason)
	assert.Equal(t, 3, st.ConsecutiveLosses)
}

func TestManualClose(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	ctx := context.Background()

	results := f.engine.ManualClose(ctx, "KRW-BTC")
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)

	accepted, _ := f.engine.process(ctx, &Signal{Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC")})
	require.True(t, accepted)

	results = f.engine.ManualClose(ctx, "KRW-BTC")
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	closing, err := f.repo.CountByStatus(storage.StatusClosing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), closing)
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	// no workers are draining in this test
	for i := 0; i < cap(f.engine.sigCh); i++ {
		require.True(t, f.engine.Submit(&Signal{Market: "KRW-BTC"}))
	}
	assert.False(t, f.engine.Submit(&Signal{Market: "KRW-BTC"}))
}
