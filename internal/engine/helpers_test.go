package engine

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"coinsentry/internal/analyzer"
	"coinsentry/internal/config"
	"coinsentry/internal/exchange"
	"coinsentry/internal/logger"
	"coinsentry/internal/storage"
	"coinsentry/internal/telegram"
)

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			MaxPositionKRW:         100000,
			MaxConcurrentPositions: 3,
			CooldownMinutes:        30,
			DefaultStopLossPct:     3.0,
			TakeProfitPct:          5.0,
			TrailingEnabled:        true,
			TrailingTriggerPct:     5.0,
			TrailingOffsetPct:      2.0,
			MaxHoldingMinutes:      240,
			MonitorIntervalSeconds: 1,
			AbandonedRetryMinutes:  10,
			MaxCloseAttempts:       3,
			MaxAbandonRetries:      3,
			CloseWaitSeconds:       30,
			CloseErrorMinutes:      5,
			MinConfluenceScore:     60,
			MaxEntryRSI:            70,
			SignalWorkers:          2,
			SignalQueueSize:        8,
		},
		Risk: config.RiskConfig{
			MaxConsecutiveLosses:  3,
			MaxDailyLossKRW:       150000,
			MaxExecFailures:       5,
			SlippagePct:           1.0,
			MaxSlippageStreak:     3,
			MaxAPIErrorsPerMinute: 10,
			MaxDrawdownPct:        10.0,
		},
		Patterns: config.PatternConfig{
			FakeoutWindowMinutes: 10,
			FakeoutVolumeRatio:   3.0,
			OverboughtRSI:        70,
			BandTopPosition:      0.85,
			WeakVolumeRatio:      1.5,
			LowConfluenceScore:   50,
		},
	}
}

func testRepo(t *testing.T) *storage.Repository {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return storage.NewRepository(db)
}

func testLogger() *logger.Logger {
	return logger.New("error")
}

func testNotifier() *telegram.Notifier {
	return telegram.NewNotifier(&config.Config{}, testLogger())
}

func testBreaker(t *testing.T, cfg *config.Config, repo *storage.Repository) *Breaker {
	t.Helper()
	b, err := NewBreaker(cfg, repo, testNotifier(), testLogger())
	require.NoError(t, err)
	return b
}

func testTracker(t *testing.T, cfg *config.Config, repo *storage.Repository) *PatternTracker {
	t.Helper()
	tr, err := NewPatternTracker(cfg, repo, testNotifier(), testLogger())
	require.NoError(t, err)
	return tr
}

func goodSnapshot(market string) *analyzer.Snapshot {
	return &analyzer.Snapshot{
		Market:          market,
		Price:           50000000,
		ConfluenceScore: 75,
		RSI:             55,
		MACD:            analyzer.MACDBullish,
		BandPosition:    0.5,
		VolumeRatio:     2.5,
	}
}

// fakeExchange lets each test script order placement and confirmation.
type fakeExchange struct {
	buyFunc    func(ctx context.Context, market string, krw float64) (*exchange.ExecResult, error)
	sellFunc   func(ctx context.Context, market string, volume float64) (*exchange.Order, error)
	orderFunc  func(ctx context.Context, orderUUID string) (*exchange.Order, error)
	balance    float64
	balanceErr error
	equity     float64

	sellCalls  int
	orderCalls int
}

func (f *fakeExchange) ExecuteBuy(ctx context.Context, market string, krw float64) (*exchange.ExecResult, error) {
	if f.buyFunc != nil {
		return f.buyFunc(ctx, market, krw)
	}
	return &exchange.ExecResult{OrderID: "buy-1", Price: 50000000, Quantity: 0.002}, nil
}

func (f *fakeExchange) SellMarket(ctx context.Context, market string, volume float64) (*exchange.Order, error) {
	f.sellCalls++
	if f.sellFunc != nil {
		return f.sellFunc(ctx, market, volume)
	}
	return &exchange.Order{UUID: "sell-1", State: exchange.OrderStateWait}, nil
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderUUID string) (*exchange.Order, error) {
	f.orderCalls++
	if f.orderFunc != nil {
		return f.orderFunc(ctx, orderUUID)
	}
	return &exchange.Order{UUID: orderUUID, State: exchange.OrderStateWait}, nil
}

func (f *fakeExchange) Balance(ctx context.Context, currency string) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) TotalEquityKRW(ctx context.Context) (float64, error) {
	return f.equity, nil
}

func filledOrder(uuid string, price, volume float64) *exchange.Order {
	return &exchange.Order{
		UUID:           uuid,
		State:          exchange.OrderStateDone,
		ExecutedVolume: formatFloat(volume),
		Trades: []exchange.OrderTrade{
			{
				Price:  formatFloat(price),
				Volume: formatFloat(volume),
				Funds:  formatFloat(price * volume),
			},
		},
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
