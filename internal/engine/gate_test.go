package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinsentry/internal/analyzer"
	"coinsentry/internal/config"
	"coinsentry/internal/storage"
)

func testGate(t *testing.T, cfg *config.Config, repo *storage.Repository) (*EntryGate, *Coordinator, *Breaker, *PatternTracker) {
	t.Helper()
	breaker := testBreaker(t, cfg, repo)
	patterns := testTracker(t, cfg, repo)
	coordinator := NewCoordinator()
	gate := NewEntryGate(cfg, repo, breaker, patterns, coordinator, testLogger())
	return gate, coordinator, breaker, patterns
}

func TestGateAcceptsAndReservesMarket(t *testing.T) {
	t.Parallel()

	gate, coordinator, _, _ := testGate(t, testConfig(), testRepo(t))

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Strategy: "scalp", Snapshot: goodSnapshot("KRW-BTC")})
	require.Nil(t, rej)
	assert.True(t, coordinator.Held("KRW-BTC"))
}

func TestGateCooldown(t *testing.T) {
	t.Parallel()

	gate, _, _, _ := testGate(t, testConfig(), testRepo(t))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }
	gate.MarkClosed("KRW-BTC", base.Add(-10*time.Minute))

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)

	// the cooldown is per market
	rej = gate.TryEnter(&Signal{Market: "KRW-ETH", Snapshot: goodSnapshot("KRW-ETH")})
	assert.Nil(t, rej)

	// and it expires
	gate.now = func() time.Time { return base.Add(25 * time.Minute) }
	rej = gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	assert.Nil(t, rej)
}

func TestGateBreakerBlocks(t *testing.T) {
	t.Parallel()

	gate, _, breaker, _ := testGate(t, testConfig(), testRepo(t))

	for i := 0; i < 3; i++ {
		breaker.RecordOutcome(-10000)
	}

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectBreaker, rej.Code)
}

func TestGateConcurrentPositionCap(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	gate, _, _, _ := testGate(t, testConfig(), repo)

	// CLOSING counts toward the cap as much as OPEN
	for i, status := range []storage.PositionStatus{storage.StatusOpen, storage.StatusOpen, storage.StatusClosing} {
		require.NoError(t, repo.SavePosition(&storage.Position{
			Market: "KRW-M" + string(rune('A'+i)), Status: status,
			EntryPrice: 1000, Quantity: 1, EntryTime: time.Now(),
		}))
	}

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectMaxPositions, rej.Code)
}

func TestGateClosedPositionsDoNotCount(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	gate, _, _, _ := testGate(t, testConfig(), repo)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SavePosition(&storage.Position{
			Market: "KRW-BTC", Status: storage.StatusClosed,
			EntryPrice: 1000, Quantity: 1, EntryTime: time.Now(),
		}))
	}

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	assert.Nil(t, rej)
}

func TestGatePatternSuspension(t *testing.T) {
	t.Parallel()

	gate, _, _, patterns := testGate(t, testConfig(), testRepo(t))

	for i := 0; i < 3; i++ {
		patterns.RecordLoss(lossPosition(func(p *storage.Position) { p.EntryRSI = 72 }))
	}

	snap := goodSnapshot("KRW-BTC")
	snap.RSI = 69.5 // does not match the suspended overbought trigger
	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: snap})
	assert.Nil(t, rej, "snapshot outside the suspended pattern passes")

	gate2, _, _, patterns2 := testGate(t, testConfig(), testRepo(t))
	for i := 0; i < 3; i++ {
		patterns2.RecordLoss(lossPosition(func(p *storage.Position) { p.EntryMACD = string(analyzer.MACDBearish) }))
	}
	snap2 := goodSnapshot("KRW-ETH")
	snap2.MACD = analyzer.MACDNeutral // matches the counter-trend trigger
	rej = gate2.TryEnter(&Signal{Market: "KRW-ETH", Snapshot: snap2})
	require.NotNil(t, rej)
	assert.Equal(t, RejectSuspended, rej.Code)
}

func TestGateRSICeiling(t *testing.T) {
	t.Parallel()

	gate, _, _, _ := testGate(t, testConfig(), testRepo(t))

	snap := goodSnapshot("KRW-BTC")
	snap.RSI = 70
	snap.ConfluenceScore = 95 // no score compensates for the ceiling

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: snap})
	require.NotNil(t, rej)
	assert.Equal(t, RejectRSICeiling, rej.Code)
}

func TestGateVolumeRelaxedConfluence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		score  float64
		volume float64
		accept bool
	}{
		{"default floor rejects 59", 59, 1.0, false},
		{"default floor accepts 60", 60, 1.0, true},
		{"2x volume accepts 50", 50, 2.0, true},
		{"2x volume rejects 49", 49, 2.0, false},
		{"3x volume accepts 40", 40, 3.0, true},
		{"3x volume rejects 39", 39, 3.0, false},
		{"5x volume accepts 30", 30, 5.0, true},
		{"5x volume rejects 29", 29, 5.0, false},
		{"volume never relaxes below 30", 29, 9.0, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gate, _, _, _ := testGate(t, testConfig(), testRepo(t))
			snap := goodSnapshot("KRW-BTC")
			snap.ConfluenceScore = tt.score
			snap.VolumeRatio = tt.volume

			rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: snap})
			if tt.accept {
				assert.Nil(t, rej)
			} else {
				require.NotNil(t, rej)
				assert.Equal(t, RejectLowScore, rej.Code)
			}
		})
	}
}

func TestGateMarketHeld(t *testing.T) {
	t.Parallel()

	gate, coordinator, _, _ := testGate(t, testConfig(), testRepo(t))
	coordinator.TryAcquire("KRW-BTC")

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectMarketHeld, rej.Code)
}

func TestGateRestoreCooldowns(t *testing.T) {
	t.Parallel()

	repo := testRepo(t)
	gate, _, _, _ := testGate(t, testConfig(), repo)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exitTime := base.Add(-5 * time.Minute)
	exitPrice := 51000000.0
	require.NoError(t, repo.SavePosition(&storage.Position{
		Market: "KRW-BTC", Status: storage.StatusClosed,
		EntryPrice: 50000000, Quantity: 0.002, EntryTime: base.Add(-time.Hour),
		ExitPrice: &exitPrice, ExitTime: &exitTime, ExitReason: storage.ExitTakeProfit,
	}))

	gate.now = func() time.Time { return base }
	gate.RestoreCooldowns([]string{"KRW-BTC", "KRW-ETH"})

	rej := gate.TryEnter(&Signal{Market: "KRW-BTC", Snapshot: goodSnapshot("KRW-BTC")})
	require.NotNil(t, rej)
	assert.Equal(t, RejectCooldown, rej.Code)

	rej = gate.TryEnter(&Signal{Market: "KRW-ETH", Snapshot: goodSnapshot("KRW-ETH")})
	assert.Nil(t, rej)
}
