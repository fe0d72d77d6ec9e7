package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
)

// PriceFeed keeps a live last-price cache fed by the exchange ticker stream.
// Readers fall back to REST when the stream has no fresh value for a market.
type PriceFeed struct {
	url     string
	markets []string
	client  *Client
	log     *logger.Logger

	mu     sync.RWMutex
	prices map[string]pricePoint

	reconnectMin time.Duration
	reconnectMax time.Duration
	maxAge       time.Duration
}

type pricePoint struct {
	price float64
	at    time.Time
}

type wsTicker struct {
	Type       string  `json:"type"`
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
}

func NewPriceFeed(cfg *config.Config, markets []string, client *Client, log *logger.Logger) *PriceFeed {
	return &PriceFeed{
		url:          cfg.Exchange.WSURL,
		markets:      markets,
		client:       client,
		log:          log,
		prices:       make(map[string]pricePoint),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		maxAge:       5 * time.Second,
	}
}

// Run connects and re-connects until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) {
	backoff := f.reconnectMin
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			f.log.Info("price feed stopped")
			return
		}
		f.log.Warn("price feed disconnected", "error", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.reconnectMax {
			backoff = f.reconnectMax
		}
	}
}

func (f *PriceFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(2 << 20)

	sub := []any{
		map[string]string{"ticket": uuid.NewString()},
		map[string]any{"type": "ticker", "codes": f.markets},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe tickers: %w", err)
	}

	f.log.Info("price feed connected", "markets", len(f.markets))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read price stream: %w", err)
		}

		var tick wsTicker
		if err := json.Unmarshal(data, &tick); err != nil || tick.Type != "ticker" {
			continue
		}

		f.mu.Lock()
		f.prices[tick.Code] = pricePoint{price: tick.TradePrice, at: time.Now()}
		f.mu.Unlock()
	}
}

// Price returns the current price for a market: the streamed value when fresh,
// otherwise a REST ticker lookup.
func (f *PriceFeed) Price(ctx context.Context, market string) (float64, error) {
	f.mu.RLock()
	point, ok := f.prices[market]
	f.mu.RUnlock()

	if ok && time.Since(point.at) <= f.maxAge {
		return point.price, nil
	}

	ticker, err := f.client.Ticker(ctx, market)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.prices[market] = pricePoint{price: ticker.TradePrice, at: time.Now()}
	f.mu.Unlock()

	return ticker.TradePrice, nil
}
