package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

func (c *Client) Ticker(ctx context.Context, market string) (*Ticker, error) {
	params := url.Values{}
	params.Set("markets", market)

	var tickers []Ticker
	if err := c.doRequest(ctx, http.MethodGet, "/v1/ticker", params, nil, false, &tickers); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", market, err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("get ticker %s: empty response", market)
	}
	return &tickers[0], nil
}

type Candle struct {
	Market      string  `json:"market"`
	CandleTime  string  `json:"candle_date_time_kst"`
	Open        float64 `json:"opening_price"`
	High        float64 `json:"high_price"`
	Low         float64 `json:"low_price"`
	Close       float64 `json:"trade_price"`
	AccVolume   float64 `json:"candle_acc_trade_volume"`
	AccPriceKRW float64 `json:"candle_acc_trade_price"`
}

// Candles returns up to count minute candles, most recent first.
func (c *Client) Candles(ctx context.Context, market string, unit, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("count", strconv.Itoa(count))

	path := fmt.Sprintf("/v1/candles/minutes/%d", unit)
	var candles []Candle
	if err := c.doRequest(ctx, http.MethodGet, path, params, nil, false, &candles); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", market, err)
	}
	return candles, nil
}

func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.doRequest(ctx, http.MethodGet, "/v1/accounts", nil, nil, true, &accounts); err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	return accounts, nil
}

// Balance returns the free balance of a currency, 0 when the account holds none.
func (c *Client) Balance(ctx context.Context, currency string) (float64, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.BalanceFloat(), nil
		}
	}
	return 0, nil
}

// TotalEquityKRW values every holding at the current ticker price and adds the
// KRW balance. Assets whose ticker lookup fails are valued at their average
// buy price rather than dropped.
func (c *Client) TotalEquityKRW(ctx context.Context) (float64, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, a := range accounts {
		qty := a.BalanceFloat() + a.LockedFloat()
		if qty == 0 {
			continue
		}
		if a.Currency == "KRW" {
			total += qty
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ticker, err := c.Ticker(tctx, "KRW-"+a.Currency)
		cancel()
		if err != nil {
			avg, _ := strconv.ParseFloat(a.AvgBuyPrice, 64)
			total += qty * avg
			continue
		}
		total += qty * ticker.TradePrice
	}
	return total, nil
}
