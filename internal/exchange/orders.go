package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BuyMarket places a market buy spending krwAmount of quote currency.
func (c *Client) BuyMarket(ctx context.Context, market string, krwAmount float64) (*Order, error) {
	body := map[string]string{
		"market":   market,
		"side":     "bid",
		"ord_type": "price",
		"price":    strconv.FormatFloat(krwAmount, 'f', -1, 64),
	}

	var order Order
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body, true, &order); err != nil {
		return nil, fmt.Errorf("market buy %s: %w", market, err)
	}
	return &order, nil
}

// SellMarket places a market sell of the given asset volume.
func (c *Client) SellMarket(ctx context.Context, market string, volume float64) (*Order, error) {
	body := map[string]string{
		"market":   market,
		"side":     "ask",
		"ord_type": "market",
		"volume":   strconv.FormatFloat(volume, 'f', -1, 64),
	}

	var order Order
	if err := c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body, true, &order); err != nil {
		return nil, fmt.Errorf("market sell %s: %w", market, err)
	}
	return &order, nil
}

// GetOrder fetches the current state of an order, trades included. Polling an
// already-filled order is safe to repeat.
func (c *Client) GetOrder(ctx context.Context, orderUUID string) (*Order, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)

	var order Order
	if err := c.doRequest(ctx, http.MethodGet, "/v1/order", params, nil, true, &order); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderUUID, err)
	}
	return &order, nil
}

// ExecResult is the outcome of an entry order: fill price and quantity once
// the market order settled.
type ExecResult struct {
	OrderID  string
	Price    float64
	Quantity float64
}

// ExecuteBuy places a market buy and polls briefly for the fill. Market orders
// normally settle within a poll or two; an order that has not settled in time
// is returned with whatever filled so the caller can decide.
func (c *Client) ExecuteBuy(ctx context.Context, market string, krwAmount float64) (*ExecResult, error) {
	order, err := c.BuyMarket(ctx, market, krwAmount)
	if err != nil {
		return nil, err
	}

	result := &ExecResult{OrderID: order.UUID}
	for i := 0; i < 5; i++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		polled, err := c.GetOrder(ctx, order.UUID)
		if err != nil {
			continue
		}
		result.Price = polled.AvgFillPrice()
		result.Quantity = polled.ExecutedVolumeFloat()
		if polled.State == OrderStateDone || polled.State == OrderStateCancel {
			break
		}
	}
	return result, nil
}
