package exchange

import (
	"strconv"
	"strings"
	"time"
)

type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

type Ticker struct {
	Market             string  `json:"market"`
	TradePrice         float64 `json:"trade_price"`
	PrevClosingPrice   float64 `json:"prev_closing_price"`
	AccTradePrice24h   float64 `json:"acc_trade_price_24h"`
	SignedChangeRate   float64 `json:"signed_change_rate"`
	TimestampMillis    int64   `json:"timestamp"`
	HighestPrice52Week float64 `json:"highest_52_week_price"`
}

type Account struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

func (a *Account) BalanceFloat() float64 {
	v, _ := strconv.ParseFloat(a.Balance, 64)
	return v
}

func (a *Account) LockedFloat() float64 {
	v, _ := strconv.ParseFloat(a.Locked, 64)
	return v
}

type OrderTrade struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
	Funds  string `json:"funds"`
}

type Order struct {
	UUID           string       `json:"uuid"`
	Side           string       `json:"side"`
	OrdType        string       `json:"ord_type"`
	State          OrderState   `json:"state"`
	Market         string       `json:"market"`
	Price          string       `json:"price"`
	Volume         string       `json:"volume"`
	ExecutedVolume string       `json:"executed_volume"`
	PaidFee        string       `json:"paid_fee"`
	Trades         []OrderTrade `json:"trades"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (o *Order) ExecutedVolumeFloat() float64 {
	v, _ := strconv.ParseFloat(o.ExecutedVolume, 64)
	return v
}

// AvgFillPrice returns the volume-weighted fill price across all trades,
// or 0 when nothing filled yet.
func (o *Order) AvgFillPrice() float64 {
	var funds, volume float64
	for _, t := range o.Trades {
		f, _ := strconv.ParseFloat(t.Funds, 64)
		v, _ := strconv.ParseFloat(t.Volume, 64)
		funds += f
		volume += v
	}
	if volume == 0 {
		return 0
	}
	return funds / volume
}

// AssetCurrency extracts the asset symbol from a market code, e.g.
// "KRW-BTC" -> "BTC".
func AssetCurrency(market string) string {
	parts := strings.SplitN(market, "-", 2)
	if len(parts) != 2 {
		return market
	}
	return parts[1]
}
