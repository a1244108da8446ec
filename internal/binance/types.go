package binance

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide accepts buy/sell in any case
func ParseSide(s string) (Side, bool) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	return side, side.Valid()
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Balance is the free and locked amount of one asset
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Kline represents a candlestick
type Kline struct {
	OpenTime         int64   `json:"openTime"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Close            float64 `json:"close"`
	Volume           float64 `json:"volume"`
	CloseTime        int64   `json:"closeTime"`
	QuoteAssetVolume float64 `json:"quoteAssetVolume"`
	NumberOfTrades   int64   `json:"numberOfTrades"`
}

// Ticker24hr represents 24hr ticker price change statistics
type Ticker24hr struct {
	Symbol             string  `json:"symbol"`
	PriceChangePercent float64 `json:"priceChangePercent"`
	LastPrice          float64 `json:"lastPrice"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quoteVolume"`
}

// Fill is one execution of a market order
type Fill struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"qty"`
}

// OrderResult is the exchange's answer to a market order
type OrderResult struct {
	OrderID     int64           `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Status      OrderStatus     `json:"status"`
	Price       decimal.Decimal `json:"price"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Fills       []Fill          `json:"fills"`
}

// AverageFill returns the quantity-weighted average price over all fills.
// Without fills it falls back to price and executed quantity; zeros mean no usable fill data.
func (o *OrderResult) AverageFill() (price, qty float64) {
	if o == nil {
		return 0, 0
	}
	if len(o.Fills) > 0 {
		totalValue := decimal.Zero
		totalQty := decimal.Zero
		for _, f := range o.Fills {
			totalValue = totalValue.Add(f.Price.Mul(f.Quantity))
			totalQty = totalQty.Add(f.Quantity)
		}
		if totalQty.IsPositive() {
			return totalValue.Div(totalQty).InexactFloat64(), totalQty.InexactFloat64()
		}
	}
	if o.Price.IsPositive() && o.ExecutedQty.IsPositive() {
		return o.Price.InexactFloat64(), o.ExecutedQty.InexactFloat64()
	}
	return 0, 0
}

// FormatQuantity floors qty to the lot step and renders it without exponent.
// A zero step keeps eight decimals.
func FormatQuantity(qty float64, step decimal.Decimal) string {
	q := decimal.NewFromFloat(qty)
	if step.IsPositive() {
		q = q.Div(step).Floor().Mul(step)
	} else {
		q = q.Truncate(8)
	}
	return q.String()
}
