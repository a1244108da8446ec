package binance

import (
	"context"
	"errors"
)

var (
	// ErrOrderRejected marks an order the exchange refused; the trade is recorded but not live
	ErrOrderRejected = errors.New("order rejected by exchange")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// SpotClient is the exchange capability the engine depends on.
// Every call is synchronous and bounded by the client's request timeout.
type SpotClient interface {
	GetAccountBalances(ctx context.Context) (map[string]Balance, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	Get24hrStats(ctx context.Context, symbols ...string) ([]Ticker24hr, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error)
	// IsLive is false for simulated clients; live orders are only sent through live clients
	IsLive() bool
}

// Ensure both Client and MockClient implement SpotClient
var _ SpotClient = (*Client)(nil)
var _ SpotClient = (*MockClient)(nil)
