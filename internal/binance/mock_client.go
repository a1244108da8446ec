package binance

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockClient simulates the spot exchange for development and tests
type MockClient struct {
	mu         sync.Mutex
	prices     map[string]float64
	changes    map[string]float64
	volumes    map[string]float64
	balances   map[string]Balance
	orderErr   error
	nextID     int64
	lastUpdate time.Time
	rng        *rand.Rand
}

// NewMockClient creates a mock client seeded with BNB pair prices
func NewMockClient() *MockClient {
	return NewMockClientWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewMockClientWithRand creates a mock client drawing from rng, for deterministic tests
func NewMockClientWithRand(rng *rand.Rand) *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BNBUSDT": 305.42,
			"SOLBNB":  0.2735,
			"ALTBNB":  0.0000629,
			"SIGNBNB": 0.00014760,
			"FETBNB":  0.001322,
			"XRPBNB":  0.003858,
			"DOGEBNB": 0.00012,
			"ADABNB":  0.00095,
		},
		changes: map[string]float64{
			"BNBUSDT": 2.3,
			"SOLBNB":  4.59,
			"ALTBNB":  11.33,
			"SIGNBNB": -0.29,
			"FETBNB":  6.53,
			"XRPBNB":  1.68,
		},
		volumes: map[string]float64{
			"BNBUSDT": 12500.45,
			"SOLBNB":  5882.66,
			"ALTBNB":  2184.30,
			"SIGNBNB": 793.73,
			"FETBNB":  759.47,
			"XRPBNB":  704.39,
		},
		balances: map[string]Balance{
			"BNB":  {Asset: "BNB", Free: 1.0},
			"USDT": {Asset: "USDT", Free: 1000.0},
		},
		nextID:     1000,
		lastUpdate: time.Now(),
		rng:        rng,
	}
}

func (mc *MockClient) IsLive() bool { return false }

// updatePrices applies a small random walk at most once per second; caller holds mu
func (mc *MockClient) updatePrices() {
	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	for symbol, price := range mc.prices {
		// -0.5% to +0.5%
		change := (mc.rng.Float64() - 0.5) * 0.01
		mc.prices[symbol] = math.Max(1e-8, price*(1+change))
	}
	mc.lastUpdate = time.Now()
}

// SetPrice pins the price of a symbol
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
	mc.lastUpdate = time.Now()
}

func (mc *MockClient) SetBalance(asset string, free, locked float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.balances[asset] = Balance{Asset: asset, Free: free, Locked: locked}
}

// SetOrderError makes subsequent orders fail with err; nil restores fills
func (mc *MockClient) SetOrderError(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.orderErr = err
}

func (mc *MockClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.updatePrices()
	price, ok := mc.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, nil
}

func (mc *MockClient) Get24hrStats(ctx context.Context, symbols ...string) ([]Ticker24hr, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.updatePrices()

	if len(symbols) == 0 {
		for symbol := range mc.prices {
			symbols = append(symbols, symbol)
		}
	}
	stats := make([]Ticker24hr, 0, len(symbols))
	for _, symbol := range symbols {
		price, ok := mc.prices[symbol]
		if !ok {
			continue
		}
		stats = append(stats, Ticker24hr{
			Symbol:             symbol,
			PriceChangePercent: mc.changes[symbol],
			LastPrice:          price,
			Volume:             mc.volumes[symbol],
			QuoteVolume:        mc.volumes[symbol] * price,
		})
	}
	return stats, nil
}

// GetKlines returns a synthetic walk ending at the current price
func (mc *MockClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.updatePrices()

	basePrice, ok := mc.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	step := intervalDuration(interval)
	now := time.Now()
	klines := make([]Kline, limit)
	price := basePrice
	// Walk backwards from the current price so the last close matches the ticker
	for i := limit - 1; i >= 0; i-- {
		closePrice := price
		openPrice := closePrice * (1 + (mc.rng.Float64()-0.5)*0.004)
		high := math.Max(openPrice, closePrice) * (1 + mc.rng.Float64()*0.002)
		low := math.Min(openPrice, closePrice) * (1 - mc.rng.Float64()*0.002)
		volume := 100 + mc.rng.Float64()*1000
		openTime := now.Add(-time.Duration(limit-i) * step)

		klines[i] = Kline{
			OpenTime:         openTime.UnixMilli(),
			Open:             openPrice,
			High:             high,
			Low:              low,
			Close:            closePrice,
			Volume:           volume,
			CloseTime:        openTime.Add(step).UnixMilli() - 1,
			QuoteAssetVolume: volume * closePrice,
			NumberOfTrades:   int64(50 + mc.rng.Intn(500)),
		}
		price = openPrice
	}
	return klines, nil
}

func (mc *MockClient) GetAccountBalances(ctx context.Context) (map[string]Balance, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	balances := make(map[string]Balance, len(mc.balances))
	for asset, b := range mc.balances {
		balances[asset] = b
	}
	return balances, nil
}

// PlaceMarketOrder fills the whole quantity at the current price
func (mc *MockClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.orderErr != nil {
		return nil, mc.orderErr
	}
	price, ok := mc.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %v", ErrOrderRejected, quantity)
	}

	mc.nextID++
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(quantity)
	return &OrderResult{
		OrderID:     mc.nextID,
		Symbol:      symbol,
		Side:        side,
		Status:      OrderStatusFilled,
		ExecutedQty: q,
		Fills:       []Fill{{Price: p, Quantity: q}},
	}, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
