package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client talks to the Binance spot REST API through go-binance
type Client struct {
	api     *gobinance.Client
	timeout time.Duration
	limiter *RateLimiter
	logger  zerolog.Logger

	mu        sync.RWMutex
	stepSizes map[string]decimal.Decimal
}

// NewClient creates a live spot client. The testnet switch is process wide in go-binance.
func NewClient(apiKey, secretKey string, testnet bool, timeout time.Duration, logger zerolog.Logger) *Client {
	gobinance.UseTestnet = testnet
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		api:       gobinance.NewClient(apiKey, secretKey),
		timeout:   timeout,
		limiter:   NewRateLimiter(logger),
		logger:    logger.With().Str("component", "binance").Bool("testnet", testnet).Logger(),
		stepSizes: make(map[string]decimal.Decimal),
	}
}

func (c *Client) IsLive() bool { return true }

// call reserves weight and bounds one request with the client timeout
func (c *Client) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Acquire(ctx, endpoint); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		c.limiter.RecordRequest(endpoint)
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == -1003 || apiErr.Code == -1015) {
		c.limiter.RecordRateLimitError(ParseBanUntilFromError(apiErr.Message))
	}
	return err
}

// GetKlines returns candles oldest first
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var raw []*gobinance.Kline
	err := c.call(ctx, "/api/v3/klines", func(ctx context.Context) error {
		var err error
		raw, err = c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching klines for %s: %w", symbol, err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, Kline{
			OpenTime:         k.OpenTime,
			Open:             parseFloat(k.Open),
			High:             parseFloat(k.High),
			Low:              parseFloat(k.Low),
			Close:            parseFloat(k.Close),
			Volume:           parseFloat(k.Volume),
			CloseTime:        k.CloseTime,
			QuoteAssetVolume: parseFloat(k.QuoteAssetVolume),
			NumberOfTrades:   k.TradeNum,
		})
	}
	return klines, nil
}

// Get24hrStats returns 24h statistics for the given symbols, or for every symbol when none are given
func (c *Client) Get24hrStats(ctx context.Context, symbols ...string) ([]Ticker24hr, error) {
	endpoint := "/api/v3/ticker/24hr"
	if len(symbols) == 0 {
		endpoint = "/api/v3/ticker/24hr:all"
	}

	var raw []*gobinance.PriceChangeStats
	err := c.call(ctx, endpoint, func(ctx context.Context) error {
		svc := c.api.NewListPriceChangeStatsService()
		switch len(symbols) {
		case 0:
		case 1:
			svc = svc.Symbol(symbols[0])
		default:
			svc = svc.Symbols(symbols)
		}
		var err error
		raw, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching 24hr stats: %w", err)
	}

	stats := make([]Ticker24hr, 0, len(raw))
	for _, s := range raw {
		stats = append(stats, Ticker24hr{
			Symbol:             s.Symbol,
			PriceChangePercent: parseFloat(s.PriceChangePercent),
			LastPrice:          parseFloat(s.LastPrice),
			Volume:             parseFloat(s.Volume),
			QuoteVolume:        parseFloat(s.QuoteVolume),
		})
	}
	return stats, nil
}

func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*gobinance.SymbolPrice
	err := c.call(ctx, "/api/v3/ticker/price", func(ctx context.Context) error {
		var err error
		prices, err = c.api.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("error fetching price for %s: %w", symbol, err)
	}
	for _, p := range prices {
		if strings.EqualFold(p.Symbol, symbol) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func (c *Client) GetAccountBalances(ctx context.Context) (map[string]Balance, error) {
	var account *gobinance.Account
	err := c.call(ctx, "/api/v3/account", func(ctx context.Context) error {
		var err error
		account, err = c.api.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching account: %w", err)
	}

	balances := make(map[string]Balance, len(account.Balances))
	for _, b := range account.Balances {
		balances[b.Asset] = Balance{
			Asset:  b.Asset,
			Free:   parseFloat(b.Free),
			Locked: parseFloat(b.Locked),
		}
	}
	return balances, nil
}

// PlaceMarketOrder submits a MARKET order with a FULL response so fills are available for reconciliation.
// Exchange rejections are wrapped with ErrOrderRejected; anything else is a transport failure.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error) {
	step, err := c.lotStep(ctx, symbol)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Lot size unavailable, sending unrounded quantity")
	}
	qty := FormatQuantity(quantity, step)

	var resp *gobinance.CreateOrderResponse
	err = c.call(ctx, "/api/v3/order", func(ctx context.Context) error {
		var err error
		resp, err = c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(gobinance.SideType(side)).
			Type(gobinance.OrderTypeMarket).
			Quantity(qty).
			NewOrderRespType(gobinance.NewOrderRespTypeFULL).
			Do(ctx)
		return err
	})
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: code %d: %s", ErrOrderRejected, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("error placing %s order for %s: %w", side, symbol, err)
	}

	result := &OrderResult{
		OrderID:     resp.OrderID,
		Symbol:      resp.Symbol,
		Side:        Side(resp.Side),
		Status:      OrderStatus(resp.Status),
		Price:       parseDecimal(resp.Price),
		ExecutedQty: parseDecimal(resp.ExecutedQuantity),
	}
	for _, f := range resp.Fills {
		result.Fills = append(result.Fills, Fill{
			Price:    parseDecimal(f.Price),
			Quantity: parseDecimal(f.Quantity),
		})
	}
	if result.Status == OrderStatusRejected || result.Status == OrderStatusExpired {
		return result, fmt.Errorf("%w: status %s", ErrOrderRejected, result.Status)
	}
	return result, nil
}

// lotStep returns the cached LOT_SIZE step of a symbol, loading it from exchange info on first use
func (c *Client) lotStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	step, ok := c.stepSizes[symbol]
	c.mu.RUnlock()
	if ok {
		return step, nil
	}

	var info *gobinance.ExchangeInfo
	err := c.call(ctx, "/api/v3/exchangeInfo", func(ctx context.Context) error {
		var err error
		info, err = c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			step = parseDecimal(f.StepSize)
		}
		c.mu.Lock()
		c.stepSizes[symbol] = step
		c.mu.Unlock()
		return step, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
