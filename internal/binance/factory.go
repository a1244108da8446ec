package binance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
)

// ClientSelector routes each call to the live client or the simulator according to the current
// settings, so toggling mock_mode at runtime takes effect on the next call.
type ClientSelector struct {
	settings *config.SettingsStore
	live     *Client
	mock     *MockClient
}

// NewClientSelector builds the live client only when real credentials are configured
func NewClientSelector(cfg config.BinanceConfig, settings *config.SettingsStore, mock *MockClient, logger zerolog.Logger) *ClientSelector {
	s := &ClientSelector{settings: settings, mock: mock}
	if s.mock == nil {
		s.mock = NewMockClient()
	}
	if cfg.HasCredentials() {
		timeout := time.Duration(cfg.RequestTimeout) * time.Second
		s.live = NewClient(cfg.APIKey, cfg.SecretKey, settings.Get().UseTestnet, timeout, logger)
		logger.Info().Bool("testnet", settings.Get().UseTestnet).Msg("Live exchange client configured")
	} else {
		logger.Info().Msg("No exchange credentials, using simulated exchange only")
	}
	return s
}

// HasCredentials reports whether a live client exists
func (s *ClientSelector) HasCredentials() bool {
	return s.live != nil
}

func (s *ClientSelector) current() SpotClient {
	if s.live != nil && !s.settings.Get().MockMode {
		return s.live
	}
	return s.mock
}

func (s *ClientSelector) IsLive() bool {
	return s.current().IsLive()
}

func (s *ClientSelector) GetAccountBalances(ctx context.Context) (map[string]Balance, error) {
	return s.current().GetAccountBalances(ctx)
}

func (s *ClientSelector) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return s.current().GetTickerPrice(ctx, symbol)
}

func (s *ClientSelector) Get24hrStats(ctx context.Context, symbols ...string) ([]Ticker24hr, error) {
	return s.current().Get24hrStats(ctx, symbols...)
}

func (s *ClientSelector) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return s.current().GetKlines(ctx, symbol, interval, limit)
}

func (s *ClientSelector) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (*OrderResult, error) {
	return s.current().PlaceMarketOrder(ctx, symbol, side, quantity)
}

var _ SpotClient = (*ClientSelector)(nil)
