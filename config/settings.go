package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrInvalidValue  = errors.New("invalid option value")
)

const (
	StrategyFollowWhale  = "follow_whale"
	StrategyCounterWhale = "counter_whale"
)

// TradingSettings is the runtime-tunable part of the configuration.
// Every component reads it through SettingsStore.Get and never keeps a pointer to it.
type TradingSettings struct {
	Amount          float64 `json:"amount" toml:"amount"`                     // Reference asset per trade
	UsePercentage   bool    `json:"use_percentage" toml:"use_percentage"`     // Size from free balance instead of Amount
	TradePercentage float64 `json:"trade_percentage" toml:"trade_percentage"` // % of free balance when UsePercentage
	MinBNBPerTrade  float64 `json:"min_bnb_per_trade" toml:"min_bnb_per_trade"`

	TakeProfit   float64 `json:"take_profit" toml:"take_profit"`       // %
	StopLoss     float64 `json:"stop_loss" toml:"stop_loss"`           // %
	MaxTradeTime int     `json:"max_trade_time" toml:"max_trade_time"` // Seconds
	TradingMode  string  `json:"trading_mode" toml:"trading_mode"`

	TradingEnabled      bool    `json:"trading_enabled" toml:"trading_enabled"`
	AutoSelectPairs     bool    `json:"auto_select_pairs" toml:"auto_select_pairs"`
	MinVolume           float64 `json:"min_volume" toml:"min_volume"`
	MinPriceChange      float64 `json:"min_price_change" toml:"min_price_change"`
	MaxConcurrentTrades int     `json:"max_concurrent_trades" toml:"max_concurrent_trades"`
	MarketUpdateSecs    int     `json:"market_update_interval" toml:"market_update_interval"`

	WhaleDetection   bool    `json:"whale_detection" toml:"whale_detection"`
	WhaleThreshold   float64 `json:"whale_threshold" toml:"whale_threshold"`
	AutoTradeOnWhale bool    `json:"auto_trade_on_whale" toml:"auto_trade_on_whale"`
	TradingStrategy  string  `json:"trading_strategy" toml:"trading_strategy"`

	UseTestnet     bool `json:"use_testnet" toml:"use_testnet"`
	UseRealTrading bool `json:"use_real_trading" toml:"use_real_trading"`
	MockMode       bool `json:"mock_mode" toml:"mock_mode"`

	DailyLossLimit    float64 `json:"daily_loss_limit" toml:"daily_loss_limit"`       // %
	DailyProfitTarget float64 `json:"daily_profit_target" toml:"daily_profit_target"` // %

	AIDynamicMode     bool `json:"ai_dynamic_mode" toml:"ai_dynamic_mode"`
	AIAdviceCacheSecs int  `json:"ai_advice_cache_duration" toml:"ai_advice_cache_duration"`
}

// DefaultTradingSettings returns the out-of-the-box settings: simulated, testnet, trading disabled
func DefaultTradingSettings() TradingSettings {
	return TradingSettings{
		Amount:              0.01,
		TradePercentage:     5.0,
		MinBNBPerTrade:      0.011,
		TakeProfit:          1.5,
		StopLoss:            5.0,
		MaxTradeTime:        300,
		TradingMode:         "balanced_growth",
		AutoSelectPairs:     true,
		MinVolume:           100,
		MinPriceChange:      1.0,
		MaxConcurrentTrades: 3,
		MarketUpdateSecs:    30,
		WhaleDetection:      true,
		WhaleThreshold:      100,
		TradingStrategy:     StrategyFollowWhale,
		UseTestnet:          true,
		MockMode:            true,
		DailyLossLimit:      5.0,
		DailyProfitTarget:   2.5,
		AIAdviceCacheSecs:   300,
	}
}

func (s TradingSettings) MaxHold() time.Duration {
	return time.Duration(s.MaxTradeTime) * time.Second
}

func (s TradingSettings) MarketUpdateInterval() time.Duration {
	return time.Duration(s.MarketUpdateSecs) * time.Second
}

func (s TradingSettings) AdviceTTL() time.Duration {
	return time.Duration(s.AIAdviceCacheSecs) * time.Second
}

// TradingMode is a named bundle of exit and selection parameters
type TradingMode struct {
	Name                 string  `json:"name"`
	TakeProfit           float64 `json:"take_profit"`
	StopLoss             float64 `json:"stop_loss"`
	MaxTradeTime         int     `json:"max_trade_time"`
	VolumeThreshold      float64 `json:"volume_threshold"`
	PriceChangeThreshold float64 `json:"price_change_threshold"`
	MaxTrades            int     `json:"max_trades"`
	Volatility           float64 `json:"volatility"` // Simulated price-walk multiplier
}

var TradingModes = map[string]TradingMode{
	"conservative_scalp": {Name: "conservative_scalp", TakeProfit: 0.5, StopLoss: 0.8, MaxTradeTime: 180, VolumeThreshold: 250, PriceChangeThreshold: 0.15, MaxTrades: 6, Volatility: 0.7},
	"consistent_drip":    {Name: "consistent_drip", TakeProfit: 1.0, StopLoss: 0.8, MaxTradeTime: 450, VolumeThreshold: 150, PriceChangeThreshold: 0.3, MaxTrades: 4, Volatility: 0.8},
	"balanced_growth":    {Name: "balanced_growth", TakeProfit: 2.0, StopLoss: 1.5, MaxTradeTime: 900, VolumeThreshold: 80, PriceChangeThreshold: 0.5, MaxTrades: 3, Volatility: 1.0},
	"momentum_rider":     {Name: "momentum_rider", TakeProfit: 3.5, StopLoss: 2.0, MaxTradeTime: 1800, VolumeThreshold: 50, PriceChangeThreshold: 0.8, MaxTrades: 2, Volatility: 1.2},
}

// ModeNames returns the trading mode names in stable order
func ModeNames() []string {
	names := make([]string, 0, len(TradingModes))
	for name := range TradingModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VolatilityFor returns the simulated volatility multiplier of a mode, 1.0 when unknown
func VolatilityFor(mode string) float64 {
	if m, ok := TradingModes[mode]; ok {
		return m.Volatility
	}
	return 1.0
}

// ApplyTradingMode copies the selected mode into the exit and selection fields.
// With AI-dynamic mode on, exits come from advice per trade and the settings are left alone.
func ApplyTradingMode(s *TradingSettings) bool {
	if s.AIDynamicMode {
		return false
	}
	mode, ok := TradingModes[s.TradingMode]
	if !ok {
		return false
	}
	s.TakeProfit = mode.TakeProfit
	s.StopLoss = mode.StopLoss
	s.MaxTradeTime = mode.MaxTradeTime
	s.MinVolume = mode.VolumeThreshold
	s.MinPriceChange = mode.PriceChangeThreshold
	s.MaxConcurrentTrades = mode.MaxTrades
	return true
}

// SettingsStore guards the shared TradingSettings record
type SettingsStore struct {
	mu       sync.RWMutex
	settings TradingSettings
}

func NewSettingsStore(initial TradingSettings) *SettingsStore {
	return &SettingsStore{settings: initial}
}

// Get returns a consistent copy of the current settings
func (s *SettingsStore) Get() TradingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to the settings under the write lock
func (s *SettingsStore) Update(fn func(*TradingSettings)) TradingSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	return s.settings
}

// SetOption parses and validates value for the named option, then commits it together with
// any dependent fields. On error nothing is changed.
func (s *SettingsStore) SetOption(name, value string) (TradingSettings, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	setter, ok := optionSetters[name]
	if !ok {
		return s.Get(), fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	if err := setter(&next, strings.TrimSpace(value)); err != nil {
		return s.settings, fmt.Errorf("%s: %w", name, err)
	}

	switch name {
	case "trading_mode", "ai_dynamic_mode":
		ApplyTradingMode(&next)
	case "use_real_trading":
		if next.UseRealTrading {
			next.MockMode = false
		}
	case "mock_mode":
		if next.MockMode && next.UseRealTrading {
			return s.settings, fmt.Errorf("%s: %w: mock mode cannot be enabled while real trading is on", name, ErrInvalidValue)
		}
	}

	s.settings = next
	return next, nil
}

// OptionNames lists every option accepted by SetOption
func OptionNames() []string {
	names := make([]string, 0, len(optionSetters))
	for name := range optionSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type optionSetter func(s *TradingSettings, raw string) error

var optionSetters = map[string]optionSetter{
	"amount":                   floatOption(1e-8, 1e6, func(s *TradingSettings) *float64 { return &s.Amount }),
	"use_percentage":           boolOption(func(s *TradingSettings) *bool { return &s.UsePercentage }),
	"trade_percentage":         floatOption(0.01, 100, func(s *TradingSettings) *float64 { return &s.TradePercentage }),
	"min_bnb_per_trade":        floatOption(0, 1e6, func(s *TradingSettings) *float64 { return &s.MinBNBPerTrade }),
	"take_profit":              floatOption(0.01, 100, func(s *TradingSettings) *float64 { return &s.TakeProfit }),
	"stop_loss":                floatOption(0.01, 100, func(s *TradingSettings) *float64 { return &s.StopLoss }),
	"max_trade_time":           intOption(10, 86400, func(s *TradingSettings) *int { return &s.MaxTradeTime }),
	"trading_mode":             enumOption(ModeNames, func(s *TradingSettings) *string { return &s.TradingMode }),
	"trading_enabled":          boolOption(func(s *TradingSettings) *bool { return &s.TradingEnabled }),
	"auto_select_pairs":        boolOption(func(s *TradingSettings) *bool { return &s.AutoSelectPairs }),
	"min_volume":               floatOption(0, 1e12, func(s *TradingSettings) *float64 { return &s.MinVolume }),
	"min_price_change":         floatOption(0, 100, func(s *TradingSettings) *float64 { return &s.MinPriceChange }),
	"max_concurrent_trades":    intOption(1, 50, func(s *TradingSettings) *int { return &s.MaxConcurrentTrades }),
	"market_update_interval":   intOption(1, 3600, func(s *TradingSettings) *int { return &s.MarketUpdateSecs }),
	"whale_detection":          boolOption(func(s *TradingSettings) *bool { return &s.WhaleDetection }),
	"whale_threshold":          floatOption(1, 1e9, func(s *TradingSettings) *float64 { return &s.WhaleThreshold }),
	"auto_trade_on_whale":      boolOption(func(s *TradingSettings) *bool { return &s.AutoTradeOnWhale }),
	"trading_strategy":         enumOption(func() []string { return []string{StrategyCounterWhale, StrategyFollowWhale} }, func(s *TradingSettings) *string { return &s.TradingStrategy }),
	"use_testnet":              boolOption(func(s *TradingSettings) *bool { return &s.UseTestnet }),
	"use_real_trading":         boolOption(func(s *TradingSettings) *bool { return &s.UseRealTrading }),
	"mock_mode":                boolOption(func(s *TradingSettings) *bool { return &s.MockMode }),
	"daily_loss_limit":         floatOption(0.1, 100, func(s *TradingSettings) *float64 { return &s.DailyLossLimit }),
	"daily_profit_target":      floatOption(0.1, 1000, func(s *TradingSettings) *float64 { return &s.DailyProfitTarget }),
	"ai_dynamic_mode":          boolOption(func(s *TradingSettings) *bool { return &s.AIDynamicMode }),
	"ai_advice_cache_duration": intOption(0, 86400, func(s *TradingSettings) *int { return &s.AIAdviceCacheSecs }),
}

func boolOption(field func(*TradingSettings) *bool) optionSetter {
	return func(s *TradingSettings, raw string) error {
		v, err := parseBool(raw)
		if err != nil {
			return err
		}
		*field(s) = v
		return nil
	}
}

func floatOption(min, max float64, field func(*TradingSettings) *float64) optionSetter {
	return func(s *TradingSettings, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: expected a number, got %q", ErrInvalidValue, raw)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q is not a finite number", ErrInvalidValue, raw)
		}
		if v < min || v > max {
			return fmt.Errorf("%w: %g outside [%g, %g]", ErrInvalidValue, v, min, max)
		}
		*field(s) = v
		return nil
	}
}

func intOption(min, max int, field func(*TradingSettings) *int) optionSetter {
	return func(s *TradingSettings, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: expected an integer, got %q", ErrInvalidValue, raw)
		}
		if v < min || v > max {
			return fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidValue, v, min, max)
		}
		*field(s) = v
		return nil
	}
}

func enumOption(allowed func() []string, field func(*TradingSettings) *string) optionSetter {
	return func(s *TradingSettings, raw string) error {
		for _, a := range allowed() {
			if raw == a {
				*field(s) = raw
				return nil
			}
		}
		return fmt.Errorf("%w: %q not one of %s", ErrInvalidValue, raw, strings.Join(allowed(), ", "))
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "yes", "1", "on", "enable":
		return true, nil
	case "false", "no", "0", "off", "disable":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected a boolean, got %q", ErrInvalidValue, raw)
}
