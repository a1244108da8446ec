package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/market"
)

const (
	ReasonProfitTarget = "profit_target"
	ReasonLossLimit    = "loss_limit"
)

// BalanceSource is the part of the exchange the limiter reads balances from
type BalanceSource interface {
	GetAccountBalances(ctx context.Context) (map[string]binance.Balance, error)
	IsLive() bool
}

// Limiter keeps the day's statistics and pauses auto-trading when the daily profit
// target or loss limit is crossed. Only an operator re-enables trading.
type Limiter struct {
	settings *config.SettingsStore
	balances BalanceSource
	bus      *events.EventBus
	logger   zerolog.Logger

	mu    sync.Mutex
	stats DailyStats
	now   func() time.Time
}

func NewLimiter(settings *config.SettingsStore, balances BalanceSource, bus *events.EventBus, logger zerolog.Logger) *Limiter {
	l := &Limiter{
		settings: settings,
		balances: balances,
		bus:      bus,
		logger:   logger.With().Str("component", "risk").Logger(),
		now:      time.Now,
	}
	l.stats.Date = l.today()
	return l
}

func (l *Limiter) today() string {
	return l.now().Format("2006-01-02")
}

// Reset clears the counters and, when trading live, loads the starting balance from the exchange.
// A balance failure leaves the balances at zero, which disables the limit checks.
func (l *Limiter) Reset(ctx context.Context) DailyStats {
	var balance float64
	if l.settings.Get().UseRealTrading && l.balances.IsLive() {
		b, err := l.referenceBalance(ctx)
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to load starting balance for daily stats")
		} else {
			balance = b
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = DailyStats{
		Date:            l.today(),
		StartingBalance: balance,
		CurrentBalance:  balance,
	}
	l.logger.Info().Float64("starting_balance", balance).Msg("Daily stats reset")
	return l.stats
}

// RefreshBalance replaces the current balance with the exchange's figure when trading live
func (l *Limiter) RefreshBalance(ctx context.Context) error {
	if !l.settings.Get().UseRealTrading || !l.balances.IsLive() {
		return nil
	}
	b, err := l.referenceBalance(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.stats.StartingBalance <= 0 {
		l.stats.StartingBalance = b
	}
	l.stats.CurrentBalance = b
	return nil
}

func (l *Limiter) referenceBalance(ctx context.Context) (float64, error) {
	balances, err := l.balances.GetAccountBalances(ctx)
	if err != nil {
		return 0, fmt.Errorf("error fetching balances: %w", err)
	}
	return balances[market.ReferenceAsset].Total(), nil
}

// rollover starts a new day, carrying the current balance over as the new start; caller holds mu
func (l *Limiter) rollover() {
	today := l.today()
	if l.stats.Date == today {
		return
	}
	l.logger.Info().Str("previous", l.stats.Date).Str("date", today).Msg("New trading day, rolling daily stats")
	l.stats = DailyStats{
		Date:            today,
		StartingBalance: l.stats.CurrentBalance,
		CurrentBalance:  l.stats.CurrentBalance,
	}
}

// RecordClose adds one closed trade. A result above zero counts as a win.
// The balance only moves for trades that were filled on the exchange.
func (l *Limiter) RecordClose(resultPct, profit float64, liveFilled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	l.stats.TotalTrades++
	l.stats.TotalProfitPct += resultPct
	l.stats.TotalProfit += profit
	if resultPct > 0 {
		l.stats.WinningTrades++
	} else {
		l.stats.LosingTrades++
	}
	if liveFilled && l.settings.Get().UseRealTrading {
		l.stats.CurrentBalance += profit
	}
}

// CheckLimits reports whether auto-trading may continue. On a breach it switches trading off
// and publishes the event once, on the transition.
func (l *Limiter) CheckLimits() (bool, string) {
	s := l.settings.Get()

	l.mu.Lock()
	l.rollover()
	stats := l.stats
	l.mu.Unlock()

	if stats.StartingBalance <= 0 || !s.UseRealTrading {
		return true, ""
	}

	change := stats.BalanceChangePct()
	var reason string
	var limit float64
	switch {
	case change >= s.DailyProfitTarget:
		reason, limit = ReasonProfitTarget, s.DailyProfitTarget
	case change <= -s.DailyLossLimit:
		reason, limit = ReasonLossLimit, s.DailyLossLimit
	default:
		if stats.Paused && s.TradingEnabled {
			l.mu.Lock()
			l.stats.Paused = false
			l.stats.PauseReason = ""
			l.mu.Unlock()
		}
		return true, ""
	}

	wasEnabled := false
	l.settings.Update(func(ts *config.TradingSettings) {
		wasEnabled = ts.TradingEnabled
		ts.TradingEnabled = false
	})

	l.mu.Lock()
	l.stats.Paused = true
	l.stats.PauseReason = reason
	l.mu.Unlock()

	if wasEnabled {
		l.logger.Warn().
			Str("reason", reason).
			Float64("change_pct", change).
			Float64("limit", limit).
			Msg("Daily limit reached, auto-trading disabled")
		l.bus.PublishDailyLimitReached(reason, change, limit)
	}
	return false, reason
}

// Snapshot returns a copy of today's statistics
func (l *Limiter) Snapshot() DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.stats
}

// WinRate is today's winning share in percent
func (l *Limiter) WinRate() float64 {
	return l.Snapshot().WinRate()
}
