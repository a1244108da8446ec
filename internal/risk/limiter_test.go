package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
)

type fakeBalances struct {
	bnb  float64
	live bool
	err  error
}

func (f *fakeBalances) GetAccountBalances(ctx context.Context) (map[string]binance.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]binance.Balance{"BNB": {Asset: "BNB", Free: f.bnb * 0.75, Locked: f.bnb * 0.25}}, nil
}

func (f *fakeBalances) IsLive() bool { return f.live }

func liveSettings() *config.SettingsStore {
	s := config.DefaultTradingSettings()
	s.UseRealTrading = true
	s.MockMode = false
	s.TradingEnabled = true
	s.DailyLossLimit = 5
	s.DailyProfitTarget = 2.5
	return config.NewSettingsStore(s)
}

func TestResetLoadsStartingBalance(t *testing.T) {
	l := NewLimiter(liveSettings(), &fakeBalances{bnb: 2, live: true}, events.NewEventBus(), logging.Nop())

	stats := l.Reset(context.Background())
	if stats.StartingBalance != 2 || stats.CurrentBalance != 2 {
		t.Errorf("balances = %v/%v, want 2/2", stats.StartingBalance, stats.CurrentBalance)
	}
}

func TestResetBalanceFailureDisablesChecks(t *testing.T) {
	l := NewLimiter(liveSettings(), &fakeBalances{live: true, err: errors.New("timeout")}, events.NewEventBus(), logging.Nop())
	l.Reset(context.Background())

	l.RecordClose(-50, -1, true)
	if ok, _ := l.CheckLimits(); !ok {
		t.Error("limits applied without a starting balance")
	}
}

func TestLossLimitDisablesTrading(t *testing.T) {
	settings := liveSettings()
	bus := events.NewEventBus()
	var published []events.Event
	bus.Subscribe(events.EventDailyLimitReached, func(e events.Event) { published = append(published, e) })

	l := NewLimiter(settings, &fakeBalances{bnb: 1, live: true}, bus, logging.Nop())
	l.Reset(context.Background())

	l.RecordClose(-3, -0.03, true)
	if ok, _ := l.CheckLimits(); !ok {
		t.Fatal("-3% should not breach a 5% loss limit")
	}

	l.RecordClose(-3, -0.03, true)
	ok, reason := l.CheckLimits()
	if ok || reason != ReasonLossLimit {
		t.Fatalf("CheckLimits() = %v, %q; want false, loss_limit", ok, reason)
	}
	if settings.Get().TradingEnabled {
		t.Error("trading still enabled after breach")
	}

	// Still breached, but the event fires only on the transition
	l.CheckLimits()
	if len(published) != 1 {
		t.Errorf("published %d limit events, want 1", len(published))
	}

	// Operator re-enables explicitly
	settings.SetOption("trading_enabled", "true")
	if !settings.Get().TradingEnabled {
		t.Error("operator could not re-enable trading")
	}
}

func TestProfitTargetDisablesTrading(t *testing.T) {
	settings := liveSettings()
	l := NewLimiter(settings, &fakeBalances{bnb: 1, live: true}, events.NewEventBus(), logging.Nop())
	l.Reset(context.Background())

	l.RecordClose(3, 0.03, true)
	ok, reason := l.CheckLimits()
	if ok || reason != ReasonProfitTarget {
		t.Errorf("CheckLimits() = %v, %q; want false, profit_target", ok, reason)
	}
	if snap := l.Snapshot(); !snap.Paused || snap.PauseReason != ReasonProfitTarget {
		t.Errorf("snapshot pause = %v %q", snap.Paused, snap.PauseReason)
	}
}

func TestSimulatedTradesDoNotMoveBalance(t *testing.T) {
	l := NewLimiter(liveSettings(), &fakeBalances{bnb: 1, live: true}, events.NewEventBus(), logging.Nop())
	l.Reset(context.Background())

	l.RecordClose(-20, -0.2, false)
	if ok, _ := l.CheckLimits(); !ok {
		t.Error("simulated loss breached the live limit")
	}
	if got := l.Snapshot().CurrentBalance; got != 1 {
		t.Errorf("CurrentBalance = %v, want 1", got)
	}
}

func TestRecordCloseCounters(t *testing.T) {
	l := NewLimiter(config.NewSettingsStore(config.DefaultTradingSettings()), &fakeBalances{}, events.NewEventBus(), logging.Nop())

	l.RecordClose(1.5, 0.001, false)
	l.RecordClose(0, 0, false)
	l.RecordClose(-0.5, -0.0005, false)

	s := l.Snapshot()
	if s.TotalTrades != 3 || s.WinningTrades != 1 || s.LosingTrades != 2 {
		t.Errorf("counters = %d/%d/%d, want 3/1/2", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	}
	if s.TotalProfitPct != 1.0 {
		t.Errorf("TotalProfitPct = %v, want 1.0", s.TotalProfitPct)
	}
	if wr := l.WinRate(); wr < 33.33 || wr > 33.34 {
		t.Errorf("WinRate = %v", wr)
	}
}

func TestDailyRollover(t *testing.T) {
	l := NewLimiter(liveSettings(), &fakeBalances{bnb: 1, live: true}, events.NewEventBus(), logging.Nop())
	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return day }
	l.Reset(context.Background())
	l.RecordClose(1, 0.01, true)

	day = day.Add(2 * time.Minute)
	s := l.Snapshot()
	if s.Date != "2026-03-02" || s.TotalTrades != 0 {
		t.Errorf("after rollover: date %s trades %d", s.Date, s.TotalTrades)
	}
	if s.StartingBalance != 1.01 {
		t.Errorf("StartingBalance = %v, want carried-over 1.01", s.StartingBalance)
	}
}

func TestChecksSkippedWithoutRealTrading(t *testing.T) {
	s := config.DefaultTradingSettings()
	s.TradingEnabled = true
	settings := config.NewSettingsStore(s)
	l := NewLimiter(settings, &fakeBalances{bnb: 1, live: true}, events.NewEventBus(), logging.Nop())
	l.Reset(context.Background())

	if ok, _ := l.CheckLimits(); !ok {
		t.Error("limits applied in simulation")
	}
}
