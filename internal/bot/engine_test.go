package bot

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/ai/advice"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
	"whale-spot-bot/internal/market"
	"whale-spot-bot/internal/risk"
	"whale-spot-bot/internal/whale"
)

// liveMock is the simulated exchange presenting itself as live, counting orders
type liveMock struct {
	*binance.MockClient
	orders int32
}

func (l *liveMock) IsLive() bool { return true }

func (l *liveMock) PlaceMarketOrder(ctx context.Context, symbol string, side binance.Side, qty float64) (*binance.OrderResult, error) {
	atomic.AddInt32(&l.orders, 1)
	return l.MockClient.PlaceMarketOrder(ctx, symbol, side, qty)
}

type fixedAdvice struct {
	entry advice.Entry
	ok    bool
}

func (f fixedAdvice) Get(ctx context.Context, pair string) (advice.Entry, bool) {
	return f.entry, f.ok
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	engine   *Engine
	mock     *binance.MockClient
	live     *liveMock
	settings *config.SettingsStore
	whales   *whale.Generator
	events   *recorder
}

func newHarness(t *testing.T, live bool, mutate func(*config.TradingSettings)) *harness {
	t.Helper()
	return newHarnessWith(t, live, mutate, nil)
}

// newHarnessWith lets a test wrap the exchange client seen by the engine and its collaborators
func newHarnessWith(t *testing.T, live bool, mutate func(*config.TradingSettings), wrap func(binance.SpotClient) binance.SpotClient) *harness {
	t.Helper()
	s := config.DefaultTradingSettings()
	if live {
		s.UseRealTrading = true
		s.MockMode = false
	}
	if mutate != nil {
		mutate(&s)
	}
	settings := config.NewSettingsStore(s)

	mock := binance.NewMockClientWithRand(rand.New(rand.NewSource(1)))
	h := &harness{mock: mock, settings: settings, events: &recorder{}}
	var client binance.SpotClient = mock
	if live {
		h.live = &liveMock{MockClient: mock}
		client = h.live
	}
	if wrap != nil {
		client = wrap(client)
	}

	bus := events.NewEventBus()
	bus.SubscribeAll(h.events.handle)
	logger := logging.Nop()
	feed := market.NewFeedWithRand(client, settings, logger, rand.New(rand.NewSource(2)))
	h.whales = whale.NewGeneratorWithRand(feed, settings, bus, logger, rand.New(rand.NewSource(3)))
	h.engine = NewEngine(Dependencies{
		Settings: settings,
		Client:   client,
		Feed:     feed,
		Whales:   h.whales,
		Limiter:  risk.NewLimiter(settings, client, bus, logger),
		Bus:      bus,
		Logger:   logger,
		Rand:     rand.New(rand.NewSource(4)),
	})
	return h
}

func TestCreateTradeSimulated(t *testing.T) {
	h := newHarness(t, false, nil)

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "bnbusdt", Side: binance.SideBuy})
	if err != nil {
		t.Fatalf("CreateTrade() error = %v", err)
	}
	if tr.Pair != "BNBUSDT" || tr.EntryPrice != 305.42 {
		t.Errorf("pair/entry = %s/%v, want BNBUSDT/305.42", tr.Pair, tr.EntryPrice)
	}
	if !approxEqual(tr.TakeProfitPrice, 310.0013, 1e-4) || !approxEqual(tr.StopLossPrice, 290.149, 1e-3) {
		t.Errorf("exits = %v/%v", tr.TakeProfitPrice, tr.StopLossPrice)
	}
	if tr.Quantity != 0.011 || tr.BNBValue != 0.011 {
		t.Errorf("quantity = %v, want the minimum 0.011 BNB", tr.Quantity)
	}
	if tr.LiveOpened || tr.LiveFilled || tr.Source != SourceManual {
		t.Errorf("unexpected flags: %+v", tr)
	}

	opened := h.events.ofType(events.EventTradeOpened)
	if len(opened) != 1 || opened[0].Str("pair") != "BNBUSDT" {
		t.Fatalf("TRADE_OPENED events = %+v", opened)
	}
}

func TestCreateTradeQuoteBNBQuantity(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.Amount = 0.05 })

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideSell, Price: 0.25})
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(tr.Quantity, 0.2, 1e-12) || tr.BNBValue != 0.05 {
		t.Errorf("quantity = %v value = %v, want 0.2 / 0.05", tr.Quantity, tr.BNBValue)
	}
	if tr.TakeProfitPrice >= tr.EntryPrice || tr.StopLossPrice <= tr.EntryPrice {
		t.Errorf("sell exits on wrong side: tp=%v sl=%v", tr.TakeProfitPrice, tr.StopLossPrice)
	}
}

func TestCreateTradeInvalidPrice(t *testing.T) {
	h := newHarness(t, false, nil)

	_, err := h.engine.CreateTrade(context.Background(), Request{Pair: "NOPEBNB", Side: binance.SideBuy})
	if !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("error = %v, want ErrInvalidPrice", err)
	}
	if len(h.events.ofType(events.EventTradeFailed)) != 1 {
		t.Error("expected one TRADE_FAILED event")
	}
	if len(h.engine.OpenTrades()) != 0 {
		t.Error("trade opened despite invalid price")
	}
}

func TestCreateTradeInvalidSide(t *testing.T) {
	h := newHarness(t, false, nil)
	if _, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: "HOLD"}); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("error = %v, want ErrInvalidSide", err)
	}
}

func TestPairBusyAndConcurrencyLimit(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.MaxConcurrentTrades = 2 })
	ctx := context.Background()

	if _, err := h.engine.CreateTrade(ctx, Request{Pair: "SOLBNB", Side: binance.SideBuy}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.CreateTrade(ctx, Request{Pair: "SOLBNB", Side: binance.SideSell}); !errors.Is(err, ErrPairBusy) {
		t.Errorf("same pair = %v, want ErrPairBusy", err)
	}
	if _, err := h.engine.CreateTrade(ctx, Request{Pair: "FETBNB", Side: binance.SideBuy}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.CreateTrade(ctx, Request{Pair: "XRPBNB", Side: binance.SideBuy}); !errors.Is(err, ErrConcurrencyLimit) {
		t.Errorf("third pair = %v, want ErrConcurrencyLimit", err)
	}
}

func TestConcurrentOpensRespectLimit(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.MaxConcurrentTrades = 3 })
	pairs := []string{"SOLBNB", "ALTBNB", "SIGNBNB", "FETBNB", "XRPBNB", "BNBUSDT"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, p := range pairs {
			wg.Add(1)
			go func(pair string) {
				defer wg.Done()
				h.engine.CreateTrade(context.Background(), Request{Pair: pair, Side: binance.SideBuy})
			}(p)
		}
	}
	wg.Wait()

	open := h.engine.OpenTrades()
	if len(open) != 3 {
		t.Fatalf("open trades = %d, want 3", len(open))
	}
	seen := map[string]bool{}
	for _, tr := range open {
		if seen[tr.Pair] {
			t.Errorf("two open trades on %s", tr.Pair)
		}
		seen[tr.Pair] = true
	}
}

func TestLiveWithoutCredentials(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) {
		s.UseRealTrading = true
		s.MockMode = false
	})

	_, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideBuy})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("error = %v, want ErrMissingCredentials", err)
	}
}

func TestLiveTradeReconcilesFills(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy, Price: 300})
	if err != nil {
		t.Fatalf("CreateTrade() error = %v", err)
	}
	if !tr.LiveOpened || !tr.LiveFilled || tr.OrderID == 0 {
		t.Fatalf("live flags = %+v", tr)
	}
	if tr.EntryPrice != 305.42 {
		t.Errorf("entry = %v, want fill price 305.42", tr.EntryPrice)
	}
	if !approxEqual(tr.TakeProfitPrice, 305.42*1.015, 1e-9) {
		t.Errorf("take profit not recomputed from fill: %v", tr.TakeProfitPrice)
	}

	h.mock.SetPrice("BNBUSDT", 310.10)
	closed, ok := h.engine.checkTrade(ctx, tr, 310.10, time.Now())
	if !ok {
		t.Fatal("expected take-profit close")
	}
	if closed.CloseOrderID == 0 || closed.ExitPrice != 310.10 || closed.ExitEstimated {
		t.Errorf("close reconciliation = %+v", closed)
	}
	if n := atomic.LoadInt32(&h.live.orders); n != 2 {
		t.Errorf("orders sent = %d, want 2", n)
	}
}

func TestLiveCloseFailureKeepsEstimate(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	h.mock.SetOrderError(errors.New("network down"))

	closed, ok := h.engine.closeTrade(ctx, tr.ID, 300, ReasonStopLoss)
	if !ok {
		t.Fatal("close failed")
	}
	if closed.ExitPrice != 300 || !closed.ExitEstimated {
		t.Errorf("exit = %v estimated=%v, want 300 estimated", closed.ExitPrice, closed.ExitEstimated)
	}
}

func TestEntryOrderRejected(t *testing.T) {
	h := newHarness(t, true, nil)
	h.mock.SetOrderError(binance.ErrOrderRejected)

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatalf("CreateTrade() error = %v", err)
	}
	if !tr.OpenRejected || tr.LiveOpened || tr.LiveFilled {
		t.Errorf("flags = rejected:%v opened:%v filled:%v", tr.OpenRejected, tr.LiveOpened, tr.LiveFilled)
	}
	if len(h.events.ofType(events.EventTradeFailed)) != 1 {
		t.Error("expected TRADE_FAILED for the rejected order")
	}
}

func TestInsufficientBalance(t *testing.T) {
	h := newHarness(t, true, nil)
	h.mock.SetBalance("BNB", 0.001, 0)

	_, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideBuy})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	if h.engine.store.HasOpen("SOLBNB") {
		t.Error("pair left reserved after failure")
	}
}

func TestPercentageSizing(t *testing.T) {
	h := newHarness(t, true, func(s *config.TradingSettings) {
		s.UsePercentage = true
		s.TradePercentage = 10
	})
	h.mock.SetBalance("BNB", 2, 0)

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(tr.BNBValue, 0.2, 1e-12) {
		t.Errorf("BNB value = %v, want 10%% of 2", tr.BNBValue)
	}
}

func TestAIAdviceOverridesExits(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.AIDynamicMode = true })
	h.engine.advice = fixedAdvice{ok: true, entry: advice.Entry{Pair: "BNBUSDT", TakeProfit: 2.5, StopLoss: 1.2, MaxHoldSecs: 900, Rationale: "oversold bounce"}}

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	if tr.TakeProfitPct != 2.5 || tr.StopLossPct != 1.2 || tr.MaxHoldSecs != 900 {
		t.Errorf("exits = %v/%v/%v, want advice 2.5/1.2/900", tr.TakeProfitPct, tr.StopLossPct, tr.MaxHoldSecs)
	}
	if tr.Rationale != "oversold bounce" {
		t.Errorf("rationale = %q", tr.Rationale)
	}
}

func TestAIAdviceUnavailableFallsBack(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.AIDynamicMode = true })
	h.engine.advice = fixedAdvice{ok: false}

	tr, err := h.engine.CreateTrade(context.Background(), Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	if tr.TakeProfitPct != 1.5 || tr.StopLossPct != 5 || tr.MaxHoldSecs != 300 {
		t.Errorf("exits = %v/%v/%v, want settings 1.5/5/300", tr.TakeProfitPct, tr.StopLossPct, tr.MaxHoldSecs)
	}
	if tr.Rationale != "" {
		t.Errorf("rationale = %q, want none", tr.Rationale)
	}
}

func TestTakeProfitScenario(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy, Price: 305.42})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.engine.checkTrade(ctx, tr, 306, time.Now()); ok {
		t.Fatal("closed below take profit")
	}

	closed, ok := h.engine.checkTrade(ctx, tr, 310.10, time.Now())
	if !ok {
		t.Fatal("expected close at 310.10")
	}
	if closed.Reason != ReasonTakeProfit || !approxEqual(closed.ResultPct, 1.5323, 1e-3) {
		t.Errorf("reason = %s result = %v, want take-profit ~1.53%%", closed.Reason, closed.ResultPct)
	}
	if !closed.ProfitApproximate {
		t.Error("BNB-base profit must be flagged approximate")
	}

	if _, ok := h.engine.closeTrade(ctx, tr.ID, 311, ReasonManual); ok {
		t.Error("second close succeeded")
	}
	if stats := h.engine.DailyStats(); stats.TotalTrades != 1 || stats.WinningTrades != 1 {
		t.Errorf("stats = %+v, want one winning trade", stats)
	}
	if got := h.events.ofType(events.EventTradeClosed); len(got) != 1 || got[0].Str("reason") != "take-profit" {
		t.Errorf("TRADE_CLOSED events = %+v", got)
	}
}

func TestConcurrentClosesSendOneOrder(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.CloseTrade(ctx, tr.ID); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful closes = %d, want 1", wins)
	}
	if n := atomic.LoadInt32(&h.live.orders); n != 2 {
		t.Errorf("orders = %d, want one open and one close", n)
	}
}

func TestCloseTradeUnknown(t *testing.T) {
	h := newHarness(t, false, nil)
	if _, err := h.engine.CloseTrade(context.Background(), "missing"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("error = %v, want ErrTradeNotFound", err)
	}
}

func TestMonitorTickClosesExpired(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "SOLBNB", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	if n := h.engine.MonitorTick(ctx); n != 0 {
		t.Fatalf("closed %d trades at open time", n)
	}

	h.engine.now = func() time.Time { return tr.OpenedAt.Add(tr.MaxHold() + time.Second) }
	if n := h.engine.MonitorTick(ctx); n != 1 {
		t.Fatalf("MonitorTick closed %d, want 1", n)
	}
	if len(h.engine.OpenTrades()) != 0 {
		t.Error("trade still open after expiry")
	}
	if done := h.engine.CompletedTrades(10); len(done) != 1 || done[0].ID != tr.ID {
		t.Errorf("completed = %+v", done)
	}
}

func TestSimulatedPriceBoundedByAge(t *testing.T) {
	h := newHarness(t, false, nil)
	tr := Trade{EntryPrice: 100, MaxHoldSecs: 100, Mode: "balanced_growth", OpenedAt: time.Now()}

	for i := 0; i < 100; i++ {
		if p := h.engine.simulatePrice(tr, tr.OpenedAt); p != 100 {
			t.Fatalf("price at open = %v, want entry", p)
		}
		p := h.engine.simulatePrice(tr, tr.OpenedAt.Add(time.Hour))
		if p < 98.5 || p > 101.5 {
			t.Fatalf("price %v outside ±1.5%% at full age", p)
		}
	}
}

func TestSelectionTickWaits(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, false, nil)
		if tr, wait := h.engine.SelectionTick(context.Background()); tr != nil || wait != disabledWait {
			t.Errorf("got %v, %v; want nil, %v", tr, wait, disabledWait)
		}
	})

	t.Run("at capacity", func(t *testing.T) {
		h := newHarness(t, false, func(s *config.TradingSettings) {
			s.TradingEnabled = true
			s.MaxConcurrentTrades = 1
		})
		h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideBuy})
		if _, wait := h.engine.SelectionTick(context.Background()); wait != busyWait {
			t.Errorf("wait = %v, want %v", wait, busyWait)
		}
	})

	t.Run("auto select off", func(t *testing.T) {
		h := newHarness(t, false, func(s *config.TradingSettings) {
			s.TradingEnabled = true
			s.AutoSelectPairs = false
		})
		_, wait := h.engine.SelectionTick(context.Background())
		if wait < pauseMin || wait >= pauseMax {
			t.Errorf("wait = %v, want within [%v, %v)", wait, pauseMin, pauseMax)
		}
	})
}

func TestSelectionTickOpensFromTopPairs(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.TradingEnabled = true })
	top := h.engine.feed.Query(market.Filter{MinVolume: 100, MinPriceChange: 1}, selectionTopN)
	allowed := map[string]market.PairSnapshot{}
	for _, p := range top {
		allowed[p.Pair] = p
	}

	var opened *Trade
	for i := 0; i < 200 && opened == nil; i++ {
		opened, _ = h.engine.SelectionTick(context.Background())
	}
	if opened == nil {
		t.Fatal("no trade opened in 200 ticks")
	}
	snap, ok := allowed[opened.Pair]
	if !ok {
		t.Fatalf("opened %s, not among top pairs", opened.Pair)
	}
	want := binance.SideSell
	if snap.PriceChange > 0 {
		want = binance.SideBuy
	}
	if opened.Side != want || opened.Source != SourceAutoSelected {
		t.Errorf("side/source = %s/%s, want %s/%s", opened.Side, opened.Source, want, SourceAutoSelected)
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	if err := h.engine.Stop(time.Second); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if !h.engine.Status().Running {
		t.Error("status not running")
	}
	if err := h.engine.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.engine.IsRunning() {
		t.Error("still running after Stop")
	}
	if len(h.events.ofType(events.EventBotStarted)) != 1 || len(h.events.ofType(events.EventBotStopped)) != 1 {
		t.Error("missing start/stop events")
	}
}

func TestFollowAndIgnoreWhale(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.TradingEnabled = true })
	ctx := context.Background()
	h.whales.Probability = 1

	ev, ok := h.whales.Tick(ctx)
	if !ok {
		t.Fatal("no whale event generated")
	}
	if err := h.engine.FollowWhale(ctx, ev.ID, 42); !errors.Is(err, ErrNotRunning) {
		t.Errorf("follow while stopped = %v, want ErrNotRunning", err)
	}

	h.engine.mu.Lock()
	h.engine.running = true
	h.engine.mu.Unlock()

	if err := h.engine.FollowWhale(ctx, ev.ID, 42); err != nil {
		t.Fatalf("FollowWhale() error = %v", err)
	}
	open := h.engine.OpenTrades()
	if len(open) != 1 || open[0].Side != ev.Side || open[0].WhaleID != ev.ID || open[0].ChatID != 42 {
		t.Fatalf("followed trade = %+v", open)
	}
	if open[0].Source != SourceWhaleFollow {
		t.Errorf("source = %s", open[0].Source)
	}

	if err := h.engine.IgnoreWhale(ev.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.FollowWhale(ctx, ev.ID, 42); !errors.Is(err, ErrWhaleIgnored) {
		t.Errorf("follow after ignore = %v, want ErrWhaleIgnored", err)
	}
}

func TestSetOptionPublishesChange(t *testing.T) {
	h := newHarness(t, false, nil)
	if _, err := h.engine.SetOption("take_profit", "2.2"); err != nil {
		t.Fatal(err)
	}
	if len(h.events.ofType(events.EventSettingsChanged)) != 1 {
		t.Error("expected SETTINGS_CHANGED")
	}
	if _, err := h.engine.SetOption("take_profit", "x"); err == nil {
		t.Error("expected error for bad value")
	}
}

// panicOnOrder panics on market orders once armed
type panicOnOrder struct {
	binance.SpotClient
	armed atomic.Bool
}

func (p *panicOnOrder) PlaceMarketOrder(ctx context.Context, symbol string, side binance.Side, qty float64) (*binance.OrderResult, error) {
	if p.armed.Load() {
		panic("order book unavailable")
	}
	return p.SpotClient.PlaceMarketOrder(ctx, symbol, side, qty)
}

// blockingStats holds the market refresh until released
type blockingStats struct {
	binance.SpotClient
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStats) Get24hrStats(ctx context.Context, symbols ...string) ([]binance.Ticker24hr, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.SpotClient.Get24hrStats(ctx, symbols...)
}

func TestCreateTradeRejectsNonFiniteAmount(t *testing.T) {
	for _, amount := range []float64{math.NaN(), math.Inf(1)} {
		h := newHarness(t, false, nil)
		h.settings.Update(func(s *config.TradingSettings) { s.Amount = amount })

		_, err := h.engine.CreateTrade(context.Background(), Request{Pair: "SOLBNB", Side: binance.SideBuy})
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("amount %v: error = %v, want ErrInvalidSize", amount, err)
		}
		if n := h.engine.store.CountOpen(); n != 0 {
			t.Errorf("amount %v: %d trades open", amount, n)
		}
		if len(h.events.ofType(events.EventTradeFailed)) != 1 {
			t.Errorf("amount %v: expected one TRADE_FAILED event", amount)
		}
	}
}

func TestCloseOrderPanicUsesEstimate(t *testing.T) {
	var client *panicOnOrder
	h := newHarnessWith(t, true, nil, func(c binance.SpotClient) binance.SpotClient {
		client = &panicOnOrder{SpotClient: c}
		return client
	})
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	client.armed.Store(true)

	closed, err := h.engine.CloseTrade(ctx, tr.ID)
	if err != nil {
		t.Fatalf("CloseTrade() error = %v", err)
	}
	if !closed.ExitEstimated || closed.CloseOrderID != 0 {
		t.Errorf("exit estimated=%v order=%d, want estimate without order", closed.ExitEstimated, closed.CloseOrderID)
	}
	if n := h.engine.store.CountOpen(); n != 0 {
		t.Errorf("open trades = %d, want 0", n)
	}
	if errs := h.events.ofType(events.EventError); len(errs) != 1 || errs[0].Str("source") != "close_order" {
		t.Errorf("ERROR events = %+v", errs)
	}
}

func TestInterruptedCloseReturnsTradeToOpen(t *testing.T) {
	h := newHarness(t, false, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "SOLBNB", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}

	realNow := h.engine.now
	h.engine.now = func() time.Time { panic("clock stopped") }
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("closeTrade did not panic")
			}
		}()
		h.engine.closeTrade(ctx, tr.ID, 0.28, ReasonManual)
	}()
	h.engine.now = realNow

	if !h.engine.store.HasOpen("SOLBNB") {
		t.Fatal("trade not open after interrupted close")
	}
	closed, ok := h.engine.closeTrade(ctx, tr.ID, 0.28, ReasonManual)
	if !ok || closed.Status != StatusClosed {
		t.Fatalf("retry close = %+v, %v", closed, ok)
	}
}

func TestCloseWithRealTradingOffSkipsOrder(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	tr, err := h.engine.CreateTrade(ctx, Request{Pair: "BNBUSDT", Side: binance.SideBuy})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.LiveFilled {
		t.Fatalf("trade not live filled: %+v", tr)
	}
	h.settings.Update(func(s *config.TradingSettings) { s.UseRealTrading = false })

	closed, ok := h.engine.closeTrade(ctx, tr.ID, 300, ReasonManual)
	if !ok {
		t.Fatal("close failed")
	}
	if n := atomic.LoadInt32(&h.live.orders); n != 1 {
		t.Errorf("orders sent = %d, want only the entry", n)
	}
	if closed.ExitPrice != 300 || !closed.ExitEstimated || closed.CloseOrderID != 0 {
		t.Errorf("close = exit %v estimated %v order %d", closed.ExitPrice, closed.ExitEstimated, closed.CloseOrderID)
	}
}

func TestSelectionTickSkipsBusyTopPairs(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) {
		s.TradingEnabled = true
		s.MaxConcurrentTrades = 5
	})
	ctx := context.Background()
	s := h.settings.Get()
	ranked := h.engine.feed.Query(market.Filter{MinVolume: s.MinVolume, MinPriceChange: s.MinPriceChange}, 0)
	if len(ranked) <= selectionTopN {
		t.Fatalf("need more than %d candidates, have %d", selectionTopN, len(ranked))
	}
	busy := map[string]bool{}
	for _, p := range ranked[:selectionTopN] {
		if _, err := h.engine.CreateTrade(ctx, Request{Pair: p.Pair, Side: binance.SideBuy}); err != nil {
			t.Fatalf("open %s: %v", p.Pair, err)
		}
		busy[p.Pair] = true
	}

	var opened *Trade
	for i := 0; i < 200 && opened == nil; i++ {
		var wait time.Duration
		opened, wait = h.engine.SelectionTick(ctx)
		if wait == pairBusyWait {
			t.Fatal("selection waited on busy pairs with free candidates left")
		}
	}
	if opened == nil {
		t.Fatal("no trade opened in 200 ticks")
	}
	if busy[opened.Pair] {
		t.Errorf("opened %s, which already had a trade", opened.Pair)
	}
}

func TestStatusDuringStart(t *testing.T) {
	var client *blockingStats
	h := newHarnessWith(t, true, nil, func(c binance.SpotClient) binance.SpotClient {
		client = &blockingStats{SpotClient: c, entered: make(chan struct{}), release: make(chan struct{})}
		return client
	})
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- h.engine.Start(ctx) }()
	<-client.entered

	status := make(chan Status, 1)
	go func() { status <- h.engine.Status() }()
	select {
	case st := <-status:
		if st.Running {
			t.Error("running before start completed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked while Start waited on the exchange")
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("concurrent Start = %v, want ErrAlreadyRunning", err)
	}

	close(client.release)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.engine.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSelectionPanicKeepsWorker(t *testing.T) {
	h := newHarness(t, false, func(s *config.TradingSettings) { s.TradingEnabled = true })
	h.engine.feed = nil

	wait := h.engine.safeSelectionTick(context.Background())
	if wait < pauseMin || wait >= pauseMax {
		t.Errorf("wait = %v, want a pause within [%v, %v)", wait, pauseMin, pauseMax)
	}
	if errs := h.events.ofType(events.EventError); len(errs) != 1 || errs[0].Str("source") != "selection" {
		t.Errorf("ERROR events = %+v", errs)
	}
}
