// Package bot runs the trade lifecycle: pair selection, trade creation, monitoring and closing.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/ai/advice"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
	"whale-spot-bot/internal/market"
	"whale-spot-bot/internal/risk"
	"whale-spot-bot/internal/whale"
)

const (
	selectionProbability = 0.3
	selectionTopN        = 3
	disabledWait         = 5 * time.Second
	limitCooldown        = time.Hour
	busyWait             = 3 * time.Second
	pairBusyWait         = time.Second
	pauseMin             = 4 * time.Second
	pauseMax             = 7 * time.Second
	monitorInterval      = time.Second
	balanceInterval      = time.Minute
	taskStopTimeout      = 5 * time.Second
)

// AdviceSource supplies per-pair exit parameters in AI-dynamic mode
type AdviceSource interface {
	Get(ctx context.Context, pair string) (advice.Entry, bool)
}

// Dependencies wires an Engine; Advice and Rand are optional
type Dependencies struct {
	Settings *config.SettingsStore
	Client   binance.SpotClient
	Feed     *market.Feed
	Whales   *whale.Generator
	Limiter  *risk.Limiter
	Advice   AdviceSource
	Bus      *events.EventBus
	Logger   zerolog.Logger
	Rand     *rand.Rand
}

// Request asks for one trade. Price 0 means use the latest market price.
type Request struct {
	Pair    string
	Side    binance.Side
	Price   float64
	Source  string
	WhaleID int64
	ChatID  int64
}

// Engine owns the trade store and the background workers
type Engine struct {
	settings *config.SettingsStore
	client   binance.SpotClient
	feed     *market.Feed
	whales   *whale.Generator
	limiter  *risk.Limiter
	advice   AdviceSource
	bus      *events.EventBus
	logger   zerolog.Logger
	store    *Store

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time

	mu        sync.Mutex
	running   bool
	starting  bool
	startedAt time.Time
	tasks     []*task
}

func NewEngine(deps Dependencies) *Engine {
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e := &Engine{
		settings: deps.Settings,
		client:   deps.Client,
		feed:     deps.Feed,
		whales:   deps.Whales,
		limiter:  deps.Limiter,
		advice:   deps.Advice,
		bus:      deps.Bus,
		logger:   deps.Logger.With().Str("component", "TradeEngine").Logger(),
		store:    NewStore(defaultCompletedLimit),
		rng:      rng,
		now:      time.Now,
	}
	if e.whales != nil {
		e.whales.SetTrader(e)
	}
	return e
}

// Start resets the daily stats and launches the workers. The workers outlive ctx's cancellation;
// only Stop ends them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running || e.starting {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.starting = true
	e.mu.Unlock()

	// Exchange calls happen outside mu so Status stays responsive
	e.limiter.Reset(ctx)
	if err := e.feed.Refresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Initial market refresh failed, continuing with the last snapshot")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starting = false

	base := context.WithoutCancel(ctx)
	e.tasks = []*task{
		startTask(base, "market", e.feed.Run),
		startTask(base, "selection", e.runSelection),
		startTask(base, "monitor", e.runMonitor),
		startTask(base, "balance", e.runBalanceRefresh),
	}
	if e.whales != nil {
		e.tasks = append(e.tasks, startTask(base, "whales", e.whales.Run))
	}
	e.running = true
	e.startedAt = e.now()

	s := e.settings.Get()
	live := s.UseRealTrading && e.client.IsLive()
	e.logger.Info().
		Str("mode", s.TradingMode).
		Bool("live", live).
		Bool("trading_enabled", s.TradingEnabled).
		Int("max_concurrent", s.MaxConcurrentTrades).
		Msg("Trading engine started")
	e.bus.PublishBotStarted(s.TradingMode, live)
	return nil
}

// Stop cancels the workers and joins each with a bounded wait. Open trades stay open.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	tasks := e.tasks
	e.tasks = nil
	e.running = false
	e.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	var errs []error
	for _, t := range tasks {
		if err := t.stop(timeout); err != nil {
			e.logger.Warn().Err(err).Msg("Worker did not stop in time")
			errs = append(errs, err)
		}
	}

	open := e.store.CountOpen()
	e.logger.Info().Int("open_trades", open).Msg("Trading engine stopped")
	e.bus.PublishBotStopped(open)
	return errors.Join(errs...)
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) runSelection(ctx context.Context) {
	for {
		wait := e.safeSelectionTick(ctx)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// safeSelectionTick keeps the selection worker alive through a panicking iteration
func (e *Engine) safeSelectionTick(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Selection iteration panicked")
			e.bus.PublishError("selection", fmt.Sprint(r))
			wait = e.pause()
		}
	}()
	_, wait = e.SelectionTick(ctx)
	return wait
}

func (e *Engine) runBalanceRefresh(ctx context.Context) {
	ticker := time.NewTicker(balanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshBalance(ctx)
		}
	}
}

func (e *Engine) refreshBalance(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Balance refresh panicked")
			e.bus.PublishError("balance", fmt.Sprint(r))
		}
	}()
	if err := e.limiter.RefreshBalance(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Balance refresh failed")
	}
}

// SelectionTick runs one iteration of automatic pair selection. It returns the trade it
// opened, if any, and how long to wait before the next iteration.
func (e *Engine) SelectionTick(ctx context.Context) (*Trade, time.Duration) {
	s := e.settings.Get()
	if !s.TradingEnabled {
		return nil, disabledWait
	}
	if ok, reason := e.limiter.CheckLimits(); !ok {
		e.logger.Info().Str("reason", reason).Dur("cooldown", limitCooldown).Msg("Daily limit active, pausing selection")
		return nil, limitCooldown
	}
	if e.store.CountOpen() >= s.MaxConcurrentTrades {
		return nil, busyWait
	}
	if !s.AutoSelectPairs {
		return nil, e.pause()
	}

	candidates := e.feed.Query(market.Filter{MinVolume: s.MinVolume, MinPriceChange: s.MinPriceChange}, 0)
	if len(candidates) == 0 {
		e.logger.Debug().Msg("No pair passes the selection filter")
		return nil, e.pause()
	}
	best := make([]market.PairSnapshot, 0, selectionTopN)
	for _, p := range candidates {
		if e.store.HasOpen(p.Pair) {
			continue
		}
		best = append(best, p)
		if len(best) == selectionTopN {
			break
		}
	}
	if len(best) == 0 {
		return nil, pairBusyWait
	}

	e.rngMu.Lock()
	pick := best[e.rng.Intn(len(best))]
	roll := e.rng.Float64()
	e.rngMu.Unlock()

	side := binance.SideSell
	if pick.PriceChange > 0 {
		side = binance.SideBuy
	}
	if roll >= selectionProbability {
		return nil, e.pause()
	}

	e.logger.Info().
		Str("pair", pick.Pair).
		Str("side", string(side)).
		Float64("change_pct", pick.PriceChange).
		Float64("volume", pick.Volume).
		Msg("Auto-selected pair")

	t, err := e.CreateTrade(ctx, Request{Pair: pick.Pair, Side: side, Price: pick.LastPrice, Source: SourceAutoSelected})
	if err != nil {
		e.logger.Warn().Err(err).Str("pair", pick.Pair).Msg("Auto-selected trade not opened")
		return nil, e.pause()
	}
	return &t, e.pause()
}

func (e *Engine) pause() time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return pauseMin + time.Duration(e.rng.Int63n(int64(pauseMax-pauseMin)))
}

// CreateTrade opens a trade: price, size and exits are resolved, a market order is sent when
// trading live, and the trade is registered as open. Failures return an error and open nothing.
func (e *Engine) CreateTrade(ctx context.Context, req Request) (Trade, error) {
	pair := strings.ToUpper(strings.TrimSpace(req.Pair))
	if !req.Side.Valid() {
		return Trade{}, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	if req.Source == "" {
		req.Source = SourceManual
	}
	s := e.settings.Get()
	log := logging.TradeContext(e.logger, "", pair, string(req.Side))

	live := s.UseRealTrading
	if live && !e.client.IsLive() {
		e.publishFailure(req, pair, ErrMissingCredentials)
		return Trade{}, ErrMissingCredentials
	}

	price := req.Price
	if price <= 0 {
		if p, ok := e.feed.GetPair(ctx, pair); ok {
			price = p.LastPrice
		}
	}
	if !finitePositive(price) {
		err := fmt.Errorf("%w: %s at %v", ErrInvalidPrice, pair, price)
		log.Error().Err(err).Msg("Trade not created")
		e.publishFailure(req, pair, err)
		return Trade{}, err
	}

	if err := e.store.Reserve(pair, s.MaxConcurrentTrades); err != nil {
		return Trade{}, err
	}
	committed := false
	defer func() {
		if !committed {
			e.store.Release(pair)
		}
	}()

	amount, err := e.positionSize(ctx, s, live)
	if err != nil {
		log.Error().Err(err).Msg("Trade not created")
		e.publishFailure(req, pair, err)
		return Trade{}, err
	}

	base, quote := market.SplitPair(pair)
	qty, bnbValue := quantityFor(base, quote, amount, price, s.Amount)
	if !finitePositive(qty) {
		err := fmt.Errorf("%w: quantity %v for %s", ErrInvalidSize, qty, pair)
		log.Error().Err(err).Msg("Trade not created")
		e.publishFailure(req, pair, err)
		return Trade{}, err
	}

	t := Trade{
		ID:            uuid.NewString(),
		Pair:          pair,
		BaseAsset:     base,
		QuoteAsset:    quote,
		Side:          req.Side,
		Quantity:      qty,
		BNBValue:      bnbValue,
		TakeProfitPct: s.TakeProfit,
		StopLossPct:   s.StopLoss,
		MaxHoldSecs:   s.MaxTradeTime,
		OpenedAt:      e.now(),
		Mode:          s.TradingMode,
		Source:        req.Source,
		WhaleID:       req.WhaleID,
		ChatID:        req.ChatID,
	}
	if s.AIDynamicMode && e.advice != nil {
		if a, ok := e.advice.Get(ctx, pair); ok {
			t.TakeProfitPct = a.TakeProfit
			t.StopLossPct = a.StopLoss
			t.MaxHoldSecs = a.MaxHoldSecs
			t.Rationale = a.Rationale
			t.Mode = "ai_dynamic"
		} else {
			log.Warn().Msg("No AI advice, using trading mode parameters")
		}
	}
	t.setEntry(price)
	log = logging.TradeContext(e.logger, t.ID, pair, string(req.Side))

	if live {
		e.openLive(ctx, &t, req, log)
	}

	e.store.Commit(t)
	committed = true

	log.Info().
		Float64("entry", t.EntryPrice).
		Float64("quantity", t.Quantity).
		Float64("take_profit", t.TakeProfitPrice).
		Float64("stop_loss", t.StopLossPrice).
		Int("max_hold_s", t.MaxHoldSecs).
		Bool("live_filled", t.LiveFilled).
		Str("source", t.Source).
		Msg("Trade opened")
	e.publishOpened(t)
	return t, nil
}

// openLive sends the entry order and reconciles the trade with its fills.
// A rejection flags the trade; a transport failure leaves it simulated.
func (e *Engine) openLive(ctx context.Context, t *Trade, req Request, log zerolog.Logger) {
	result, err := e.client.PlaceMarketOrder(ctx, t.Pair, t.Side, t.Quantity)
	if result != nil {
		t.OrderID = result.OrderID
	}
	switch {
	case errors.Is(err, binance.ErrOrderRejected):
		t.OpenRejected = true
		t.OrderError = err.Error()
		log.Error().Err(err).Int64("order_id", t.OrderID).Msg("Entry order rejected, trade recorded as simulated")
		e.publishFailure(req, t.Pair, err)
		return
	case err != nil:
		t.OrderError = err.Error()
		log.Error().Err(err).Msg("Entry order failed, trade continues simulated")
		e.publishFailure(req, t.Pair, err)
		return
	}

	t.LiveOpened = true
	if result.Status != binance.OrderStatusFilled {
		log.Warn().Int64("order_id", t.OrderID).Str("status", string(result.Status)).Msg("Entry order not filled")
		return
	}
	t.LiveFilled = true
	if avg, qty := result.AverageFill(); avg > 0 && qty > 0 {
		log.Info().
			Float64("old_entry", t.EntryPrice).
			Float64("fill_price", avg).
			Float64("fill_qty", qty).
			Msg("Entry reconciled to fills")
		t.Quantity = qty
		t.setEntry(avg)
	}
}

// positionSize returns the BNB to commit. Percentage sizing applies only when trading live,
// and a live trade is refused when the balance is unknown or short.
func (e *Engine) positionSize(ctx context.Context, s config.TradingSettings, live bool) (float64, error) {
	amount := math.Max(s.MinBNBPerTrade, s.Amount)
	if !finitePositive(amount) {
		return 0, fmt.Errorf("%w: amount %v", ErrInvalidSize, amount)
	}
	if !live {
		return amount, nil
	}

	balances, err := e.client.GetAccountBalances(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Balance unavailable for sizing")
		return 0, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	free := balances[market.ReferenceAsset].Free
	if s.UsePercentage && free > 0 {
		amount = math.Max(s.MinBNBPerTrade, free*s.TradePercentage/100)
	}
	if !finitePositive(amount) {
		return 0, fmt.Errorf("%w: amount %v", ErrInvalidSize, amount)
	}
	if amount > free {
		return 0, fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientBalance, amount, free)
	}
	return amount, nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// quantityFor converts a BNB amount into the pair's base quantity
func quantityFor(base, quote string, amount, price, fallback float64) (float64, float64) {
	switch {
	case quote == market.ReferenceAsset:
		return amount / price, amount
	case base == market.ReferenceAsset:
		return amount, amount
	}
	return fallback, 0
}

// CreateWhaleTrade opens a trade from a whale event at the whale's price
func (e *Engine) CreateWhaleTrade(ctx context.Context, ev whale.Event, side binance.Side, auto bool, chatID int64) error {
	if ev.Price <= 0 {
		return fmt.Errorf("%w: whale %d price %v", ErrInvalidPrice, ev.ID, ev.Price)
	}
	source := SourceWhaleFollow
	if auto {
		source = SourceWhaleAuto
	}
	_, err := e.CreateTrade(ctx, Request{
		Pair:    ev.Pair,
		Side:    side,
		Price:   ev.Price,
		Source:  source,
		WhaleID: ev.ID,
		ChatID:  chatID,
	})
	return err
}

// FollowWhale is the operator's "follow" on a whale alert: a trade in the whale's own direction
func (e *Engine) FollowWhale(ctx context.Context, whaleID, chatID int64) error {
	if !e.IsRunning() {
		return ErrNotRunning
	}
	if !e.settings.Get().TradingEnabled {
		return ErrTradingDisabled
	}
	ev, err := e.whales.Find(whaleID)
	if err != nil {
		return err
	}
	if e.whales.IsIgnored(whaleID) {
		return ErrWhaleIgnored
	}
	return e.CreateWhaleTrade(ctx, ev, ev.Side, false, chatID)
}

func (e *Engine) IgnoreWhale(whaleID int64) error {
	return e.whales.Ignore(whaleID)
}

// SetOption changes one setting and announces it
func (e *Engine) SetOption(name, value string) (config.TradingSettings, error) {
	s, err := e.settings.SetOption(name, value)
	if err != nil {
		return s, err
	}
	e.logger.Info().Str("option", name).Str("value", value).Msg("Setting changed")
	e.bus.PublishSettingsChanged(name, value)
	return s, nil
}

func (e *Engine) Settings() config.TradingSettings {
	return e.settings.Get()
}

func (e *Engine) OpenTrades() []Trade {
	return e.store.OpenTrades()
}

func (e *Engine) CompletedTrades(limit int) []Trade {
	return e.store.Completed(limit)
}

func (e *Engine) Trade(id string) (Trade, bool) {
	return e.store.Get(id)
}

func (e *Engine) DailyStats() risk.DailyStats {
	return e.limiter.Snapshot()
}

func (e *Engine) RecentEvents(limit int) []whale.Event {
	if e.whales == nil {
		return nil
	}
	return e.whales.RecentEvents(limit)
}

// Status is a point-in-time summary for operators
type Status struct {
	Running        bool            `json:"running"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	TradingEnabled bool            `json:"trading_enabled"`
	TradingMode    string          `json:"trading_mode"`
	Live           bool            `json:"live"`
	MockMode       bool            `json:"mock_mode"`
	Testnet        bool            `json:"testnet"`
	AIDynamicMode  bool            `json:"ai_dynamic_mode"`
	WhaleDetection bool            `json:"whale_detection"`
	OpenTrades     int             `json:"open_trades"`
	MaxConcurrent  int             `json:"max_concurrent_trades"`
	DailyStats     risk.DailyStats `json:"daily_stats"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	running, started := e.running, e.startedAt
	e.mu.Unlock()

	s := e.settings.Get()
	st := Status{
		Running:        running,
		TradingEnabled: s.TradingEnabled,
		TradingMode:    s.TradingMode,
		Live:           s.UseRealTrading && e.client.IsLive(),
		MockMode:       s.MockMode,
		Testnet:        s.UseTestnet,
		AIDynamicMode:  s.AIDynamicMode,
		WhaleDetection: s.WhaleDetection,
		OpenTrades:     e.store.CountOpen(),
		MaxConcurrent:  s.MaxConcurrentTrades,
		DailyStats:     e.limiter.Snapshot(),
	}
	if running {
		st.StartedAt = started
	}
	return st
}

func (e *Engine) publishOpened(t Trade) {
	data := map[string]interface{}{
		"trade_id":          t.ID,
		"pair":              t.Pair,
		"side":              string(t.Side),
		"entry_price":       t.EntryPrice,
		"quantity":          t.Quantity,
		"amount":            t.BNBValue,
		"take_profit_price": t.TakeProfitPrice,
		"stop_loss_price":   t.StopLossPrice,
		"take_profit_pct":   t.TakeProfitPct,
		"stop_loss_pct":     t.StopLossPct,
		"max_hold":          t.MaxHoldSecs,
		"mode":              t.Mode,
		"source":            t.Source,
		"rationale":         t.Rationale,
		"live":              t.LiveFilled,
		"order_id":          t.OrderID,
	}
	if t.ChatID != 0 {
		data[events.KeyChatID] = t.ChatID
	}
	e.bus.Publish(events.Event{Type: events.EventTradeOpened, Data: data})
}

func (e *Engine) publishFailure(req Request, pair string, err error) {
	data := map[string]interface{}{
		"pair":   pair,
		"side":   string(req.Side),
		"source": req.Source,
		"error":  err.Error(),
	}
	if req.ChatID != 0 {
		data[events.KeyChatID] = req.ChatID
	}
	e.bus.Publish(events.Event{Type: events.EventTradeFailed, Data: data})
}
