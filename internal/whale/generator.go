package whale

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/market"
)

var ErrEventNotFound = errors.New("whale event not found")

const (
	defaultTickInterval   = 10 * time.Second
	defaultProbability    = 0.1
	defaultNotifyCooldown = 30 * time.Second
	maxLogSize            = 500
)

// PairSource supplies the market snapshot events are drawn from
type PairSource interface {
	Snapshot() []market.PairSnapshot
}

// TradeCreator accepts whale-driven trade offers; chatID 0 means no originating chat
type TradeCreator interface {
	CreateWhaleTrade(ctx context.Context, ev Event, side binance.Side, auto bool, chatID int64) error
}

// Generator synthesizes whale events from the market snapshot
type Generator struct {
	pairs    PairSource
	settings *config.SettingsStore
	bus      *events.EventBus
	logger   zerolog.Logger

	Interval       time.Duration
	Probability    float64
	NotifyCooldown time.Duration

	traderMu sync.RWMutex
	trader   TradeCreator

	mu         sync.Mutex
	rng        *rand.Rand
	log        []Event
	ignored    map[int64]bool
	lastID     int64
	lastNotify time.Time
	now        func() time.Time
}

func NewGenerator(pairs PairSource, settings *config.SettingsStore, bus *events.EventBus, logger zerolog.Logger) *Generator {
	return NewGeneratorWithRand(pairs, settings, bus, logger, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewGeneratorWithRand(pairs PairSource, settings *config.SettingsStore, bus *events.EventBus, logger zerolog.Logger, rng *rand.Rand) *Generator {
	return &Generator{
		pairs:          pairs,
		settings:       settings,
		bus:            bus,
		logger:         logger.With().Str("component", "whale").Logger(),
		Interval:       defaultTickInterval,
		Probability:    defaultProbability,
		NotifyCooldown: defaultNotifyCooldown,
		rng:            rng,
		ignored:        make(map[int64]bool),
		now:            time.Now,
	}
}

// SetTrader wires the engine that receives auto-trade offers
func (g *Generator) SetTrader(t TradeCreator) {
	g.traderMu.Lock()
	defer g.traderMu.Unlock()
	g.trader = t
}

// Run ticks until ctx is cancelled
func (g *Generator) Run(ctx context.Context) {
	g.logger.Info().Msg("Whale detection started")
	defer g.logger.Info().Msg("Whale detection stopped")

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safeTick(ctx)
		}
	}
}

// Tick may generate one event. It returns the event when one was generated.
func (g *Generator) Tick(ctx context.Context) (Event, bool) {
	s := g.settings.Get()
	if !s.WhaleDetection {
		return Event{}, false
	}

	ev, notify, ok := g.generate(s.WhaleThreshold)
	if !ok {
		return Event{}, false
	}

	g.logger.Info().
		Int64("whale_id", ev.ID).
		Str("pair", ev.Pair).
		Str("side", string(ev.Side)).
		Float64("value", ev.Value).
		Str("impact", string(ev.Impact)).
		Msg("Whale transaction detected")

	data := ev.eventData()
	data["notify"] = notify
	g.bus.Publish(events.Event{Type: events.EventWhaleDetected, Timestamp: ev.Timestamp, Data: data})

	if s.AutoTradeOnWhale {
		g.offer(ctx, ev, s)
	}
	return ev, true
}

// safeTick keeps the generator running through a panicking tick
func (g *Generator) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Msg("Whale tick panicked")
			g.bus.PublishError("whale", fmt.Sprint(r))
		}
	}()
	g.Tick(ctx)
}

// generate draws and records one event under the lock
func (g *Generator) generate(threshold float64) (Event, bool, bool) {
	pairs := g.pairs.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rng.Float64() >= g.Probability {
		return Event{}, false, false
	}
	if len(pairs) == 0 {
		g.logger.Warn().Msg("Cannot generate whale event, market snapshot is empty")
		return Event{}, false, false
	}

	p := pairs[g.rng.Intn(len(pairs))]
	price := p.LastPrice
	if price <= 0 {
		if market.InvolvesReference(p.Pair) {
			price = 300 + g.uniform(-20, 20)
		} else {
			price = g.uniform(0.001, 10)
		}
	}
	amount := threshold * g.uniform(1, 10)
	side := binance.SideBuy
	if g.rng.Intn(2) == 1 {
		side = binance.SideSell
	}

	now := g.now()
	id := now.Unix()
	if id <= g.lastID {
		id = g.lastID + 1
	}
	g.lastID = id

	value := amount * price
	ev := Event{
		ID:        id,
		Pair:      p.Pair,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Value:     value,
		Impact:    ClassifyImpact(value),
		Timestamp: now,
	}

	g.log = append(g.log, ev)
	if len(g.log) > maxLogSize {
		g.log = append([]Event(nil), g.log[len(g.log)-maxLogSize:]...)
	}

	notify := now.Sub(g.lastNotify) > g.NotifyCooldown
	if notify {
		g.lastNotify = now
	}
	return ev, notify, true
}

// offer hands an event to the engine when trading is on and the pair involves the reference asset
func (g *Generator) offer(ctx context.Context, ev Event, s config.TradingSettings) {
	if !s.TradingEnabled || !market.InvolvesReference(ev.Pair) {
		return
	}
	g.traderMu.RLock()
	trader := g.trader
	g.traderMu.RUnlock()
	if trader == nil {
		g.logger.Warn().Msg("Auto-trade on whale enabled but no engine attached")
		return
	}

	side := TradeSide(s.TradingStrategy, ev.Side)
	if err := trader.CreateWhaleTrade(ctx, ev, side, true, 0); err != nil {
		g.logger.Warn().Err(err).Int64("whale_id", ev.ID).Str("pair", ev.Pair).Msg("Whale auto-trade not opened")
	}
}

// RecentEvents returns up to limit events, newest first
func (g *Generator) RecentEvents(limit int) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.log)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, g.log[i])
	}
	return out
}

// Find returns a logged event by id
func (g *Generator) Find(id int64) (Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.log) - 1; i >= 0; i-- {
		if g.log[i].ID == id {
			return g.log[i], nil
		}
	}
	return Event{}, ErrEventNotFound
}

// Ignore records an operator's dismissal of an alert
func (g *Generator) Ignore(id int64) error {
	if _, err := g.Find(id); err != nil {
		return err
	}
	g.mu.Lock()
	g.ignored[id] = true
	g.mu.Unlock()
	g.logger.Info().Int64("whale_id", id).Msg("Whale alert ignored")
	return nil
}

func (g *Generator) IsIgnored(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ignored[id]
}

// uniform draws from [lo, hi); caller holds mu
func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (ev Event) eventData() map[string]interface{} {
	return map[string]interface{}{
		"whale_id": ev.ID,
		"pair":     ev.Pair,
		"side":     string(ev.Side),
		"amount":   ev.Amount,
		"price":    ev.Price,
		"value":    ev.Value,
		"impact":   ev.Impact.Description(),
	}
}
