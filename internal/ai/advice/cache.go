package advice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/events"
)

// Store is an optional second level shared across restarts (redis)
type Store interface {
	Load(ctx context.Context, pair string, dest interface{}) (bool, error)
	Save(ctx context.Context, pair string, entry interface{}, ttl time.Duration) error
}

// Cache holds one advice entry per pair for the configured TTL.
// Concurrent misses on the same pair share a single advisory call.
type Cache struct {
	advisor  Advisor
	settings *config.SettingsStore
	store    Store
	bus      *events.EventBus
	logger   zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	group   singleflight.Group
	now     func() time.Time
}

// NewCache creates an advice cache. store and bus may be nil.
func NewCache(advisor Advisor, settings *config.SettingsStore, store Store, bus *events.EventBus, logger zerolog.Logger) *Cache {
	return &Cache{
		advisor:  advisor,
		settings: settings,
		store:    store,
		bus:      bus,
		logger:   logger.With().Str("component", "AdviceCache").Logger(),
		entries:  make(map[string]Entry),
		now:      time.Now,
	}
}

// Get returns fresh advice for pair, calling the advisor on a miss or expiry.
// Any failure yields false so the caller falls back to static parameters.
func (c *Cache) Get(ctx context.Context, pair string) (Entry, bool) {
	pair = strings.ToUpper(pair)
	ttl := c.settings.Get().AdviceTTL()

	if e, ok := c.fresh(pair, ttl); ok {
		c.logger.Debug().Str("pair", pair).Dur("age", c.now().Sub(e.CachedAt)).Msg("Using cached advice")
		return e, true
	}

	v, err, _ := c.group.Do(pair, func() (interface{}, error) {
		if e, ok := c.fresh(pair, ttl); ok {
			return e, nil
		}
		if e, ok := c.loadShared(ctx, pair, ttl); ok {
			return e, nil
		}

		c.logger.Info().Str("pair", pair).Msg("Refreshing trade advice")
		e, err := c.advisor.Advise(ctx, pair)
		if err != nil {
			return nil, err
		}
		e.Pair = pair
		e.CachedAt = c.now()
		c.put(e)

		if c.store != nil {
			if err := c.store.Save(ctx, pair, e, ttl); err != nil {
				c.logger.Debug().Err(err).Str("pair", pair).Msg("Advice not mirrored to shared store")
			}
		}
		c.publish(e)
		return e, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("pair", pair).Msg("No valid advice, using static parameters")
		return Entry{}, false
	}
	return v.(Entry), true
}

// Peek returns the cached entry without refreshing, whatever its age
func (c *Cache) Peek(pair string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToUpper(pair)]
	return e, ok
}

// Invalidate drops a pair's local entry
func (c *Cache) Invalidate(pair string) {
	c.mu.Lock()
	delete(c.entries, strings.ToUpper(pair))
	c.mu.Unlock()
}

func (c *Cache) fresh(pair string, ttl time.Duration) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[pair]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.CachedAt) >= ttl {
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) put(e Entry) {
	c.mu.Lock()
	c.entries[e.Pair] = e
	c.mu.Unlock()
}

func (c *Cache) loadShared(ctx context.Context, pair string, ttl time.Duration) (Entry, bool) {
	if c.store == nil {
		return Entry{}, false
	}
	var e Entry
	found, err := c.store.Load(ctx, pair, &e)
	if err != nil {
		c.logger.Debug().Err(err).Str("pair", pair).Msg("Shared advice store unavailable")
		return Entry{}, false
	}
	if !found || e.CachedAt.IsZero() || c.now().Sub(e.CachedAt) >= ttl {
		return Entry{}, false
	}
	e.Pair = pair
	c.put(e)
	return e, true
}

func (c *Cache) publish(e Entry) {
	c.bus.Publish(events.Event{
		Type: events.EventAdviceUpdated,
		Data: map[string]interface{}{
			"pair":        e.Pair,
			"take_profit": e.TakeProfit,
			"stop_loss":   e.StopLoss,
			"max_hold":    e.MaxHoldSecs,
			"rationale":   e.Rationale,
		},
	})
}
