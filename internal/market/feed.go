package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
)

var ErrNoMarketData = errors.New("no market data from exchange")

// Seed snapshot used in simulation mode
var initialPairs = []PairSnapshot{
	{Pair: "SOLBNB", Volume: 5882.66, QuoteVolume: 1609.2, PriceChange: 4.59, LastPrice: 0.2735},
	{Pair: "ALTBNB", Volume: 2184.30, QuoteVolume: 137.4, PriceChange: 11.33, LastPrice: 0.0000629},
	{Pair: "SIGNBNB", Volume: 793.73, QuoteVolume: 117.1, PriceChange: -0.29, LastPrice: 0.00014760},
	{Pair: "FETBNB", Volume: 759.47, QuoteVolume: 100.4, PriceChange: 6.53, LastPrice: 0.001322},
	{Pair: "XRPBNB", Volume: 704.39, QuoteVolume: 271.7, PriceChange: 1.68, LastPrice: 0.003858},
	{Pair: "BNBUSDT", Volume: 12500.45, QuoteVolume: 3817687.9, PriceChange: 2.3, LastPrice: 305.42},
}

// Pairs that may appear during simulated churn
var churnPairs = []PairSnapshot{
	{Pair: "DOGEBNB", LastPrice: 0.00012},
	{Pair: "ADABNB", LastPrice: 0.00095},
}

const (
	maxSimulatedPairs  = 20
	minPairsForRemoval = 10
	maxPriceChange     = 50.0
)

// Feed owns the current market snapshot
type Feed struct {
	client   binance.SpotClient
	settings *config.SettingsStore
	logger   zerolog.Logger

	mu         sync.RWMutex
	pairs      []PairSnapshot
	lastUpdate time.Time
	rng        *rand.Rand
}

func NewFeed(client binance.SpotClient, settings *config.SettingsStore, logger zerolog.Logger) *Feed {
	return NewFeedWithRand(client, settings, logger, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewFeedWithRand creates a feed drawing simulated churn from rng
func NewFeedWithRand(client binance.SpotClient, settings *config.SettingsStore, logger zerolog.Logger, rng *rand.Rand) *Feed {
	f := &Feed{
		client:   client,
		settings: settings,
		logger:   logger.With().Str("component", "market").Logger(),
		rng:      rng,
	}
	if settings.Get().MockMode {
		f.pairs = append([]PairSnapshot(nil), initialPairs...)
	}
	return f
}

// live reports whether refreshes and lookups go to the exchange
func (f *Feed) live() bool {
	return !f.settings.Get().MockMode && f.client.IsLive()
}

// Refresh replaces the snapshot, from the exchange when live, else by perturbing the previous one.
// A failed live refresh keeps the previous snapshot and returns the error.
func (f *Feed) Refresh(ctx context.Context) error {
	if f.live() {
		return f.refreshLive(ctx)
	}
	f.refreshSimulated()
	return nil
}

func (f *Feed) refreshLive(ctx context.Context) error {
	stats, err := f.client.Get24hrStats(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("Market refresh failed, keeping last snapshot")
		return err
	}

	pairs := make([]PairSnapshot, 0, len(stats))
	for _, s := range stats {
		if !InvolvesReference(s.Symbol) {
			continue
		}
		pairs = append(pairs, PairSnapshot{
			Pair:        s.Symbol,
			Volume:      s.Volume,
			QuoteVolume: s.QuoteVolume,
			PriceChange: s.PriceChangePercent,
			LastPrice:   s.LastPrice,
		})
	}
	if len(pairs) == 0 {
		f.logger.Warn().Msg("No reference pairs in exchange tickers, keeping last snapshot")
		return ErrNoMarketData
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].rankingVolume() > pairs[j].rankingVolume()
	})

	f.mu.Lock()
	f.pairs = pairs
	f.lastUpdate = time.Now()
	f.mu.Unlock()

	f.logger.Info().Int("pairs", len(pairs)).Msg("Updated market data from exchange")
	return nil
}

// refreshSimulated applies a bounded random walk and occasional pair churn
func (f *Feed) refreshSimulated() {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.pairs
	if len(prev) == 0 {
		prev = initialPairs
	}
	next := make([]PairSnapshot, 0, len(prev)+1)
	for _, p := range prev {
		p.Volume = math.Max(0, p.Volume*(1+f.uniform(-0.05, 0.15)))
		p.PriceChange = clamp(p.PriceChange+f.uniform(-2, 3), -maxPriceChange, maxPriceChange)
		p.LastPrice = math.Max(1e-8, p.LastPrice*(1+f.uniform(-0.01, 0.02)))
		p.QuoteVolume = p.Volume * p.LastPrice
		next = append(next, p)
	}

	if f.rng.Float64() < 0.2 && len(next) < maxSimulatedPairs {
		candidate := churnPairs[f.rng.Intn(len(churnPairs))]
		candidate.Volume = f.uniform(500, 2000)
		candidate.PriceChange = f.uniform(-20, 20)
		candidate.LastPrice *= 1 + f.uniform(-0.2, 0.2)
		candidate.QuoteVolume = candidate.Volume * candidate.LastPrice
		if !containsPair(next, candidate.Pair) {
			next = append(next, candidate)
			f.logger.Debug().Str("pair", candidate.Pair).Msg("Added simulated trending pair")
		}
	}
	if len(next) > minPairsForRemoval && f.rng.Float64() < 0.3 {
		i := f.rng.Intn(len(next))
		f.logger.Debug().Str("pair", next[i].Pair).Msg("Removed simulated low volume pair")
		next = append(next[:i], next[i+1:]...)
	}

	f.pairs = next
	f.lastUpdate = time.Now()
}

// Query returns up to limit pairs matching filter, best score first; equal scores keep snapshot order
func (f *Feed) Query(filter Filter, limit int) []PairSnapshot {
	f.mu.RLock()
	matched := make([]PairSnapshot, 0, len(f.pairs))
	for _, p := range f.pairs {
		if filter.Matches(p) {
			matched = append(matched, p)
		}
	}
	f.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Score() > matched[j].Score()
	})
	return truncate(matched, limit)
}

// Trending returns the pairs with the largest absolute percent change
func (f *Feed) Trending(limit int) []PairSnapshot {
	pairs := f.Snapshot()
	sort.SliceStable(pairs, func(i, j int) bool {
		return abs(pairs[i].PriceChange) > abs(pairs[j].PriceChange)
	})
	return truncate(pairs, limit)
}

// HighVolume returns the pairs with the largest volume, quote volume first when known
func (f *Feed) HighVolume(limit int) []PairSnapshot {
	pairs := f.Snapshot()
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].rankingVolume() > pairs[j].rankingVolume()
	})
	return truncate(pairs, limit)
}

// Snapshot returns a copy of the current pair list
func (f *Feed) Snapshot() []PairSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]PairSnapshot(nil), f.pairs...)
}

func (f *Feed) LastUpdate() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastUpdate
}

// GetPair returns the latest data for a pair, matched case-insensitively.
// When live it asks the exchange first and falls back to the snapshot on failure.
func (f *Feed) GetPair(ctx context.Context, name string) (PairSnapshot, bool) {
	if f.live() {
		stats, err := f.client.Get24hrStats(ctx, strings.ToUpper(name))
		if err == nil && len(stats) > 0 {
			s := stats[0]
			return PairSnapshot{
				Pair:        s.Symbol,
				Volume:      s.Volume,
				QuoteVolume: s.QuoteVolume,
				PriceChange: s.PriceChangePercent,
				LastPrice:   s.LastPrice,
			}, true
		}
		if err != nil {
			f.logger.Warn().Err(err).Str("pair", name).Msg("Live pair lookup failed, using snapshot")
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.pairs {
		if strings.EqualFold(p.Pair, name) {
			return p, true
		}
	}
	return PairSnapshot{}, false
}

// Price returns the latest positive price of a pair
func (f *Feed) Price(ctx context.Context, name string) (float64, bool) {
	p, ok := f.GetPair(ctx, name)
	if !ok || p.LastPrice <= 0 {
		return 0, false
	}
	return p.LastPrice, true
}

// Run refreshes on the configured interval until ctx is cancelled; after an error it waits twice as long
func (f *Feed) Run(ctx context.Context) {
	f.logger.Info().Msg("Market data feed started")
	defer f.logger.Info().Msg("Market data feed stopped")

	for {
		wait := f.settings.Get().MarketUpdateInterval()
		if wait <= 0 {
			wait = 30 * time.Second
		}
		if err := f.safeRefresh(ctx); err != nil {
			wait *= 2
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// safeRefresh turns a panicking refresh into an error so Run keeps going
func (f *Feed) safeRefresh(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("Market refresh panicked")
			err = fmt.Errorf("market refresh panicked: %v", r)
		}
	}()
	return f.Refresh(ctx)
}

// uniform draws from [lo, hi); caller holds mu
func (f *Feed) uniform(lo, hi float64) float64 {
	return lo + f.rng.Float64()*(hi-lo)
}

func containsPair(pairs []PairSnapshot, name string) bool {
	for _, p := range pairs {
		if p.Pair == name {
			return true
		}
	}
	return false
}

func truncate(pairs []PairSnapshot, limit int) []PairSnapshot {
	if limit > 0 && len(pairs) > limit {
		return pairs[:limit]
	}
	return pairs
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
