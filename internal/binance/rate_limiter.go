package binance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimited is returned while the exchange has banned this IP
var ErrRateLimited = errors.New("rate limited by exchange")

// Request weights of the spot endpoints this client uses
var endpointWeights = map[string]int{
	"/api/v3/account":         20,
	"/api/v3/order":           1,
	"/api/v3/klines":          2,
	"/api/v3/ticker/price":    2,
	"/api/v3/ticker/24hr":     2,
	"/api/v3/ticker/24hr:all": 80,
	"/api/v3/exchangeInfo":    20,
}

// RateLimiter keeps request weight under the per-minute budget and opens a circuit after a ban
type RateLimiter struct {
	mu sync.Mutex

	currentWeight int
	weightResetAt time.Time
	maxWeight     int

	circuitOpen       bool
	banUntil          time.Time
	consecutiveErrors int

	logger zerolog.Logger
}

// NewRateLimiter creates a limiter with a conservative share of the 6000/min spot budget
func NewRateLimiter(logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		maxWeight:     4800,
		weightResetAt: time.Now().Add(time.Minute),
		logger:        logger.With().Str("component", "rate-limiter").Logger(),
	}
}

// Acquire blocks until the endpoint's weight fits the current window.
// It fails fast while a ban is active.
func (r *RateLimiter) Acquire(ctx context.Context, endpoint string) error {
	weight := getEndpointWeight(endpoint)
	for {
		r.mu.Lock()
		now := time.Now()
		if r.circuitOpen {
			if now.Before(r.banUntil) {
				until := r.banUntil
				r.mu.Unlock()
				return fmt.Errorf("%w until %s", ErrRateLimited, until.Format("15:04:05"))
			}
			r.circuitOpen = false
		}
		if now.After(r.weightResetAt) {
			r.currentWeight = 0
			r.weightResetAt = now.Add(time.Minute)
		}
		if r.currentWeight+weight <= r.maxWeight {
			r.currentWeight += weight
			r.mu.Unlock()
			return nil
		}
		wait := time.Until(r.weightResetAt)
		r.mu.Unlock()

		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RecordRequest resets the error streak after a successful call
func (r *RateLimiter) RecordRequest(endpoint string) {
	r.mu.Lock()
	r.consecutiveErrors = 0
	r.mu.Unlock()
}

// RecordRateLimitError opens the circuit until banUntilMs, or with exponential backoff when unknown
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	var banUntil time.Time
	if banUntilMs > 0 {
		banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Minute
		if backoff > 30*time.Minute {
			backoff = 30 * time.Minute
		}
		banUntil = time.Now().Add(backoff)
	}
	r.circuitOpen = true
	r.banUntil = banUntil

	r.logger.Warn().
		Time("ban_until", banUntil).
		Int("consecutive_errors", r.consecutiveErrors).
		Msg("Circuit breaker open")
}

func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.circuitOpen && time.Now().Before(r.banUntil)
}

// Usage returns the weight used in the current window
func (r *RateLimiter) Usage() (used, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentWeight, r.maxWeight
}

func getEndpointWeight(endpoint string) int {
	if weight, ok := endpointWeights[endpoint]; ok {
		return weight
	}
	return 1
}

var banUntilPattern = regexp.MustCompile(`banned until (\d+)`)

// ParseBanUntilFromError extracts the ban timestamp from "banned until 1766824120342"
func ParseBanUntilFromError(errMsg string) int64 {
	m := banUntilPattern.FindStringSubmatch(errMsg)
	if len(m) != 2 {
		return 0
	}
	banUntil, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	// Sanity check: a millisecond timestamp in the next day
	now := time.Now()
	if banUntil > now.UnixMilli() && banUntil < now.Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}
