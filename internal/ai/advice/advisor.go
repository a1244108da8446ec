// Package advice produces per-pair exit parameters from an advisory LLM and caches them.
package advice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/internal/ai/llm"
	"whale-spot-bot/internal/binance"
)

var (
	ErrNoAdvice         = errors.New("no advice available")
	ErrInsufficientData = errors.New("not enough candles for indicators")
	ErrMalformedAdvice  = errors.New("malformed advice")
)

const (
	klineInterval  = "15m"
	klineLimit     = 100
	minKlines      = 20
	promptCandles  = 5
	minPercent     = 0.1
	maxPercent     = 10.0
	minHoldSeconds = 60
	maxHoldSeconds = 3600
)

// Entry is one pair's advised exit parameters. Entries are replaced whole, never patched.
type Entry struct {
	Pair        string    `json:"pair"`
	TakeProfit  float64   `json:"tp_percentage"`
	StopLoss    float64   `json:"sl_percentage"`
	MaxHoldSecs int       `json:"max_trade_time_seconds"`
	Rationale   string    `json:"rationale"`
	CachedAt    time.Time `json:"cached_at"`
}

func (e Entry) MaxHold() time.Duration {
	return time.Duration(e.MaxHoldSecs) * time.Second
}

// Advisor produces fresh advice for a pair
type Advisor interface {
	Advise(ctx context.Context, pair string) (Entry, error)
}

// KlineSource is the part of the exchange client the advisor reads
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Completer is one prompt/response round trip with a model
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var _ Completer = (*llm.Client)(nil)

// LLMAdvisor builds a market summary from 15m candles and asks the model for exit parameters
type LLMAdvisor struct {
	klines KlineSource
	model  Completer
	logger zerolog.Logger
}

func NewLLMAdvisor(klines KlineSource, model Completer, logger zerolog.Logger) *LLMAdvisor {
	return &LLMAdvisor{
		klines: klines,
		model:  model,
		logger: logger.With().Str("component", "LLMAdvisor").Logger(),
	}
}

func (a *LLMAdvisor) Advise(ctx context.Context, pair string) (Entry, error) {
	klines, err := a.klines.GetKlines(ctx, pair, klineInterval, klineLimit)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get klines for %s: %w", pair, err)
	}
	if len(klines) < minKlines {
		return Entry{}, fmt.Errorf("%w: %d candles for %s", ErrInsufficientData, len(klines), pair)
	}

	prompt := buildPrompt(pair, klines, computeIndicators(klines))
	a.logger.Debug().Str("pair", pair).Int("candles", len(klines)).Msg("Requesting trade advice")

	response, err := a.model.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return Entry{}, fmt.Errorf("advisory call failed for %s: %w", pair, err)
	}

	entry, err := ParseAdvice(pair, response)
	if err != nil {
		a.logger.Warn().Err(err).Str("pair", pair).Str("response", truncate(response, 300)).Msg("Rejected advice response")
		return Entry{}, err
	}
	return entry, nil
}

const systemPrompt = "You are a cryptocurrency trading analyst who sizes exits for short spot scalps. Reply with JSON only."

func buildPrompt(pair string, klines []binance.Kline, ind Indicators) string {
	price := klines[len(klines)-1].Close

	var b strings.Builder
	fmt.Fprintf(&b, "Suggest exit parameters for a short-term spot trade on %s.\n\n", pair)
	fmt.Fprintf(&b, "Current price: %.6f\n", price)
	b.WriteString("Latest 15m candles (T-1 is the most recent):\n")
	for i := 1; i <= promptCandles && i <= len(klines); i++ {
		k := klines[len(klines)-i]
		fmt.Fprintf(&b, "  T-%d: O=%.4f H=%.4f L=%.4f C=%.4f V=%.2f\n", i, k.Open, k.High, k.Low, k.Close, k.Volume)
	}

	position := "at"
	if price > ind.EMA20 {
		position = "above"
	} else if price < ind.EMA20 {
		position = "below"
	}
	b.WriteString("Indicators:\n")
	fmt.Fprintf(&b, "  RSI(14): %.2f, price %s EMA20 (%.4f)\n", ind.RSI, position, ind.EMA20)
	fmt.Fprintf(&b, "  Bollinger(20,2): lower=%.4f middle=%.4f upper=%.4f width=%.2f%%\n",
		ind.BBLower, ind.BBMiddle, ind.BBUpper, ind.BBWidth)

	b.WriteString(`
Answer with:
- take profit as a percent from entry, between 0.3 and 5
- stop loss as a percent from entry, between 0.3 and 5, usually not wider than the take profit
- maximum holding time in whole seconds, between 60 and 1800
- a one or two sentence rationale

Respond with this JSON object and nothing else:
{"tp_percentage": 1.2, "sl_percentage": 0.8, "max_trade_time_seconds": 600, "rationale": "..."}
`)
	return b.String()
}

// ParseAdvice validates a model response and clamps it into safe bounds
func ParseAdvice(pair, response string) (Entry, error) {
	cleaned := llm.StripMarkdownCodeBlock(response)

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedAdvice, err)
	}

	for _, key := range []string{"tp_percentage", "sl_percentage", "max_trade_time_seconds", "rationale"} {
		if _, ok := raw[key]; !ok {
			return Entry{}, fmt.Errorf("%w: missing %s", ErrMalformedAdvice, key)
		}
	}

	tp, ok := numberValue(raw["tp_percentage"])
	if !ok {
		return Entry{}, fmt.Errorf("%w: tp_percentage is not a number", ErrMalformedAdvice)
	}
	sl, ok := numberValue(raw["sl_percentage"])
	if !ok {
		return Entry{}, fmt.Errorf("%w: sl_percentage is not a number", ErrMalformedAdvice)
	}
	n, ok := raw["max_trade_time_seconds"].(json.Number)
	if !ok {
		return Entry{}, fmt.Errorf("%w: max_trade_time_seconds is not an integer", ErrMalformedAdvice)
	}
	hold, err := n.Int64()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: max_trade_time_seconds is not an integer", ErrMalformedAdvice)
	}
	rationale, _ := raw["rationale"].(string)

	return Entry{
		Pair:        strings.ToUpper(pair),
		TakeProfit:  clamp(tp, minPercent, maxPercent),
		StopLoss:    clamp(sl, minPercent, maxPercent),
		MaxHoldSecs: int(clamp(float64(hold), minHoldSeconds, maxHoldSeconds)),
		Rationale:   rationale,
	}, nil
}

func numberValue(v interface{}) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
