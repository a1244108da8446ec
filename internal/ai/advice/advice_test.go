package advice

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/binance"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
)

type fakeKlines struct {
	klines []binance.Kline
	err    error
}

func (f *fakeKlines) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error) {
	return f.klines, f.err
}

type fakeModel struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *fakeModel) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, userPrompt)
	return f.response, f.err
}

type countingAdvisor struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (a *countingAdvisor) Advise(ctx context.Context, pair string) (Entry, error) {
	a.calls.Add(1)
	time.Sleep(a.delay)
	if a.err != nil {
		return Entry{}, a.err
	}
	return Entry{TakeProfit: 1.2, StopLoss: 0.8, MaxHoldSecs: 600, Rationale: "steady"}, nil
}

type memStore struct {
	entries map[string]Entry
	saves   int
}

func (m *memStore) Load(ctx context.Context, pair string, dest interface{}) (bool, error) {
	e, ok := m.entries[pair]
	if ok {
		*dest.(*Entry) = e
	}
	return ok, nil
}

func (m *memStore) Save(ctx context.Context, pair string, entry interface{}, ttl time.Duration) error {
	m.entries[pair] = entry.(Entry)
	m.saves++
	return nil
}

func rising(n int) []binance.Kline {
	klines := make([]binance.Kline, n)
	for i := range klines {
		p := 100 + float64(i)
		klines[i] = binance.Kline{Open: p - 0.5, High: p + 1, Low: p - 1, Close: p, Volume: 10}
	}
	return klines
}

func TestParseAdvice(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  bool
		want     Entry
	}{
		{
			name:     "plain",
			response: `{"tp_percentage": 1.2, "sl_percentage": 0.8, "max_trade_time_seconds": 600, "rationale": "ok"}`,
			want:     Entry{Pair: "SOLBNB", TakeProfit: 1.2, StopLoss: 0.8, MaxHoldSecs: 600, Rationale: "ok"},
		},
		{
			name:     "fenced and clamped",
			response: "```json\n{\"tp_percentage\": 25, \"sl_percentage\": 0.01, \"max_trade_time_seconds\": 9000, \"rationale\": \"wild\"}\n```",
			want:     Entry{Pair: "SOLBNB", TakeProfit: 10, StopLoss: 0.1, MaxHoldSecs: 3600, Rationale: "wild"},
		},
		{
			name:     "short hold clamped up",
			response: `{"tp_percentage": 1, "sl_percentage": 1, "max_trade_time_seconds": 5, "rationale": ""}`,
			want:     Entry{Pair: "SOLBNB", TakeProfit: 1, StopLoss: 1, MaxHoldSecs: 60},
		},
		{name: "missing key", response: `{"tp_percentage": 1.2, "sl_percentage": 0.8, "rationale": "x"}`, wantErr: true},
		{name: "float hold", response: `{"tp_percentage": 1.2, "sl_percentage": 0.8, "max_trade_time_seconds": 600.5, "rationale": "x"}`, wantErr: true},
		{name: "string tp", response: `{"tp_percentage": "1.2", "sl_percentage": 0.8, "max_trade_time_seconds": 600, "rationale": "x"}`, wantErr: true},
		{name: "not json", response: "I think you should buy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAdvice("solbnb", tt.response)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedAdvice) {
					t.Fatalf("ParseAdvice() error = %v, want ErrMalformedAdvice", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAdvice() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAdvice() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLLMAdvisorBuildsPromptFromCandles(t *testing.T) {
	model := &fakeModel{response: `{"tp_percentage": 2, "sl_percentage": 1, "max_trade_time_seconds": 900, "rationale": "trend"}`}
	advisor := NewLLMAdvisor(&fakeKlines{klines: rising(100)}, model, logging.Nop())

	e, err := advisor.Advise(context.Background(), "SOLBNB")
	if err != nil {
		t.Fatalf("Advise() error = %v", err)
	}
	if e.TakeProfit != 2 || e.MaxHoldSecs != 900 {
		t.Errorf("entry = %+v", e)
	}

	prompt := model.prompts[0]
	for _, want := range []string{"SOLBNB", "T-1: O=198.5000", "T-5:", "RSI(14): 100.00", "above EMA20"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "T-6:") {
		t.Error("prompt includes more than five candles")
	}
}

func TestLLMAdvisorNeedsTwentyCandles(t *testing.T) {
	model := &fakeModel{}
	advisor := NewLLMAdvisor(&fakeKlines{klines: rising(19)}, model, logging.Nop())

	if _, err := advisor.Advise(context.Background(), "SOLBNB"); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Advise() error = %v, want ErrInsufficientData", err)
	}
	if len(model.prompts) != 0 {
		t.Error("model called without enough data")
	}
}

func TestIndicators(t *testing.T) {
	ind := computeIndicators(rising(20))
	if ind.BBMiddle != 109.5 {
		t.Errorf("BBMiddle = %v, want 109.5", ind.BBMiddle)
	}
	wantSD := math.Sqrt(33.25)
	if math.Abs(ind.BBUpper-(109.5+2*wantSD)) > 1e-9 {
		t.Errorf("BBUpper = %v", ind.BBUpper)
	}
	if ind.EMA20 != 109.5 {
		t.Errorf("EMA20 = %v, want SMA seed 109.5", ind.EMA20)
	}
	if ind.RSI != 100 {
		t.Errorf("RSI = %v, want 100 for a strictly rising series", ind.RSI)
	}
}

func newTestCache(advisor Advisor, store Store, bus *events.EventBus) *Cache {
	return NewCache(advisor, config.NewSettingsStore(config.DefaultTradingSettings()), store, bus, logging.Nop())
}

func TestCacheSingleCallWithinTTL(t *testing.T) {
	advisor := &countingAdvisor{delay: 20 * time.Millisecond}
	c := newTestCache(advisor, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Get(context.Background(), "solbnb"); !ok {
				t.Error("Get() returned no advice")
			}
		}()
	}
	wg.Wait()

	first, _ := c.Get(context.Background(), "SOLBNB")
	second, _ := c.Get(context.Background(), "SOLBNB")
	if first != second {
		t.Errorf("entries differ within TTL: %+v vs %+v", first, second)
	}
	if n := advisor.calls.Load(); n != 1 {
		t.Errorf("advisor called %d times, want 1", n)
	}
}

func TestCacheRefreshesAfterExpiry(t *testing.T) {
	advisor := &countingAdvisor{}
	c := newTestCache(advisor, nil, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Get(context.Background(), "SOLBNB")
	now = now.Add(299 * time.Second)
	c.Get(context.Background(), "SOLBNB")
	if n := advisor.calls.Load(); n != 1 {
		t.Fatalf("advisor called %d times before expiry, want 1", n)
	}

	now = now.Add(time.Second)
	e, ok := c.Get(context.Background(), "SOLBNB")
	if !ok || !e.CachedAt.Equal(now) {
		t.Errorf("Get() = %+v, %v", e, ok)
	}
	if n := advisor.calls.Load(); n != 2 {
		t.Errorf("advisor called %d times after expiry, want 2", n)
	}
}

func TestCacheFailureReturnsNoAdvice(t *testing.T) {
	advisor := &countingAdvisor{err: ErrMalformedAdvice}
	c := newTestCache(advisor, nil, nil)

	if _, ok := c.Get(context.Background(), "SOLBNB"); ok {
		t.Error("Get() returned advice after advisor failure")
	}
	if _, ok := c.Peek("SOLBNB"); ok {
		t.Error("failure cached an entry")
	}
}

func TestCachePairsAreIndependent(t *testing.T) {
	advisor := &countingAdvisor{}
	c := newTestCache(advisor, nil, nil)

	c.Get(context.Background(), "SOLBNB")
	c.Get(context.Background(), "FETBNB")
	if n := advisor.calls.Load(); n != 2 {
		t.Errorf("advisor called %d times, want one per pair", n)
	}
}

func TestCacheUsesSharedStore(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{entries: map[string]Entry{
		"SOLBNB": {Pair: "SOLBNB", TakeProfit: 3, StopLoss: 2, MaxHoldSecs: 120, CachedAt: now.Add(-time.Minute)},
	}}
	advisor := &countingAdvisor{}
	bus := events.NewEventBus()
	var updates int
	bus.Subscribe(events.EventAdviceUpdated, func(events.Event) { updates++ })

	c := newTestCache(advisor, store, bus)
	c.now = func() time.Time { return now }

	e, ok := c.Get(context.Background(), "SOLBNB")
	if !ok || e.TakeProfit != 3 {
		t.Fatalf("Get() = %+v, %v, want shared entry", e, ok)
	}
	if advisor.calls.Load() != 0 || updates != 0 {
		t.Errorf("calls=%d updates=%d, want shared hit only", advisor.calls.Load(), updates)
	}

	c.Get(context.Background(), "FETBNB")
	if store.saves != 1 || updates != 1 {
		t.Errorf("saves=%d updates=%d after fresh advice, want 1/1", store.saves, updates)
	}
}
