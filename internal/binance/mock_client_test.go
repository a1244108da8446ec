package binance

import (
	"context"
	"errors"
	"math/rand"
	"testing"
)

func TestMockClientOrderFillsAtCurrentPrice(t *testing.T) {
	mc := NewMockClientWithRand(rand.New(rand.NewSource(1)))
	mc.SetPrice("BNBUSDT", 310.0)

	res, err := mc.PlaceMarketOrder(context.Background(), "BNBUSDT", SideBuy, 0.5)
	if err != nil {
		t.Fatalf("PlaceMarketOrder() error = %v", err)
	}
	if res.Status != OrderStatusFilled {
		t.Errorf("Status = %s, want FILLED", res.Status)
	}
	price, qty := res.AverageFill()
	if price != 310.0 || qty != 0.5 {
		t.Errorf("AverageFill() = %v, %v; want 310, 0.5", price, qty)
	}
}

func TestMockClientOrderError(t *testing.T) {
	mc := NewMockClientWithRand(rand.New(rand.NewSource(1)))
	mc.SetOrderError(ErrOrderRejected)

	if _, err := mc.PlaceMarketOrder(context.Background(), "BNBUSDT", SideSell, 1); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("error = %v, want ErrOrderRejected", err)
	}
}

func TestMockClientUnknownSymbol(t *testing.T) {
	mc := NewMockClientWithRand(rand.New(rand.NewSource(1)))
	if _, err := mc.GetTickerPrice(context.Background(), "NOPE"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("error = %v, want ErrUnknownSymbol", err)
	}
}

func TestMockClientKlinesEndAtCurrentPrice(t *testing.T) {
	mc := NewMockClientWithRand(rand.New(rand.NewSource(7)))
	mc.SetPrice("SOLBNB", 0.3)

	klines, err := mc.GetKlines(context.Background(), "SOLBNB", "15m", 100)
	if err != nil {
		t.Fatalf("GetKlines() error = %v", err)
	}
	if len(klines) != 100 {
		t.Fatalf("len = %d, want 100", len(klines))
	}
	if klines[99].Close != 0.3 {
		t.Errorf("last close = %v, want 0.3", klines[99].Close)
	}
	for i := 1; i < len(klines); i++ {
		if klines[i].OpenTime <= klines[i-1].OpenTime {
			t.Fatalf("klines not ordered at %d", i)
		}
		if klines[i].High < klines[i].Low {
			t.Fatalf("high below low at %d", i)
		}
	}
}

func TestMockClientBalancesAreCopies(t *testing.T) {
	mc := NewMockClientWithRand(rand.New(rand.NewSource(1)))
	balances, _ := mc.GetAccountBalances(context.Background())
	balances["BNB"] = Balance{Asset: "BNB", Free: 99}

	again, _ := mc.GetAccountBalances(context.Background())
	if again["BNB"].Free != 1.0 {
		t.Errorf("BNB free = %v, want 1.0", again["BNB"].Free)
	}
}
