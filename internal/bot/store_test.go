package bot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReserveBusyAndLimit(t *testing.T) {
	s := NewStore(0)

	if err := s.Reserve("SOLBNB", 2); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := s.Reserve("SOLBNB", 2); !errors.Is(err, ErrPairBusy) {
		t.Errorf("second reserve on same pair = %v, want ErrPairBusy", err)
	}
	if err := s.Reserve("FETBNB", 2); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := s.Reserve("XRPBNB", 2); !errors.Is(err, ErrConcurrencyLimit) {
		t.Errorf("third reserve = %v, want ErrConcurrencyLimit", err)
	}

	s.Release("FETBNB")
	if s.HasOpen("FETBNB") {
		t.Error("released pair still busy")
	}
	s.Commit(Trade{ID: "a", Pair: "SOLBNB", OpenedAt: time.Now()})
	if got := s.CountOpen(); got != 1 {
		t.Errorf("CountOpen = %d, want 1", got)
	}
	if !s.HasOpen("SOLBNB") {
		t.Error("committed pair not reported open")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewStore(0)
	if err := s.Open(Trade{ID: "a", Pair: "SOLBNB"}, 3); err != nil {
		t.Fatal(err)
	}

	first, ok := s.Close("a", Closing{ExitPrice: 1, Reason: ReasonManual})
	if !ok || first.Status != StatusClosed {
		t.Fatalf("first close = %+v, %v", first, ok)
	}
	if _, ok := s.Close("a", Closing{ExitPrice: 2, Reason: ReasonStopLoss}); ok {
		t.Error("second close reported success")
	}

	got, _ := s.Get("a")
	if got.ExitPrice != 1 || got.Reason != ReasonManual {
		t.Errorf("closed trade modified: %+v", got)
	}
	if s.HasOpen("SOLBNB") {
		t.Error("pair still busy after close")
	}
}

func TestBeginCloseSingleWinner(t *testing.T) {
	s := NewStore(0)
	s.Open(Trade{ID: "a", Pair: "SOLBNB"}, 3)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.BeginClose("a"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("BeginClose winners = %d, want 1", wins)
	}
}

func TestCompletedNewestFirstAndCapped(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		s.Open(Trade{ID: id, Pair: id}, 0)
		s.Close(id, Closing{})
	}

	got := s.Completed(0)
	if len(got) != 3 {
		t.Fatalf("Completed len = %d, want 3", len(got))
	}
	if got[0].ID != "t4" || got[2].ID != "t2" {
		t.Errorf("Completed order = %s..%s, want t4..t2", got[0].ID, got[2].ID)
	}
	if got := s.Completed(1); len(got) != 1 || got[0].ID != "t4" {
		t.Errorf("Completed(1) = %+v", got)
	}
}

func TestOpenTradesSortedAndCopied(t *testing.T) {
	s := NewStore(0)
	now := time.Now()
	s.Open(Trade{ID: "late", Pair: "A", OpenedAt: now.Add(time.Second)}, 0)
	s.Open(Trade{ID: "early", Pair: "B", OpenedAt: now}, 0)

	open := s.OpenTrades()
	if open[0].ID != "early" || open[1].ID != "late" {
		t.Errorf("order = %s, %s", open[0].ID, open[1].ID)
	}
	open[0].EntryPrice = 99
	if got, _ := s.Get("early"); got.EntryPrice == 99 {
		t.Error("OpenTrades leaked internal state")
	}
}

func TestAbortCloseAllowsRetry(t *testing.T) {
	s := NewStore(0)
	s.Open(Trade{ID: "a", Pair: "SOLBNB"}, 3)

	if _, ok := s.BeginClose("a"); !ok {
		t.Fatal("first BeginClose failed")
	}
	if _, ok := s.BeginClose("a"); ok {
		t.Fatal("second BeginClose won while the first was pending")
	}
	s.AbortClose("a")

	if _, ok := s.BeginClose("a"); !ok {
		t.Fatal("BeginClose failed after AbortClose")
	}
	if _, ok := s.FinishClose("a", Closing{ExitPrice: 1, Reason: ReasonManual}); !ok {
		t.Error("FinishClose failed after retry")
	}
}
