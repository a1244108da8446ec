package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"whale-spot-bot/internal/logging"
)

type recordingSender struct {
	name  string
	mu    sync.Mutex
	texts []string
	chats []int64
	err   error
	block time.Duration
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(ctx context.Context, chatID int64, item Item) error {
	if r.block > 0 {
		time.Sleep(r.block)
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, item.Text)
	r.chats = append(r.chats, chatID)
	return nil
}

func (r *recordingSender) delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func testConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.Pause = 0
	cfg.PrimaryTimeout = 50 * time.Millisecond
	cfg.FallbackTimeout = 50 * time.Millisecond
	cfg.AdminIDs = []int64{1}
	return cfg
}

func TestDispatcherPreservesOrderPerProducer(t *testing.T) {
	primary := &recordingSender{name: "primary"}
	d := NewDispatcher(primary, nil, testConfig(), logging.Nop())
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}

	const producers, perProducer = 4, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := d.Enqueue(Item{Text: fmt.Sprintf("%d:%d", p, i)}); err != nil {
					t.Errorf("Enqueue() error = %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got := primary.delivered()
	if len(got) != producers*perProducer {
		t.Fatalf("delivered %d items, want %d", len(got), producers*perProducer)
	}
	next := make([]int, producers)
	for _, text := range got {
		var p, i int
		fmt.Sscanf(text, "%d:%d", &p, &i)
		if i != next[p] {
			t.Fatalf("producer %d: got item %d, want %d", p, i, next[p])
		}
		next[p]++
	}
}

func TestDispatcherFallsBackOnError(t *testing.T) {
	primary := &recordingSender{name: "primary", err: errors.New("boom")}
	fallback := &recordingSender{name: "fallback"}
	d := NewDispatcher(primary, fallback, testConfig(), logging.Nop())

	d.Enqueue(Item{Text: "hello", ChatIDs: []int64{7, 8}})
	d.Start()
	d.Stop(time.Second)

	if got := fallback.delivered(); len(got) != 2 {
		t.Fatalf("fallback delivered %v, want 2 messages", got)
	}
	if fallback.chats[0] != 7 || fallback.chats[1] != 8 {
		t.Errorf("fallback chats = %v", fallback.chats)
	}
	if s := d.Stats(); s.Fallbacks != 2 || s.Sent != 2 || s.Failed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDispatcherFallsBackOnPrimaryTimeout(t *testing.T) {
	primary := &recordingSender{name: "primary", block: 200 * time.Millisecond}
	fallback := &recordingSender{name: "fallback"}
	d := NewDispatcher(primary, fallback, testConfig(), logging.Nop())

	d.Enqueue(Item{Text: "slow"})
	d.Start()
	d.Stop(time.Second)

	if got := fallback.delivered(); len(got) != 1 || got[0] != "slow" {
		t.Errorf("fallback delivered %v", got)
	}
}

func TestDispatcherCountsDroppedMessages(t *testing.T) {
	failing := errors.New("down")
	d := NewDispatcher(&recordingSender{name: "p", err: failing}, &recordingSender{name: "f", err: failing}, testConfig(), logging.Nop())

	d.Enqueue(Item{Text: "lost"})
	d.Start()
	d.Stop(time.Second)

	if s := d.Stats(); s.Failed != 1 || s.Sent != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestStopDrainsQueuedItems(t *testing.T) {
	primary := &recordingSender{name: "primary"}
	d := NewDispatcher(primary, nil, testConfig(), logging.Nop())

	for i := 0; i < 10; i++ {
		d.Enqueue(Item{Text: fmt.Sprint(i)})
	}
	d.Start()
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := primary.delivered(); len(got) != 10 || got[9] != "9" {
		t.Errorf("delivered %v", got)
	}

	if err := d.Enqueue(Item{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue after Stop error = %v, want ErrStopped", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	d.Enqueue(Item{Text: "again"})
	d.Stop(time.Second)
	if got := primary.delivered(); got[len(got)-1] != "again" {
		t.Errorf("restarted dispatcher did not deliver, got %v", got)
	}
}

func TestEnqueueQueueFullAndNoRecipients(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(&recordingSender{name: "p"}, nil, cfg, logging.Nop())

	if err := d.Enqueue(Item{Text: "a"}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	if err := d.Enqueue(Item{Text: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Enqueue() error = %v, want ErrQueueFull", err)
	}

	cfg.AdminIDs = nil
	empty := NewDispatcher(&recordingSender{name: "p"}, nil, cfg, logging.Nop())
	if err := empty.Enqueue(Item{Text: "a"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Enqueue() without recipients error = %v, want ErrNoRecipients", err)
	}
}
