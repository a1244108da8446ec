package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"whale-spot-bot/internal/logging"
)

var (
	ErrQueueFull     = errors.New("notification queue full")
	ErrStopped       = errors.New("notification dispatcher stopped")
	ErrNoRecipients  = errors.New("no notification recipients")
	ErrStillDraining = errors.New("previous dispatcher worker still draining")
)

// DispatcherConfig tunes the delivery worker
type DispatcherConfig struct {
	QueueSize       int
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	Pause           time.Duration // Between items
	AdminIDs        []int64
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:       256,
		PrimaryTimeout:  20 * time.Second,
		FallbackTimeout: 15 * time.Second,
		Pause:           250 * time.Millisecond,
	}
}

type queued struct {
	item Item
	stop bool
}

// Dispatcher is a multi-producer, single-consumer FIFO of chat messages.
// Delivery is at most once: primary, then fallback, then the failure is logged.
type Dispatcher struct {
	primary  Sender
	fallback Sender
	cfg      DispatcherConfig
	logger   zerolog.Logger
	queue    chan queued

	mu      sync.RWMutex
	running bool
	stopped bool
	done    chan struct{}

	sent      atomic.Int64
	fallbacks atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher; either sender may be nil
func NewDispatcher(primary, fallback Sender, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger.With().Str("component", "NotificationDispatcher").Logger(),
		queue:    make(chan queued, cfg.QueueSize),
	}
}

// Enqueue adds an item without blocking. Items may be queued before Start.
func (d *Dispatcher) Enqueue(item Item) error {
	if len(item.ChatIDs) == 0 {
		item.ChatIDs = d.cfg.AdminIDs
	}
	if len(item.ChatIDs) == 0 {
		return ErrNoRecipients
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- queued{item: item}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if d.done != nil {
		select {
		case <-d.done:
		default:
			return ErrStillDraining
		}
	}

	d.running = true
	d.stopped = false
	d.done = make(chan struct{})
	go d.run(d.done)

	d.logger.Info().Int("queue_size", d.cfg.QueueSize).Msg("Notification dispatcher started")
	return nil
}

// Stop refuses new items, pushes the sentinel and waits for the queue to drain
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.running {
		d.stopped = true
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.stopped = true
	done := d.done
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.queue <- queued{stop: true}:
	case <-timer.C:
		return fmt.Errorf("%w: sentinel not queued within %s", ErrStillDraining, timeout)
	}

	select {
	case <-done:
		d.logger.Info().Msg("Notification dispatcher stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: not drained within %s", ErrStillDraining, timeout)
	}
}

func (d *Dispatcher) run(done chan struct{}) {
	defer close(done)
	for q := range d.queue {
		if q.stop {
			return
		}
		d.deliver(q.item)
		if d.cfg.Pause > 0 {
			time.Sleep(d.cfg.Pause)
		}
	}
}

func (d *Dispatcher) deliver(item Item) {
	for _, chatID := range item.ChatIDs {
		if d.primary != nil {
			err := d.sendWithin(d.primary, d.cfg.PrimaryTimeout, chatID, item)
			if err == nil {
				d.sent.Add(1)
				continue
			}
			l := logging.NotificationContext(d.logger, d.primary.Name(), chatID)
			l.Warn().Err(err).Msg("Primary delivery failed, using fallback")
		}

		if d.fallback == nil {
			d.failed.Add(1)
			continue
		}
		if err := d.sendWithin(d.fallback, d.cfg.FallbackTimeout, chatID, item); err != nil {
			d.failed.Add(1)
			l := logging.NotificationContext(d.logger, d.fallback.Name(), chatID)
			l.Error().Err(err).Msg("Notification dropped")
			continue
		}
		d.sent.Add(1)
		d.fallbacks.Add(1)
	}
}

// sendWithin bounds the wait even for senders that ignore ctx
func (d *Dispatcher) sendWithin(s Sender, timeout time.Duration, chatID int64, item Item) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Send(ctx, chatID, item) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s send timed out after %s: %w", s.Name(), timeout, ctx.Err())
	}
}

// Stats are delivery counters since process start
type Stats struct {
	Queued    int   `json:"queued"`
	Sent      int64 `json:"sent"`
	Fallbacks int64 `json:"fallbacks"`
	Failed    int64 `json:"failed"`
	Running   bool  `json:"running"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	return Stats{
		Queued:    len(d.queue),
		Sent:      d.sent.Load(),
		Fallbacks: d.fallbacks.Load(),
		Failed:    d.failed.Load(),
		Running:   running,
	}
}
