package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened       EventType = "TRADE_OPENED"
	EventTradeClosed       EventType = "TRADE_CLOSED"
	EventTradeFailed       EventType = "TRADE_FAILED"
	EventWhaleDetected     EventType = "WHALE_DETECTED"
	EventAdviceUpdated     EventType = "ADVICE_UPDATED"
	EventDailyLimitReached EventType = "DAILY_LIMIT_REACHED"
	EventSettingsChanged   EventType = "SETTINGS_CHANGED"
	EventBotStarted        EventType = "BOT_STARTED"
	EventBotStopped        EventType = "BOT_STOPPED"
	EventError             EventType = "ERROR"
)

// KeyChatID routes an event's notification to one chat instead of every admin
const KeyChatID = "chat_id"

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus delivers events synchronously, in publish order, on the publisher's goroutine.
// Subscribers must not block; anything slow belongs behind a queue.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
	onPanic     func(Event, interface{})
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// OnPanic sets a hook called when a subscriber panics; the panic is contained either way
func (eb *EventBus) OnPanic(fn func(Event, interface{})) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.onPanic = fn
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]Subscriber, 0, len(eb.subscribers[event.Type])+len(eb.allSubs))
	subs = append(subs, eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	onPanic := eb.onPanic
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.deliver(sub, event, onPanic)
	}
}

func (eb *EventBus) deliver(sub Subscriber, event Event, onPanic func(Event, interface{})) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(event, r)
		}
	}()
	sub(event)
}

// PublishBotStarted publishes an engine started event
func (eb *EventBus) PublishBotStarted(mode string, live bool) {
	eb.Publish(Event{
		Type: EventBotStarted,
		Data: map[string]interface{}{
			"trading_mode": mode,
			"live":         live,
		},
	})
}

// PublishBotStopped publishes an engine stopped event
func (eb *EventBus) PublishBotStopped(openTrades int) {
	eb.Publish(Event{
		Type: EventBotStopped,
		Data: map[string]interface{}{
			"open_trades": openTrades,
		},
	})
}

// PublishDailyLimitReached publishes a risk limit breach
func (eb *EventBus) PublishDailyLimitReached(reason string, changePercent, limit float64) {
	eb.Publish(Event{
		Type: EventDailyLimitReached,
		Data: map[string]interface{}{
			"reason":         reason,
			"change_percent": changePercent,
			"limit":          limit,
		},
	})
}

// PublishSettingsChanged publishes an operator settings change
func (eb *EventBus) PublishSettingsChanged(option, value string) {
	eb.Publish(Event{
		Type: EventSettingsChanged,
		Data: map[string]interface{}{
			"option": option,
			"value":  value,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
