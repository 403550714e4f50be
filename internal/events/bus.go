package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
	EventCycleCompleted  EventType = "CYCLE_COMPLETED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventPositionUpdate  EventType = "POSITION_UPDATE"
	EventSessionRenewed  EventType = "SESSION_RENEWED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventBreakerReset    EventType = "BREAKER_RESET"
	EventEmergencyStop   EventType = "EMERGENCY_STOP"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription is a registered event consumer. Events are delivered on C;
// when the consumer falls behind, the oldest buffered event is dropped so
// publishers never block on a slow WebSocket client.
type Subscription struct {
	C     chan Event
	types map[EventType]bool // nil means all events
}

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	dropped int64
}

// NewEventBus creates a new event bus. bufferSize is the per-subscriber
// channel depth; zero picks a sensible default.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &EventBus{
		subs:   make(map[*Subscription]struct{}),
		buffer: bufferSize,
	}
}

// Subscribe registers a consumer for the given event types. No types means
// all events.
func (eb *EventBus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		C: make(chan Event, eb.buffer),
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	eb.mu.Lock()
	eb.subs[sub] = struct{}{}
	eb.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, ok := eb.subs[sub]; ok {
		delete(eb.subs, sub)
		close(sub.C)
	}
}

// Publish sends an event to all matching subscribers without blocking.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for sub := range eb.subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.C <- event:
		default:
			// Buffer full: drop the oldest event to make room.
			select {
			case <-sub.C:
				atomic.AddInt64(&eb.dropped, 1)
			default:
			}
			select {
			case sub.C <- event:
			default:
				atomic.AddInt64(&eb.dropped, 1)
			}
		}
	}
}

// Dropped returns the total number of events discarded due to backpressure.
func (eb *EventBus) Dropped() int64 {
	return atomic.LoadInt64(&eb.dropped)
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(strategyName, symbol, direction, reason string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"strategy":   strategyName,
			"symbol":     symbol,
			"direction":  direction,
			"confidence": confidence,
			"price":      price,
			"reason":     reason,
		},
	})
}

// PublishSignalRejected publishes a signal rejection with its gate reason
func (eb *EventBus) PublishSignalRejected(symbol, direction, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"reason":    reason,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(symbol, direction, dealID string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"direction":   direction,
			"deal_id":     dealID,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(symbol string, entryPrice, exitPrice, quantity, pnl, fees float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"fees":        fees,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
