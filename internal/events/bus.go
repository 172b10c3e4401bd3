package events

import (
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/autochess-scout/internal/logging"
)

// subscription represents a single event subscription
type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// Bus is a bounded pub/sub event queue. Publish never blocks the producer:
// when the queue is full the oldest queued event is discarded to make room.
// A single processor goroutine dispatches events to handlers in publication
// order, one handler at a time, so subscribers observe a consistent
// sequence.
type Bus struct {
	subscribers map[EventType][]subscription
	mu          sync.RWMutex

	queue  []Event
	qmu    sync.Mutex
	signal chan struct{}
	cap    int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool

	dropped   atomic.Uint64
	nextSubID SubscriptionID
	log       *logging.Logger
}

// NewBus creates a bus holding at most bufferSize queued events
func NewBus(bufferSize int, log *logging.Logger) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	bus := &Bus{
		subscribers: make(map[EventType][]subscription),
		queue:       make([]Event, 0, bufferSize),
		signal:      make(chan struct{}, 1),
		cap:         bufferSize,
		stopCh:      make(chan struct{}),
		nextSubID:   1,
		log:         log,
	}

	bus.wg.Add(1)
	go bus.processEvents()
	return bus
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	subID := b.nextSubID
	b.nextSubID++
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{
		id:      subID,
		handler: handler,
	})
	return subID
}

// SubscribeAll registers a handler for every event type currently defined
func (b *Bus) SubscribeAll(handler EventHandler) []SubscriptionID {
	types := []EventType{
		EventTypeStateChanged,
		EventTypeHeartbeat,
		EventTypePipelineStarted,
		EventTypePipelineStopped,
		EventTypeNoGameDetected,
		EventTypeOCRUnavailable,
		EventTypeSourceExhausted,
		EventTypeError,
	}
	ids := make([]SubscriptionID, 0, len(types))
	for _, t := range types {
		ids = append(ids, b.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes a subscription by ID
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues an event without ever blocking. When the queue is at
// capacity the oldest event is dropped and counted.
func (b *Bus) Publish(event Event) {
	if b.stopped.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.qmu.Lock()
	if len(b.queue) >= b.cap {
		dropped := b.queue[0]
		b.queue = b.queue[1:]
		b.dropped.Add(1)
		if b.log != nil {
			b.log.DebugWithContext("event queue full, dropped oldest", map[string]interface{}{
				"dropped_type": string(dropped.Type),
			})
		}
	}
	b.queue = append(b.queue, event)
	b.qmu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Dropped reports how many events were discarded due to a full queue
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// QueueLen reports the current number of queued events
func (b *Bus) QueueLen() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

// Stop drains remaining events and shuts the bus down. Publish calls after
// Stop are ignored.
func (b *Bus) Stop() {
	if b.stopped.Swap(true) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

// processEvents dispatches queued events in order until stopped
func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case <-b.signal:
			b.drain()
		case <-b.stopCh:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		b.qmu.Lock()
		if len(b.queue) == 0 {
			b.qmu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.dispatch(event)
	}
}

// dispatch sends an event to all registered handlers, in registration order,
// synchronously so ordering is preserved across events
func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.Type]
	handlers := make([]EventHandler, len(subs))
	for i, sub := range subs {
		handlers[i] = sub.handler
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeHandlerCall(handler, event)
	}
}

// safeHandlerCall calls a handler with panic recovery
func (b *Bus) safeHandlerCall(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.ErrorWithContext("event handler panicked", nil, map[string]interface{}{
				"event_type": string(event.Type),
				"panic":      r,
			})
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}
