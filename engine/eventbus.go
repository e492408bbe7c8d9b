package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type subscriber struct {
	id    SubscriberID
	fn    func(Event)
	types map[EventType]bool
}

func (s subscriber) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus delivers events synchronously to subscribers in registration order.
// A panicking subscriber is logged and does not stop delivery to the others.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID SubscriberID
	log    *zap.SugaredLogger
}

func NewEventBus(log *zap.SugaredLogger) *EventBus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventBus{log: log}
}

// Subscribe registers fn for the given types, or for every type when none are given.
func (eb *EventBus) Subscribe(fn func(Event), types ...EventType) SubscriberID {
	var filter map[EventType]bool
	if len(types) > 0 {
		filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			filter[t] = true
		}
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs = append(eb.subs, subscriber{id: eb.nextID, fn: fn, types: filter})
	return eb.nextID
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribers.
func (eb *EventBus) Len() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	subs := eb.subs
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Errorf("engine: subscriber %d panicked on %s: %v", s.id, evt.Type, r)
		}
	}()
	s.fn(evt)
}
