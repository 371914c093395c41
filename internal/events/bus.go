package events

import (
	"sync"
)

// Handler receives one event.
type Handler func(Event)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(Event)
}

// Bus is an in-process pub/sub keyed by event type name. Handlers registered with
// SubscribeAll see every event; bridges use that to forward off-process.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	inflight sync.WaitGroup
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers ev to each subscriber on its own goroutine. A nil Bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil || ev == nil {
		return
	}
	for _, h := range b.matching(ev) {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			h(ev)
		}(h)
	}
}

// PublishSync delivers ev to each subscriber in registration order before returning.
func (b *Bus) PublishSync(ev Event) {
	if b == nil || ev == nil {
		return
	}
	for _, h := range b.matching(ev) {
		h(ev)
	}
}

// Wait blocks until every handler started by Publish has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}

func (b *Bus) HasSubscribers(eventType string) bool {
	return b.SubscriberCount(eventType) > 0
}

// SubscriberCount includes SubscribeAll handlers.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) + len(b.all)
}

func (b *Bus) matching(ev Event) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	typed := b.handlers[ev.EventType()]
	out := make([]Handler, 0, len(typed)+len(b.all))
	out = append(out, typed...)
	return append(out, b.all...)
}
