// Package observable provides the value holder that presentation layers watch for changes.
package observable

import "sync"

// Handler receives every value written to a Resource.
type Handler[T any] func(value T)

// Resource holds a possibly-absent T and notifies subscribers on every write.
// Subscribers run synchronously on the writer's goroutine, one write at a time, so they
// observe values in exactly the order they were written. A handler must not call Set on
// the Resource that is notifying it.
type Resource[T any] struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	value    T
	set      bool
	nextID   int
	handlers map[int]Handler[T]
}

// New returns an empty holder.
func New[T any]() *Resource[T] {
	return &Resource[T]{handlers: make(map[int]Handler[T])}
}

// Get returns the current value and whether one has been written yet.
func (r *Resource[T]) Get() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.set
}

// Set stores v and notifies every subscriber.
func (r *Resource[T]) Set(v T) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	r.value = v
	r.set = true
	handlers := make([]Handler[T], 0, len(r.handlers))
	for i := 0; i < r.nextID; i++ {
		if h, ok := r.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Subscribe registers h and returns a function that removes it.
func (r *Resource[T]) Subscribe(h Handler[T]) (unsubscribe func()) {
	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[int]Handler[T])
	}
	id := r.nextID
	r.nextID++
	r.handlers[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (r *Resource[T]) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
