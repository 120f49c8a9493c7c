package adminws

import (
	"sync"
)

type callback[T any] func(T)

// Subscription identifies a single registration made through EventBus.On.
type Subscription struct {
	event any
	id    uint64
}

type listener[V any] struct {
	id uint64
	fn callback[V]
}

// EventBus maps events (of type K) to callbacks receiving values of type V. Callbacks run
// synchronously on the emitting goroutine, in registration order. A panicking callback is
// recovered and logged; the remaining callbacks of the same emission still run.
type EventBus[K comparable, V any] struct {
	listeners map[K][]listener[V]
	nextID    uint64
	logger    Logger
	lock      sync.RWMutex
}

// NewEventBus creates a new EventBus and returns a pointer to it.
func NewEventBus[K comparable, V any](logger Logger) *EventBus[K, V] {
	if logger == nil {
		logger = NopLogger()
	}
	return &EventBus[K, V]{
		listeners: make(map[K][]listener[V]),
		logger:    logger.WithField("type", "event_bus"),
	}
}

// On registers a new listener for the given event.
func (e *EventBus[K, V]) On(event K, fn func(V)) Subscription {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	e.listeners[event] = append(e.listeners[event], listener[V]{id: e.nextID, fn: fn})

	return Subscription{event: event, id: e.nextID}
}

// Off removes the registration identified by sub. Unknown or already removed subscriptions are
// ignored.
func (e *EventBus[K, V]) Off(sub Subscription) {
	event, ok := sub.event.(K)
	if !ok {
		return
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	current := e.listeners[event]
	for i, l := range current {
		if l.id != sub.id {
			continue
		}
		next := make([]listener[V], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = next
		}
		return
	}
}

// Emit triggers all listeners registered for the given event. The listener slice is
// snapshotted first, so callbacks may register or remove listeners while being run.
func (e *EventBus[K, V]) Emit(event K, data V) {
	e.lock.RLock()
	listeners := e.listeners[event]
	e.lock.RUnlock()

	for _, l := range listeners {
		e.invoke(event, l, data)
	}
}

func (e *EventBus[K, V]) invoke(event K, l listener[V], data V) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("listener #%d for %v panicked: %v", l.id, event, r)
		}
	}()

	l.fn(data)
}

// Len returns the number of listeners registered for event.
func (e *EventBus[K, V]) Len(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Close removes all listeners to prevent memory leaks.
func (e *EventBus[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listener[V])
}
