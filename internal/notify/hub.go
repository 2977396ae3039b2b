// Package notify provides keyed publish/subscribe for change notifications.
package notify

import (
	"log/slog"
	"sync"
)

// Subscriber is the receiving half of a ChangeNotifier.
type Subscriber[T any] interface {
	// Subscribe registers fn for values emitted under key. onDrop, if not nil,
	// is called once if the underlying channel goes away. The returned func
	// unregisters the subscription and is safe to call more than once.
	Subscribe(key string, fn func(T), onDrop func(error)) (unsubscribe func())
}

// ChangeNotifier fans values out to subscribers registered under a key.
type ChangeNotifier[T any] interface {
	Subscriber[T]
	Emit(key string, v T)
}

type subscriber[T any] struct {
	id     uint64
	fn     func(T)
	onDrop func(error)
}

// Hub is the in-process ChangeNotifier. Emit delivers synchronously, in
// subscription order, on the caller's goroutine.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber[T]
	nextID uint64
	logger *slog.Logger
}

func NewHub[T any](logger *slog.Logger) *Hub[T] {
	return &Hub[T]{
		subs:   make(map[string][]subscriber[T]),
		logger: logger,
	}
}

func (h *Hub[T]) Subscribe(key string, fn func(T), onDrop func(error)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[key] = append(h.subs[key], subscriber[T]{id: id, fn: fn, onDrop: onDrop})
	h.mu.Unlock()

	h.logger.Debug("subscriber added", slog.String("key", key), slog.Uint64("id", id))

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(key, id) })
	}
}

func (h *Hub[T]) Emit(key string, v T) {
	h.mu.RLock()
	subs := append([]subscriber[T](nil), h.subs[key]...)
	h.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// DropAll notifies every subscriber that its channel is gone and forgets them.
func (h *Hub[T]) DropAll(err error) {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[string][]subscriber[T])
	h.mu.Unlock()

	for key, subs := range all {
		for _, s := range subs {
			if s.onDrop != nil {
				s.onDrop(err)
			}
		}
		h.logger.Warn("subscriptions dropped", slog.String("key", key), slog.Int("count", len(subs)))
	}
}

// Count returns the number of live subscriptions under key.
func (h *Hub[T]) Count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

func (h *Hub[T]) remove(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[key]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subs, key)
		return
	}
	h.subs[key] = subs
}

var _ ChangeNotifier[int] = (*Hub[int])(nil)
