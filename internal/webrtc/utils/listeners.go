package utils

import "sync"

type listener[T any] struct {
	id      uint64
	handler func(T)
}

// Listeners is an ordered set of handlers. Add returns a disposer that
// removes the handler, calling it more than once is harmless.
type Listeners[T any] struct {
	lock    sync.Mutex
	nextID  uint64
	entries []listener[T]
}

func (l *Listeners[T]) Add(handler func(T)) (dispose func()) {
	l.lock.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listener[T]{id: id, handler: handler})
	l.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Listeners[T]) remove(id uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, entry := range l.entries {
		if entry.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

// Emit calls every handler registered at the time of the call, outside the lock.
func (l *Listeners[T]) Emit(value T) {
	l.lock.Lock()
	entries := make([]listener[T], len(l.entries))
	copy(entries, l.entries)
	l.lock.Unlock()

	for _, entry := range entries {
		entry.handler(value)
	}
}

func (l *Listeners[T]) Clear() {
	l.lock.Lock()
	l.entries = nil
	l.lock.Unlock()
}

func (l *Listeners[T]) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.entries)
}
