// Package watch provides a thread-safe latest-value cell with change
// notification. It is the engine's reactive surface: the presentation
// layer subscribes to cells instead of holding live references into
// engine state.
package watch

import "sync"

// Value holds the latest value of type T and fans changes out to
// subscribers. Reads return a copy of the stored value; subscribers with
// a full buffer have their stale pending value replaced rather than
// blocking the writer (latest value wins).
type Value[T any] struct {
	mu   sync.RWMutex
	cur  T
	set  bool
	subs map[int]chan T
	next int
}

// NewValue creates a cell seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, set: true, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur
}

// Set stores val and notifies all subscribers without blocking.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	v.set = true
	for _, ch := range v.subs {
		select {
		case ch <- val:
		default:
			// Drop the stale pending value so the latest one lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- val:
			default:
			}
		}
	}
}

// Update applies fn to the current value under the write lock and
// notifies subscribers with the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = fn(v.cur)
	for _, ch := range v.subs {
		select {
		case ch <- v.cur:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v.cur:
			default:
			}
		}
	}
	return v.cur
}

// Subscribe registers a change listener. The returned channel receives
// the current value immediately and every subsequent change; cancel
// deregisters it and closes the channel. Cancel is idempotent.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.set {
		ch <- v.cur
	}
	id := v.next
	v.next++
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
