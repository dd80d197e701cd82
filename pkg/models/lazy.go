package models

import (
	"context"
	"sync"
)

// Lazy holds a model handle that is loaded on first use.
//
// Concurrent first calls block on a single load. A failed load is not cached;
// the next Get tries again.
type Lazy[T any] struct {
	mu     sync.Mutex
	load   func(context.Context) (T, error)
	value  T
	loaded bool
}

// NewLazy returns a handle that calls load on first use.
func NewLazy[T any](load func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{load: load}
}

// Get returns the loaded value, loading it if needed.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.value, nil
	}
	v, err := l.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = v
	l.loaded = true
	return v, nil
}

// Loaded reports whether the value has been loaded.
func (l *Lazy[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}
