package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrModelClosed is returned by Acquire after Close.
var ErrModelClosed = errors.New("pipeline: model handle closed")

// ModelHandle lazily loads a shared resource once per process and hands it
// out to concurrent callers. Acquire/Release bracket each use; Close waits
// for outstanding leases before unloading.
type ModelHandle[T any] struct {
	load   func(ctx context.Context) (T, error)
	unload func(T) error

	mu     sync.Mutex
	cond   *sync.Cond
	model  T
	loaded bool
	leases int
	closed bool
}

// NewModelHandle returns a handle that calls load on first Acquire. unload
// may be nil.
func NewModelHandle[T any](load func(ctx context.Context) (T, error), unload func(T) error) *ModelHandle[T] {
	h := &ModelHandle[T]{load: load, unload: unload}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Acquire returns the loaded model, loading it if needed. A failed load is
// not cached; the next Acquire retries.
func (h *ModelHandle[T]) Acquire(ctx context.Context) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	if h.closed {
		return zero, ErrModelClosed
	}
	if !h.loaded {
		m, err := h.load(ctx)
		if err != nil {
			return zero, err
		}
		h.model, h.loaded = m, true
	}
	h.leases++
	return h.model, nil
}

// Release ends one lease obtained from Acquire.
func (h *ModelHandle[T]) Release() {
	h.mu.Lock()
	if h.leases > 0 {
		h.leases--
	}
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Loaded reports whether the model is currently resident.
func (h *ModelHandle[T]) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Close blocks until every lease is released, then unloads the model.
func (h *ModelHandle[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for h.leases > 0 {
		h.cond.Wait()
	}
	if !h.loaded {
		return nil
	}
	h.loaded = false
	if h.unload != nil {
		return h.unload(h.model)
	}
	return nil
}
