// Package runtime tracks in-flight response generations so they can be
// cancelled from another goroutine.
package runtime

import (
	"context"
	"sync"

	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

type handle struct {
	cancel context.CancelFunc
}

// Registry maps a response id to the cancel handle of its running
// generation. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: map[string]*handle{}}
}

// Register stores cancel under id. A handle already registered for id is
// cancelled and replaced. The returned release func removes the handle only
// if it is still the one registered, so a finished run never unregisters its
// replacement.
func (r *Registry) Register(id string, cancel context.CancelFunc) (release func()) {
	h := &handle{cancel: cancel}

	r.mu.Lock()
	prev := r.handles[id]
	r.handles[id] = h
	r.mu.Unlock()

	if prev != nil {
		logging.Logger().Info("replacing active stream", "response_id", id)
		prev.cancel()
	}
	return func() {
		r.mu.Lock()
		if r.handles[id] == h {
			delete(r.handles, id)
		}
		r.mu.Unlock()
	}
}

// Start derives a cancellable context from parent and registers it under id.
func (r *Registry) Start(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	release := r.Register(id, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}

// Stop cancels and removes the handle for id. It reports false when no
// handle was registered.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	h := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if h == nil {
		return false
	}
	h.cancel()
	return true
}

// IsActive reports whether a handle is registered for id.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

// StopAll cancels every registered handle.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = map[string]*handle{}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
}
