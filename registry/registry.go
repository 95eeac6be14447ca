package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Handle is an opaque identifier for a live object. The zero Handle is never live.
type Handle struct {
	id uuid.UUID
}

// NewHandle returns a fresh handle that is not yet registered anywhere.
func NewHandle() Handle {
	return Handle{id: uuid.New()}
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

// String returns the handle's uuid form, suitable for logs and audit records.
func (h Handle) String() string {
	if h.IsZero() {
		return ""
	}
	return h.id.String()
}

// Registry is a concurrency-safe membership set of live handles.
type Registry struct {
	mu   sync.RWMutex
	live map[Handle]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{live: make(map[Handle]struct{})}
}

// Register marks h as live. Registering the zero handle is a no-op.
func (r *Registry) Register(h Handle) {
	if r == nil || h.IsZero() {
		return
	}
	r.mu.Lock()
	r.live[h] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes h. Unregistering an unknown handle is a no-op.
func (r *Registry) Unregister(h Handle) {
	if r == nil || h.IsZero() {
		return
	}
	r.mu.Lock()
	delete(r.live, h)
	r.mu.Unlock()
}

// IsLive reports whether h is currently registered.
func (r *Registry) IsLive(h Handle) bool {
	if r == nil || h.IsZero() {
		return false
	}
	r.mu.RLock()
	_, ok := r.live[h]
	r.mu.RUnlock()
	return ok
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
