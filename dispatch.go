package goCred

import (
	"sync"

	"github.com/MrEthical07/goCred/registry"
)

// Result is a caller-owned event sink. While a live Result is attached, events go to it and
// not to the callback.
type Result struct {
	handle   registry.Handle
	registry *registry.Registry

	mu    sync.Mutex
	event Event
	ok    bool
	count uint64
}

// Event returns the most recent event written to r.
func (r *Result) Event() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.event, r.ok
}

// Count returns how many events r has received.
func (r *Result) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Live reports whether r still receives events.
func (r *Result) Live() bool {
	return r != nil && r.registry.IsLive(r.handle)
}

// Release detaches r. Later events go to the callback, if one is set.
func (r *Result) Release() {
	if r == nil {
		return
	}
	r.registry.Unregister(r.handle)
}

func (r *Result) write(ev Event) {
	r.mu.Lock()
	r.event = ev
	r.ok = true
	r.count++
	r.mu.Unlock()
}

// NewResult attaches a new caller-owned sink, replacing any previous one.
func (e *Engine) NewResult() *Result {
	r := &Result{
		handle:   registry.NewHandle(),
		registry: e.registry,
	}
	e.registry.Register(r.handle)

	e.mu.Lock()
	prev := e.result
	e.result = r
	e.mu.Unlock()

	prev.Release()
	return r
}

// SetCallback registers fn to receive events while no live Result is attached. fn runs on
// the goroutine calling Tick, after the engine's lock is released, so it may call readers.
func (e *Engine) SetCallback(fn func(*Event)) {
	e.mu.Lock()
	e.callback = fn
	e.mu.Unlock()
}

// emitLocked records ev and queues it for delivery once the lock is released. Ready and
// Error also end the in-progress flow.
func (e *Engine) emitLocked(ev Event) {
	ev.At = e.clock.Now()
	if ev.State == StateReady || ev.State == StateError {
		e.processing = false
		e.closeSlotLocked()
	}
	e.lastEvent = ev
	e.hasEvent = true
	e.outbox = append(e.outbox, ev)
}

// deliver hands queued events to exactly one sink each. Must be called without e.mu held.
func (e *Engine) deliver() {
	e.mu.Lock()
	events := e.outbox
	e.outbox = nil
	result := e.result
	callback := e.callback
	e.mu.Unlock()

	for i := range events {
		if result.Live() {
			result.write(events[i])
			continue
		}
		if callback != nil {
			ev := events[i]
			callback(&ev)
		}
	}
}
