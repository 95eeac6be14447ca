package registry

import (
	"sync"
	"testing"
)

func TestRegisterUnregisterIsLive(t *testing.T) {
	r := New()
	h := NewHandle()

	if r.IsLive(h) {
		t.Fatal("expected unregistered handle to be dead")
	}
	r.Register(h)
	if !r.IsLive(h) {
		t.Fatal("expected registered handle to be live")
	}
	r.Unregister(h)
	if r.IsLive(h) {
		t.Fatal("expected unregistered handle to be dead")
	}
	r.Unregister(h)
}

func TestZeroHandleNeverLive(t *testing.T) {
	r := New()
	var h Handle
	r.Register(h)
	if r.IsLive(h) {
		t.Fatal("zero handle must never be live")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestHandlesAreUnique(t *testing.T) {
	r := New()
	a := NewHandle()
	b := NewHandle()
	if a == b {
		t.Fatal("expected distinct handles")
	}
	r.Register(a)
	if r.IsLive(b) {
		t.Fatal("registering one handle must not make another live")
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	h := NewHandle()
	r.Register(h)
	r.Unregister(h)
	if r.IsLive(h) {
		t.Fatal("nil registry must report nothing live")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New()
	const workers = 16

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h := NewHandle()
				r.Register(h)
				if !r.IsLive(h) {
					t.Error("expected handle live after register")
				}
				r.Unregister(h)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry after churn, got %d", r.Len())
	}
}
