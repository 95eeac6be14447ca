package writebehind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueueRunsJobsInOrder(t *testing.T) {
	q := New(Config{BufferSize: 8})

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"save", "save", "delete"} {
		name := name
		if !q.Enqueue(context.Background(), Job{Name: name, Run: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}) {
			t.Fatalf("enqueue %s rejected", name)
		}
	}
	q.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[2] != "delete" {
		t.Fatalf("unexpected execution order %v", order)
	}
	if q.Completed() != 3 {
		t.Fatalf("expected 3 completed jobs, got %d", q.Completed())
	}
}

func TestQueueDropIfFull(t *testing.T) {
	q := New(Config{BufferSize: 1, DropIfFull: true})
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(context.Background(), Job{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	if !q.Enqueue(context.Background(), Job{Name: "buffered", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("expected buffered job to be accepted")
	}
	if q.Enqueue(context.Background(), Job{Name: "overflow", Run: func(context.Context) error { return nil }}) {
		t.Fatalf("expected overflow job to be dropped")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped job, got %d", q.Dropped())
	}
	close(release)
}

func TestQueueCountsFailuresAndAppliesTimeout(t *testing.T) {
	q := New(Config{BufferSize: 2, Timeout: 10 * time.Millisecond})

	q.Enqueue(context.Background(), Job{Name: "fail", Run: func(context.Context) error {
		return errors.New("boom")
	}})
	q.Enqueue(context.Background(), Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	q.Close()

	if q.Failed() != 2 {
		t.Fatalf("expected 2 failed jobs, got %d", q.Failed())
	}
}

func TestQueueRejectsAfterCloseAndIsNilSafe(t *testing.T) {
	q := New(Config{})
	q.Close()
	q.Close()
	if q.Enqueue(context.Background(), Job{Name: "late"}) {
		t.Fatalf("expected enqueue after close to be rejected")
	}

	var nilQueue *Queue
	if nilQueue.Enqueue(context.Background(), Job{}) {
		t.Fatalf("expected nil queue to reject jobs")
	}
	nilQueue.Close()
	if nilQueue.Dropped() != 0 || nilQueue.Failed() != 0 {
		t.Fatalf("expected zero counters on nil queue")
	}
}
