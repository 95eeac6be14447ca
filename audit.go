package goCred

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goCred/internal/writebehind"
	"github.com/hashicorp/go-hclog"
)

// Audit event types.
const (
	AuditAuthReady      = "auth.ready"
	AuditAuthError      = "auth.error"
	AuditTeardown       = "auth.teardown"
	AuditSigningStarted = "auth.signing_started"
)

// AuditEvent is one lifecycle record. It never carries token material.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Handle    string            `json:"handle,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Task      string            `json:"task,omitempty"`
	UID       string            `json:"uid,omitempty"`
	Success   bool              `json:"success"`
	Code      int               `json:"code,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives lifecycle records on the engine's audit worker goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel the caller drains.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// auditTrail runs sink deliveries on a write-behind queue so Tick never waits on a sink.
type auditTrail struct {
	sink  AuditSink
	queue *writebehind.Queue
}

func newAuditTrail(cfg AuditConfig, sink AuditSink, logger hclog.Logger) *auditTrail {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	return &auditTrail{
		sink: sink,
		queue: writebehind.New(writebehind.Config{
			BufferSize: cfg.BufferSize,
			DropIfFull: cfg.DropIfFull,
			Logger:     logger,
		}),
	}
}

// emit enqueues event. Without DropIfFull it waits for buffer space.
func (a *auditTrail) emit(event AuditEvent) {
	if a == nil {
		return
	}
	sink := a.sink
	a.queue.Enqueue(context.Background(), writebehind.Job{
		Name: event.EventType,
		Run: func(ctx context.Context) error {
			sink.Emit(ctx, event)
			return nil
		},
	})
}

func (a *auditTrail) dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.queue.Dropped()
}

func (a *auditTrail) close() {
	if a == nil {
		return
	}
	a.queue.Close()
}

func (e *Engine) auditLocked(eventType string, success bool, err error) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: e.clock.Now(),
		EventType: eventType,
		Handle:    e.handle.String(),
		Kind:      e.auth.Credential.Kind.String(),
		Task:      e.auth.Task.String(),
		UID:       e.token.UID,
		Success:   success,
	}
	if err != nil {
		ev.Code = ErrorCode(err)
		ev.Error = errorMessage(err)
	}
	e.audit.emit(ev)
}
