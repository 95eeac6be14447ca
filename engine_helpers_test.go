package goCred

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/timer"
	"github.com/MrEthical07/goCred/transport"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSlot struct {
	resp   transport.Response
	closed bool
}

// fakeTransport is a scripted Transport. Responses become visible as soon as the test sets
// them; Poll is a no-op.
type fakeTransport struct {
	mu        sync.Mutex
	slots     map[transport.SlotID]*fakeSlot
	next      transport.SlotID
	current   transport.SlotID
	requests  []transport.Request
	createErr error
	submitErr error
	closes    int
	maxOpen   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{slots: make(map[transport.SlotID]*fakeSlot)}
}

func (f *fakeTransport) openLocked() int {
	n := 0
	for _, s := range f.slots {
		if !s.closed {
			n++
		}
	}
	return n
}

func (f *fakeTransport) CreateSlot(transport.SlotOptions) (transport.SlotID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.next++
	f.slots[f.next] = &fakeSlot{}
	f.current = f.next
	if n := f.openLocked(); n > f.maxOpen {
		f.maxOpen = n
	}
	return f.next, nil
}

func (f *fakeTransport) Submit(id transport.SlotID, req transport.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	if _, ok := f.slots[id]; !ok {
		return transport.ErrUnknownSlot
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeTransport) Poll(bool) {}

func (f *fakeTransport) ReclaimFinished() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.slots {
		if s.closed {
			delete(f.slots, id)
		}
	}
}

func (f *fakeTransport) Close(id transport.SlotID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[id]; ok {
		s.closed = true
		f.closes++
	}
}

func (f *fakeTransport) Response(id transport.SlotID) (transport.Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok || s.closed {
		return transport.Response{}, false
	}
	return s.resp, true
}

// respond completes the most recently created slot with status and body.
func (f *fakeTransport) respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[f.current]; ok {
		s.resp = transport.Response{
			Status:          status,
			HeadersComplete: true,
			BodyLen:         len(body),
			Body:            []byte(body),
			Done:            true,
			Latency:         80 * time.Millisecond,
		}
	}
}

// fail completes the most recently created slot with a transport error.
func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.slots[f.current]; ok {
		s.resp = transport.Response{Err: err, Done: true}
	}
}

func (f *fakeTransport) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) lastRequest(t *testing.T) transport.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("expected a submitted request")
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeTransport) open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLocked()
}

// fakeSigner is a synchronous AssertionSigner the test completes by hand.
type fakeSigner struct {
	mu        sync.Mutex
	clock     timer.Clock
	busyFor   int
	beginErr  error
	begins    int
	accepted  int
	ready     bool
	token     string
	err       error
	startedAt time.Time
	lastReq   jwt.Request
}

func (s *fakeSigner) Begin(req jwt.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.beginErr != nil {
		return s.beginErr
	}
	if s.busyFor > 0 {
		s.busyFor--
		return jwt.ErrBusy
	}
	s.accepted++
	s.lastReq = req
	s.ready = false
	s.token = ""
	s.err = nil
	s.startedAt = s.clock.Now()
	return nil
}

func (s *fakeSigner) finish(token string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.err = err
	s.ready = err == nil
}

func (s *fakeSigner) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSigner) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSigner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSigner) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *fakeSigner) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.token = ""
	s.err = nil
	s.startedAt = time.Time{}
}

func (s *fakeSigner) counts() (begins, accepted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.accepted
}

type testEngine struct {
	*Engine
	tr     *fakeTransport
	signer *fakeSigner
	clock  *timer.ManualClock
}

// newTestEngine builds an engine on a manual clock, scripted transport and fake signer.
// ReadySettle is zero unless mutate sets it.
func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()
	return buildTestEngine(t, timer.NewManualClock(testEpoch), nil, mutate)
}

func buildTestEngine(t testing.TB, clock *timer.ManualClock, rdb redis.UniversalClient, mutate func(*Config)) *testEngine {
	t.Helper()

	tr := newFakeTransport()
	signer := &fakeSigner{clock: clock}

	cfg := DefaultConfig()
	cfg.APIKey = "K"
	cfg.Timers.ReadySettle = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithClock(clock).
		WithTransport(tr).
		WithSigner(signer)
	if rdb != nil {
		b = b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	return &testEngine{Engine: engine, tr: tr, signer: signer, clock: clock}
}

// tickUntilSubmitted ticks until a new request has been submitted.
func (te *testEngine) tickUntilSubmitted(t *testing.T) {
	t.Helper()
	before := te.tr.submitted()
	for i := 0; i < 10; i++ {
		if out := te.Tick(); out == TickError {
			t.Fatalf("unexpected error before submit: %v", te.LastError())
		}
		if te.tr.submitted() > before {
			return
		}
	}
	t.Fatalf("no request submitted; state %s", te.State())
}

// tickUntil ticks until Tick reports want, failing after limit ticks.
func (te *testEngine) tickUntil(t *testing.T, want TickOutcome, limit int) {
	t.Helper()
	var out TickOutcome
	for i := 0; i < limit; i++ {
		out = te.Tick()
		if out == want {
			return
		}
	}
	t.Fatalf("expected %s within %d ticks, last %s in state %s (err %v)", want, limit, out, te.State(), te.LastError())
}

// acquire submits, answers with status and body, and ticks to a final outcome.
func (te *testEngine) acquire(t *testing.T, status int, body string, want TickOutcome) {
	t.Helper()
	te.tickUntilSubmitted(t)
	te.tr.respond(status, body)
	te.tickUntil(t, want, 5)
}

func decodeBody(t *testing.T, req transport.Request) map[string]string {
	t.Helper()
	out := map[string]string{}
	if err := json.Unmarshal(req.Body, &out); err != nil {
		t.Fatalf("decode request body %q: %v", req.Body, err)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev *Event) {
	l.mu.Lock()
	l.events = append(l.events, *ev)
	l.mu.Unlock()
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

var errFakeSigner = errors.New("fake signer failure")

const (
	passwordSignInResp = `{"idToken":"T1","refreshToken":"R1","expiresIn":"3600","localId":"U1"}`
	accessTokenResp    = `{"access_token":"A2","expires_in":"3599","token_type":"Bearer"}`
	secureTokenResp    = `{"id_token":"T3","refresh_token":"R3","expires_in":"3600","user_id":"U3"}`
)
