package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrSlotsExhausted is returned by CreateSlot when MaxSlots slots are open.
	ErrSlotsExhausted = errors.New("transport slots exhausted")
	// ErrUnknownSlot is returned for slot IDs that were never created or were reclaimed.
	ErrUnknownSlot = errors.New("unknown transport slot")
	// ErrSlotInUse is returned by Submit when the slot already carries a request.
	ErrSlotInUse = errors.New("transport slot already in use")
)

// CorrelationHeader carries the per-request correlation ID.
const CorrelationHeader = "X-Correlation-ID"

// SlotID identifies one request/response exchange.
type SlotID uint32

// SlotOptions tunes a single slot.
type SlotOptions struct {
	// Timeout bounds the whole exchange. Zero means no transport-level deadline.
	Timeout time.Duration
}

// Request is one outbound HTTP exchange.
type Request struct {
	Host          string
	Path          string
	Query         string
	Method        string
	Header        http.Header
	Body          []byte
	CorrelationID string
}

// Response is the visible progress of a slot's exchange.
type Response struct {
	Status          int
	HeadersComplete bool
	BodyLen         int
	Body            []byte
	Done            bool
	Err             error
	Latency         time.Duration
}

// Options configures an HTTPClient.
type Options struct {
	MaxSlots     int
	RetryMax     int
	MaxBodyBytes int64

	// Resolve maps a host to the base URL requests are sent to. Defaults to "https://"+host.
	Resolve func(host string) string

	HTTPClient *http.Client
	Logger     hclog.Logger
}

type slot struct {
	opts     SlotOptions
	cancel   context.CancelFunc
	pending  Response
	visible  Response
	used     bool
	inFlight bool
	closed   bool
}

// HTTPClient is the default asynchronous transport. It is safe for concurrent use.
type HTTPClient struct {
	opts   Options
	client *retryablehttp.Client

	mu    sync.Mutex
	slots map[SlotID]*slot
	next  SlotID
	wg    sync.WaitGroup
}

// NewHTTPClient returns a client with pooled connections from go-cleanhttp.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.MaxSlots <= 0 {
		opts.MaxSlots = 4
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if opts.Resolve == nil {
		opts.Resolve = func(host string) string { return "https://" + host }
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = cleanhttp.DefaultPooledClient()
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = opts.HTTPClient
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = opts.Logger.Named("transport")
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		opts:   opts,
		client: rc,
		slots:  make(map[SlotID]*slot),
	}
}

// CreateSlot allocates a slot for one exchange.
func (c *HTTPClient) CreateSlot(opts SlotOptions) (SlotID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.slots) >= c.opts.MaxSlots {
		return 0, ErrSlotsExhausted
	}
	c.next++
	id := c.next
	c.slots[id] = &slot{opts: opts}
	return id, nil
}

// Submit starts req on slot in the background.
func (c *HTTPClient) Submit(id SlotID, req Request) error {
	c.mu.Lock()
	s, ok := c.slots[id]
	if !ok || s.closed {
		c.mu.Unlock()
		return ErrUnknownSlot
	}
	if s.used {
		c.mu.Unlock()
		return ErrSlotInUse
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		cancel()
		c.mu.Unlock()
		return err
	}

	s.used = true
	s.inFlight = true
	s.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(id, httpReq)
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, req Request) (*retryablehttp.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	url := strings.TrimRight(c.opts.Resolve(req.Host), "/") + req.Path
	if req.Query != "" {
		url += "?" + req.Query
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	httpReq.Header.Set(CorrelationHeader, correlationID)
	return httpReq, nil
}

func (c *HTTPClient) run(id SlotID, req *retryablehttp.Request) {
	defer c.wg.Done()
	started := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.finish(id, Response{Err: err, Done: true, Latency: time.Since(started)})
		return
	}
	defer resp.Body.Close()

	c.update(id, Response{Status: resp.StatusCode, HeadersComplete: true})

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	c.finish(id, Response{
		Status:          resp.StatusCode,
		HeadersComplete: true,
		BodyLen:         len(body),
		Body:            body,
		Done:            true,
		Err:             err,
		Latency:         time.Since(started),
	})
}

func (c *HTTPClient) update(id SlotID, r Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[id]; ok {
		s.pending = r
	}
}

func (c *HTTPClient) finish(id SlotID, r Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[id]; ok {
		s.pending = r
		s.inFlight = false
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// Poll publishes worker progress so Response can observe it. With async false it first waits
// for every in-flight exchange to finish.
func (c *HTTPClient) Poll(async bool) {
	if !async {
		c.wg.Wait()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if !s.closed {
			s.visible = s.pending
		}
	}
}

// Response returns the last published progress of slot.
func (c *HTTPClient) Response(id SlotID) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok || s.closed {
		return Response{}, false
	}
	return s.visible, true
}

// Close cancels slot's exchange and releases it once the worker exits.
func (c *HTTPClient) Close(id SlotID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	if !s.inFlight {
		delete(c.slots, id)
	}
}

// ReclaimFinished frees closed slots whose workers have exited.
func (c *HTTPClient) ReclaimFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.slots {
		if s.closed && !s.inFlight {
			delete(c.slots, id)
		}
	}
}

// OpenSlots returns the number of slots not yet reclaimed.
func (c *HTTPClient) OpenSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
