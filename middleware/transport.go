package middleware

import (
	"net/http"
	"sync"

	goCred "github.com/MrEthical07/goCred"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// Transport injects the binding's current bearer token into each outbound request.
type Transport struct {
	Binding goCred.AppBinding
	// Base defaults to a pooled go-cleanhttp transport, created once per Transport.
	Base http.RoundTripper

	once sync.Once
	base http.RoundTripper
}

// NewTransport returns a Transport over base, or over a pooled go-cleanhttp transport when
// base is nil.
func NewTransport(binding goCred.AppBinding, base http.RoundTripper) *Transport {
	if base == nil {
		base = cleanhttp.DefaultPooledTransport()
	}
	return &Transport{Binding: binding, Base: base}
}

// NewClient returns an *http.Client whose requests carry the binding's token.
func NewClient(binding goCred.AppBinding) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Transport = NewTransport(binding, client.Transport)
	return client
}

// RoundTrip fails with goCred.ErrUnbound once the engine is torn down and with
// goCred.ErrNotAuthenticated while it holds no token.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Binding.Live() {
		closeBody(req)
		return nil, goCred.ErrUnbound
	}
	inner := &oauth2.Transport{
		Source: t.Binding.TokenSource(),
		Base:   t.baseTransport(),
	}
	return inner.RoundTrip(req)
}

func (t *Transport) baseTransport() http.RoundTripper {
	t.once.Do(func() {
		t.base = t.Base
		if t.base == nil {
			t.base = cleanhttp.DefaultPooledTransport()
		}
	})
	return t.base
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
