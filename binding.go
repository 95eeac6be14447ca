package goCred

import (
	"sync/atomic"

	"github.com/MrEthical07/goCred/registry"
	"golang.org/x/oauth2"
)

// AppBinding is what downstream API modules hold on to. Every token read re-validates the
// engine's handle, so a binding that outlives its engine fails closed with ErrUnbound.
type AppBinding struct {
	EngineHandle registry.Handle
	Registry     *registry.Registry
	// Busy must be set around bulk uploads and downloads; the engine defers while it is.
	Busy *atomic.Bool

	engine *Engine
}

// Binding returns the downstream view of e.
func (e *Engine) Binding() AppBinding {
	return AppBinding{
		EngineHandle: e.handle,
		Registry:     e.registry,
		Busy:         &e.busy,
		engine:       e,
	}
}

// Live reports whether the bound engine is still initialized.
func (b AppBinding) Live() bool {
	return b.engine != nil && b.Registry.IsLive(b.EngineHandle)
}

// Token returns the current bearer token.
func (b AppBinding) Token() (AppToken, error) {
	if !b.Live() {
		return AppToken{}, ErrUnbound
	}
	tok := b.engine.AppToken()
	if !tok.Authenticated || tok.AccessToken == "" {
		return AppToken{}, ErrNotAuthenticated
	}
	return tok, nil
}

// SetBusy flags or clears a bulk transfer.
func (b AppBinding) SetBusy(busy bool) {
	if b.Busy != nil {
		b.Busy.Store(busy)
	}
}

// TokenSource adapts the binding to golang.org/x/oauth2.
func (b AppBinding) TokenSource() oauth2.TokenSource {
	return bindingTokenSource{binding: b}
}

// TokenSource is e.Binding().TokenSource().
func (e *Engine) TokenSource() oauth2.TokenSource {
	return e.Binding().TokenSource()
}

type bindingTokenSource struct {
	binding AppBinding
}

// Token never triggers acquisition; it reports what the engine currently holds. Refreshing
// stays the host loop's job.
func (s bindingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.binding.Token()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.ExpiresAt(),
	}, nil
}
