package goCred

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goCred/internal/writebehind"
	"github.com/MrEthical07/goCred/tokenstore"
)

func (e *Engine) persistEnabled() bool {
	return e.store != nil && e.persist != nil
}

// saveSnapshotLocked queues a write of the current token. The snapshot expires with the
// token.
func (e *Engine) saveSnapshotLocked() {
	if !e.persistEnabled() {
		return
	}
	snap := &tokenstore.Snapshot{
		Kind:          uint8(e.token.Kind),
		Authenticated: e.token.Authenticated,
		AccessToken:   e.token.AccessToken,
		RefreshToken:  e.token.RefreshToken,
		UID:           e.token.UID,
		TokenType:     e.token.TokenType,
		Expire:        e.token.Expire,
		AcquiredAt:    e.token.AcquiredAt.Unix(),
	}
	store, key, ttl := e.store, e.config.Store.Key, e.token.Expire
	e.persist.Enqueue(context.Background(), writebehind.Job{
		Name: "save",
		Run: func(ctx context.Context) error {
			return store.Save(ctx, key, snap, ttl)
		},
	})
}

func (e *Engine) deleteSnapshotLocked() {
	if !e.persistEnabled() {
		return
	}
	store, key := e.store, e.config.Store.Key
	e.persist.Enqueue(context.Background(), writebehind.Job{
		Name: "delete",
		Run: func(ctx context.Context) error {
			return store.Delete(ctx, key)
		},
	})
}

// Restore seeds the token from the store so the first Tick reports Ready without a network
// round trip. Call it after an entry point and before ticking; it blocks on Redis. It reports
// whether a usable snapshot was found.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}

	e.mu.Lock()
	if !e.auth.Initialized || !e.registry.IsLive(e.handle) {
		e.mu.Unlock()
		return false, ErrUnbound
	}
	kind := e.auth.Credential.Kind
	e.mu.Unlock()

	snap, err := e.store.Load(ctx, e.config.Store.Key)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	remaining := snap.Remaining(now)
	if e.state != StateUninitialized || e.processing || e.teardown ||
		CredentialKind(snap.Kind) != kind || !snap.Authenticated || remaining <= 0 ||
		e.auth.Task.management() {
		return false, nil
	}

	e.token = AppToken{
		AccessToken:   snap.AccessToken,
		RefreshToken:  snap.RefreshToken,
		UID:           snap.UID,
		TokenType:     snap.TokenType,
		AcquiredAt:    time.Unix(snap.AcquiredAt, 0),
		Authenticated: true,
		Kind:          kind,
	}
	e.rearmLocked(true, remaining, snap.Expire)
	if snap.RefreshToken != "" {
		e.auth.Credential.RefreshToken = snap.RefreshToken
		e.preferRefreshTaskLocked()
	}
	e.shortCircuit = true
	e.metrics.Inc(MetricStoreRestore)
	e.logger.Debug("token restored", "handle", e.handle.String(), "remaining", remaining)
	return true, nil
}
