package goCred

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goCred/jwt"
	"github.com/cenkalti/backoff/v4"
)

// guards are evaluated once per Tick, before any transition.
type guards struct {
	bound          bool
	busy           bool
	teardown       bool
	restart        bool
	signingStalled bool
	signingDiagDue bool
	coolingDown    bool
}

func (e *Engine) evalGuardsLocked() guards {
	now := e.clock.Now()
	g := guards{
		bound: e.auth.Initialized && e.registry.IsLive(e.handle),
		busy:  e.busy.Load(),
	}
	g.teardown = e.teardown && e.state == StateUninitialized && e.auth.Initialized
	g.restart = e.restartDueLocked()
	g.signingStalled = e.state == StateTokenSigning &&
		e.auth.SigningStartedAt.IsZero() &&
		e.signAttempted
	if g.signingStalled {
		g.signingDiagDue = e.signingDiagAt.IsZero() ||
			now.Sub(e.signingDiagAt) >= e.config.Timers.SigningDiagInterval
	}
	g.coolingDown = e.state == StateUninitialized && e.backoffTimer.Remaining() > 0
	return g
}

// restartDueLocked reports whether a settled Ready or a cooled-down Error should start a new
// acquisition.
func (e *Engine) restartDueLocked() bool {
	if e.processing || e.teardown || !e.restartable() {
		return false
	}
	switch e.state {
	case StateReady:
		if e.settleTimer.Remaining() > 0 {
			return false
		}
		return e.refreshTimer.Running() && e.refreshTimer.Remaining() == 0
	case StateError:
		return !e.terminal && e.backoffTimer.Remaining() == 0
	default:
		return false
	}
}

// restartable is false for credentials that are used as given and for one-shot tasks.
func (e *Engine) restartable() bool {
	if e.auth.Task.management() {
		return false
	}
	switch e.auth.Credential.Kind {
	case KindStaticLegacyToken, KindNoToken, KindStaticIDToken, KindUserIDToken:
		return false
	default:
		return true
	}
}

// Tick advances the state machine by at most one transition or one request submission. It
// never blocks and never fails; failures are reported through events and TickError. After
// Close every Tick is a no-op returning TickPending.
func (e *Engine) Tick() TickOutcome {
	e.mu.Lock()
	out := e.tickLocked()
	e.mu.Unlock()

	e.deliver()
	return out
}

func (e *Engine) tickLocked() TickOutcome {
	if e.closed {
		return TickPending
	}
	g := e.evalGuardsLocked()

	// 1. unbound
	if !g.bound {
		return TickPending
	}
	// 2. bulk transfer in flight
	if g.busy {
		e.metrics.Inc(MetricBusyDeferral)
		return TickPending
	}
	// 3. teardown
	if g.teardown {
		e.teardownLocked()
		return TickPending
	}
	// 4. expiry or cooled-down error
	if g.restart {
		e.preferRefreshTaskLocked()
		e.logger.Debug("restarting acquisition",
			"handle", e.handle.String(),
			"from", e.state.String(),
			"task", e.auth.Task.String(),
		)
		e.transitionLocked(StateUninitialized)
		return e.outcomeLocked()
	}
	// 5. signer has not accepted the assertion yet
	if g.signingStalled {
		if !g.signingDiagDue {
			return TickPending
		}
		e.signingDiagAt = e.clock.Now()
		e.logger.Warn("assertion signing not started, retrying",
			"handle", e.handle.String(),
			"kind", e.auth.Credential.Kind.String(),
		)
	}
	// 6. cooling down after an error
	if g.coolingDown {
		return TickPending
	}

	e.stepLocked()
	return e.outcomeLocked()
}

func (e *Engine) outcomeLocked() TickOutcome {
	switch e.state {
	case StateReady:
		if e.settleTimer.Remaining() > 0 {
			return TickPending
		}
		e.onReadyLocked()
		return TickReady
	case StateError:
		return TickError
	default:
		return TickPending
	}
}

func (e *Engine) stepLocked() {
	switch e.state {
	case StateUninitialized:
		e.onUninitializedLocked()
	case StateInitializing:
		e.onInitializingLocked()
	case StateTokenSigning:
		e.onTokenSigningLocked()
	case StateAuthenticating:
		e.onAuthenticatingLocked()
	case StateRequestSent, StateResponseReceived:
		e.onAwaitingResponseLocked()
	case StateReady:
		e.onReadyLocked()
	case StateError:
		// Terminal until an entry point rebinds, or guard 4 restarts it.
	}
}

func (e *Engine) onUninitializedLocked() {
	if e.shortCircuit {
		e.shortCircuit = false
		e.policy.Reset()
		e.transitionLocked(StateReady)
		return
	}
	e.transitionLocked(StateInitializing)
}

// onInitializingLocked clears the previous token, keeping what the next request needs.
func (e *Engine) onInitializingLocked() {
	if e.token.RefreshToken != "" && e.auth.Credential.RefreshToken == "" {
		e.auth.Credential.RefreshToken = e.token.RefreshToken
	}
	e.token = AppToken{Kind: e.auth.Credential.Kind}
	e.refreshTimer.Stop()

	if !e.auth.Signing {
		e.transitionLocked(StateAuthenticating)
		return
	}

	e.signer.Clear()
	e.auth.SigningStartedAt = time.Time{}
	e.signAttempted = false
	e.signingDiagAt = time.Time{}
	e.transitionLocked(StateTokenSigning)
	if e.state == StateTokenSigning {
		e.beginSigningLocked()
	}
}

func (e *Engine) signingRequestLocked() jwt.Request {
	cred := e.auth.Credential
	now := e.clock.Now()
	if cred.Kind == KindServiceAccountCustom {
		return jwt.CustomTokenRequest(cred.ServiceAccount, now, cred.Expire)
	}
	return jwt.AccessRequest(cred.ServiceAccount, now, cred.Expire)
}

func (e *Engine) beginSigningLocked() {
	e.signAttempted = true
	err := e.signer.Begin(e.signingRequestLocked())
	switch {
	case err == nil:
		started := e.signer.StartedAt()
		if started.IsZero() {
			started = e.clock.Now()
		}
		e.auth.SigningStartedAt = started
		e.metrics.Inc(MetricSigningStarted)
		e.auditLocked(AuditSigningStarted, true, nil)
	case errors.Is(err, jwt.ErrBusy):
		// Retried from guard 5 on the diagnostic interval.
	default:
		e.metrics.Inc(MetricSigningFailure)
		e.failLocked(fmt.Errorf("%w: %v", ErrSigningFailed, err))
	}
}

func (e *Engine) onTokenSigningLocked() {
	if e.auth.SigningStartedAt.IsZero() {
		e.beginSigningLocked()
		return
	}
	if err := e.signer.Err(); err != nil {
		e.metrics.Inc(MetricSigningFailure)
		e.failLocked(fmt.Errorf("%w: %v", ErrSigningFailed, err))
		return
	}
	if e.signer.Ready() {
		e.transitionLocked(StateAuthenticating)
	}
}

func (e *Engine) onAuthenticatingLocked() {
	req, err := e.buildRequestLocked()
	if e.auth.Signing {
		e.signer.Clear()
	}
	if err != nil {
		e.failLocked(err)
		return
	}

	slot, err := e.transport.CreateSlot(slotOptions(e.config.Timers.RequestTimeout))
	if err != nil {
		e.metrics.Inc(MetricSlotExhausted)
		e.failLocked(fmt.Errorf("%w: %v", ErrSlotExhausted, err))
		return
	}
	e.slot = slot
	e.slotOpen = true

	if err := e.transport.Submit(slot, req); err != nil {
		e.metrics.Inc(MetricTransportFailure)
		e.failLocked(fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}

	e.metrics.Inc(MetricAuthAttempt)
	e.submittedAt = e.clock.Now()
	e.requestTimer.Feed(e.config.Timers.RequestTimeout)
	e.requestTimer.Start()
	e.logger.Debug("auth request submitted",
		"handle", e.handle.String(),
		"host", req.Host,
		"path", req.Path,
		"task", e.auth.Task.String(),
	)
	e.transitionLocked(StateRequestSent)
}

func (e *Engine) onAwaitingResponseLocked() {
	resp, ok := e.transport.Response(e.slot)
	if !ok {
		e.metrics.Inc(MetricTransportFailure)
		e.failLocked(fmt.Errorf("%w: %v", ErrTransport, errSlotLost))
		return
	}

	if resp.Err != nil {
		if isDeadline(resp.Err) {
			e.metrics.Inc(MetricTimeout)
			e.failLocked(fmt.Errorf("%w: %v", ErrTimeout, resp.Err))
			return
		}
		e.metrics.Inc(MetricTransportFailure)
		e.failLocked(fmt.Errorf("%w: %v", ErrTransport, resp.Err))
		return
	}

	if !resp.Done {
		if e.requestTimer.Remaining() == 0 {
			e.metrics.Inc(MetricTimeout)
			e.failLocked(ErrTimeout)
			return
		}
		if e.state == StateRequestSent && resp.BodyLen > 0 {
			e.transitionLocked(StateResponseReceived)
		}
		return
	}

	if e.state == StateRequestSent && resp.BodyLen > 0 {
		e.transitionLocked(StateResponseReceived)
		return
	}

	e.requestTimer.Stop()
	e.metrics.Observe(MetricRequestLatency, e.clock.Now().Sub(e.submittedAt))
	e.completeLocked(resp.Status, resp.Body)
}

func (e *Engine) onReadyLocked() {
	if e.announced || e.settleTimer.Remaining() > 0 {
		return
	}
	e.announced = true
	e.auditLocked(AuditAuthReady, true, nil)
	e.emitLocked(Event{State: StateReady})
}

// failLocked enters Error and arms the cool-down. Credential errors and one-shot tasks are
// not retried; neither is anything once the retry policy stops.
func (e *Engine) failLocked(err error) {
	e.closeSlotLocked()
	e.requestTimer.Stop()
	e.refreshTimer.Stop()
	e.settleTimer.Stop()
	if e.auth.Signing {
		e.signer.Clear()
		e.auth.SigningStartedAt = time.Time{}
	}
	e.signAttempted = false
	e.noMargin = false
	e.token.Authenticated = false

	e.state = StateError
	e.lastErr = err
	e.metrics.Inc(MetricAuthFailure)

	switch {
	case e.auth.Task.management(), errors.Is(err, ErrInvalidCredential):
		e.terminal = true
	default:
		d := e.policy.NextBackOff()
		if d == backoff.Stop {
			e.terminal = true
			e.metrics.Inc(MetricRetryExhausted)
		} else {
			e.backoffTimer.Feed(d)
			e.backoffTimer.Start()
		}
	}

	code := ErrorCode(err)
	e.logger.Warn("auth failed",
		"handle", e.handle.String(),
		"kind", e.auth.Credential.Kind.String(),
		"task", e.auth.Task.String(),
		"code", code,
		"error", err,
		"terminal", e.terminal,
	)
	e.auditLocked(AuditAuthError, false, err)
	e.emitLocked(Event{State: StateError, Code: code, Message: errorMessage(err), Err: err})
}

// teardownLocked releases everything the binding held. The engine is unbound afterwards.
func (e *Engine) teardownLocked() {
	e.closeSlotLocked()
	e.stopTimersLocked()
	e.signer.Clear()
	e.deleteSnapshotLocked()
	e.auditLocked(AuditTeardown, true, nil)

	e.token = AppToken{}
	e.auth = AuthData{}
	e.teardown = false
	e.processing = false
	e.shortCircuit = false
	e.registry.Unregister(e.handle)
	e.metrics.Inc(MetricTeardown)
	e.logger.Debug("app torn down", "handle", e.handle.String())
	e.emitLocked(Event{State: StateUninitialized})
}
