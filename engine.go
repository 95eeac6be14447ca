package goCred

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goCred/internal/writebehind"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/registry"
	"github.com/MrEthical07/goCred/timer"
	"github.com/MrEthical07/goCred/tokenstore"
	"github.com/MrEthical07/goCred/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Transport is the asynchronous network client the engine submits requests through. The
// host must call Poll from its loop for responses to become visible.
type Transport interface {
	CreateSlot(opts transport.SlotOptions) (transport.SlotID, error)
	Submit(id transport.SlotID, req transport.Request) error
	Poll(async bool)
	ReclaimFinished()
	Close(id transport.SlotID)
	Response(id transport.SlotID) (transport.Response, bool)
}

// AssertionSigner signs service-account assertions in the background.
type AssertionSigner interface {
	Begin(req jwt.Request) error
	Ready() bool
	Token() string
	Err() error
	StartedAt() time.Time
	Clear()
}

// Engine is the token lifecycle state machine for one app. All methods are safe for
// concurrent use; Tick is meant to be called from a single host loop.
type Engine struct {
	config    Config
	logger    hclog.Logger
	clock     timer.Clock
	transport Transport
	signer    AssertionSigner
	registry  *registry.Registry
	handle    registry.Handle
	metrics   *Metrics
	audit     *auditTrail
	store     *tokenstore.Store
	persist   *writebehind.Queue
	policy    backoff.BackOff

	busy atomic.Bool

	mu     sync.Mutex
	closed bool

	state State
	auth  AuthData
	token AppToken

	refreshTimer *timer.Timer
	backoffTimer *timer.Timer
	requestTimer *timer.Timer
	settleTimer  *timer.Timer

	slot     transport.SlotID
	slotOpen bool

	// processing is set while an acquisition is between Uninitialized and Ready/Error.
	processing    bool
	teardown      bool
	shortCircuit  bool
	terminal      bool
	announced     bool
	noMargin      bool
	signAttempted bool
	signingDiagAt time.Time
	submittedAt   time.Time

	lastEvent Event
	hasEvent  bool
	lastErr   error

	result   *Result
	callback func(*Event)
	outbox   []Event
}

// Handle returns the engine's liveness handle.
func (e *Engine) Handle() registry.Handle {
	return e.handle
}

// Registry returns the liveness registry the engine registers in.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Transport returns the transport the host must poll.
func (e *Engine) Transport() Transport {
	return e.transport
}

// Metrics returns the engine's metrics, which may be disabled.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot is a convenience for e.Metrics().Snapshot().
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// InitializeApp binds the engine to cred. Credentials that already carry a usable token are
// authenticated immediately; everything else is acquired by subsequent ticks.
func (e *Engine) InitializeApp(cred Credential) error {
	task := TaskUndefined
	switch cred.Kind {
	case KindAccessToken:
		if cred.Token == "" {
			task = TaskRefreshToken
		}
	case KindCustomToken:
		if cred.Token == "" && cred.RefreshToken != "" {
			task = TaskRefreshToken
		}
	}
	return e.bind(cred, task, false)
}

// SignUp creates an account. Empty email and password sign up anonymously.
func (e *Engine) SignUp(email, password string) error {
	anonymous := email == "" && password == ""
	return e.bind(UserPassword(email, password), TaskSignUp, anonymous)
}

// ResetPassword sends a password-reset email.
func (e *Engine) ResetPassword(email string) error {
	return e.bind(UserPassword(email, ""), TaskResetPassword, false)
}

// SendVerifyEmail sends an email-verification message for the user of idToken.
func (e *Engine) SendVerifyEmail(idToken string) error {
	return e.bind(UserIDToken(idToken, 0), TaskSendVerifyEmail, false)
}

// DeleteUser deletes the user of idToken.
func (e *Engine) DeleteUser(idToken string) error {
	return e.bind(UserIDToken(idToken, 0), TaskDeleteUser, false)
}

// bind normalizes cred into AuthData and arms the initial state.
func (e *Engine) bind(cred Credential, task TaskKind, anonymous bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	e.closeSlotLocked()
	e.signer.Clear()
	e.stopTimersLocked()
	e.policy.Reset()

	e.auth = AuthData{
		Credential:  cred,
		Task:        task,
		Initialized: true,
		Anonymous:   anonymous,
		Signing:     cred.Kind.needsSigning(),
	}
	e.token = AppToken{Kind: cred.Kind}
	e.state = StateUninitialized
	e.processing = false
	e.teardown = false
	e.terminal = false
	e.announced = false
	e.noMargin = false
	e.signAttempted = false
	e.signingDiagAt = time.Time{}
	e.lastErr = nil
	e.shortCircuit = e.applyShortCircuitLocked()

	e.registry.Register(e.handle)

	e.logger.Debug("app bound",
		"handle", e.handle.String(),
		"kind", cred.Kind.String(),
		"task", task.String(),
		"short_circuit", e.shortCircuit,
	)
	return nil
}

// applyShortCircuitLocked seeds the token for credentials that need no network round trip.
func (e *Engine) applyShortCircuitLocked() bool {
	cred := e.auth.Credential
	if e.auth.Task.management() {
		return false
	}

	switch cred.Kind {
	case KindStaticLegacyToken:
		e.token.AccessToken = cred.Token
		e.token.Authenticated = cred.Token != ""
		e.rearmLocked(false, e.config.Timers.DefaultTTL, 0)
		return true
	case KindNoToken:
		e.rearmLocked(false, e.config.Timers.DefaultTTL, 0)
		return true
	case KindStaticIDToken, KindUserIDToken:
		e.token.AccessToken = cred.Token
		e.token.TokenType = "Bearer"
		e.token.Authenticated = cred.Token != ""
		e.token.AcquiredAt = e.clock.Now()
		e.rearmLocked(cred.Token != "", e.lifetime(cred.Expire), 0)
		return true
	case KindAccessToken, KindCustomToken:
		if cred.Token == "" {
			return false
		}
		if cred.Kind == KindCustomToken && !cred.session {
			return false
		}
		e.token.AccessToken = cred.Token
		e.token.RefreshToken = cred.RefreshToken
		e.token.TokenType = "Bearer"
		e.token.Authenticated = true
		e.token.AcquiredAt = e.clock.Now()
		e.rearmLocked(true, e.lifetime(cred.Expire), 0)
		if cred.RefreshToken != "" {
			e.auth.Task = TaskRefreshToken
		}
		return true
	default:
		return false
	}
}

func (e *Engine) lifetime(expire time.Duration) time.Duration {
	if expire > 0 {
		return expire
	}
	return e.config.Timers.DefaultTTL
}

// DeinitializeApp marks the engine for teardown. The next Tick closes any open request,
// clears the token, and unregisters the engine; later ticks are no-ops.
func (e *Engine) DeinitializeApp() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.auth.Initialized || !e.registry.IsLive(e.handle) {
		return ErrUnbound
	}
	e.teardown = true
	e.state = StateUninitialized
	return nil
}

// Refresh forces an immediate re-acquisition. The resulting token gets no expiry margin.
// It is a no-op while an acquisition is already in progress and for static credentials.
func (e *Engine) Refresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if !e.auth.Initialized || !e.registry.IsLive(e.handle) {
		return ErrUnbound
	}
	if e.processing || e.teardown || e.auth.Credential.Kind.static() || e.auth.Task.management() {
		return nil
	}

	e.noMargin = true
	e.terminal = false
	e.shortCircuit = false
	e.backoffTimer.Stop()
	e.refreshTimer.Stop()
	e.preferRefreshTaskLocked()
	e.transitionLocked(StateUninitialized)
	return nil
}

// preferRefreshTaskLocked switches token-exchanging kinds to the refresh grant once a refresh
// token is known.
func (e *Engine) preferRefreshTaskLocked() {
	switch e.auth.Credential.Kind {
	case KindAccessToken:
		e.auth.Task = TaskRefreshToken
	case KindCustomToken:
		if e.auth.Credential.RefreshToken != "" {
			e.auth.Task = TaskRefreshToken
		}
	}
}

// Close stops background workers. Pending persistence jobs are drained first. Close reports
// persistence failures and dropped audit events observed over the engine's lifetime.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.closeSlotLocked()
	e.mu.Unlock()

	e.persist.Close()
	e.audit.close()

	var result *multierror.Error
	if n := e.persist.Failed(); n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d token store writes failed", n))
	}
	if n := e.persist.Dropped(); n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d token store writes dropped", n))
	}
	if n := e.audit.dropped(); n > 0 {
		result = multierror.Append(result, fmt.Errorf("%d audit events dropped", n))
	}
	return result.ErrorOrNil()
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.dropped()
}

// StoreWriteFailures returns token store writes that failed or were dropped.
func (e *Engine) StoreWriteFailures() uint64 {
	return e.persist.Failed() + e.persist.Dropped()
}

/*
====================================
READERS
====================================
*/

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AuthData returns a copy of the normalized credential and task.
func (e *Engine) AuthData() AuthData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth
}

// AppToken returns a copy of the current token record.
func (e *Engine) AppToken() AppToken {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// Status is a consistent view of the engine's lifecycle, read under a single lock.
type Status struct {
	State         State
	Kind          CredentialKind
	Task          TaskKind
	Bound         bool
	Authenticated bool
	Busy          bool
	// TTL is the time left before the token is refreshed; zero when no timer runs.
	TTL time.Duration
}

// Status returns the engine's current lifecycle state for monitoring.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	bound := e.auth.Initialized && e.registry.IsLive(e.handle)
	return Status{
		State:         e.state,
		Kind:          e.auth.Credential.Kind,
		Task:          e.auth.Task,
		Bound:         bound,
		Authenticated: bound && e.token.Authenticated,
		Busy:          e.busy.Load(),
		TTL:           e.refreshTimer.Remaining(),
	}
}

// IsAuthenticated reports whether the engine holds a credential the provider accepted.
func (e *Engine) IsAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.IsLive(e.handle) && e.token.Authenticated
}

// IsExpired reports whether the current token's lifetime has elapsed. Legacy and no-token
// credentials never expire.
func (e *Engine) IsExpired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isExpiredLocked()
}

func (e *Engine) isExpiredLocked() bool {
	if !e.auth.Initialized {
		return true
	}
	switch e.auth.Credential.Kind {
	case KindStaticLegacyToken, KindNoToken:
		return false
	}
	return e.refreshTimer.Remaining() == 0
}

// TTL returns the time left before the token is refreshed.
func (e *Engine) TTL() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshTimer.Remaining()
}

// Token returns the bearer token, or "" when none is held.
func (e *Engine) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.AccessToken
}

// RefreshToken returns the refresh token, or "".
func (e *Engine) RefreshToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.RefreshToken
}

// UID returns the signed-in user's ID, or "".
func (e *Engine) UID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.UID
}

// TokenType returns the token's scheme, usually "Bearer".
func (e *Engine) TokenType() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token.TokenType
}

// LastEvent returns the most recently emitted event.
func (e *Engine) LastEvent() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEvent, e.hasEvent
}

// LastError returns the error of the last failed acquisition, cleared on success.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Busy reports whether a bulk transfer currently holds off auth traffic.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// SetBusy flags a bulk transfer on the shared client. While set, Tick defers all work.
func (e *Engine) SetBusy(busy bool) {
	e.busy.Store(busy)
}

func (e *Engine) stopTimersLocked() {
	e.refreshTimer.Stop()
	e.backoffTimer.Stop()
	e.requestTimer.Stop()
	e.settleTimer.Stop()
}

func (e *Engine) closeSlotLocked() {
	if !e.slotOpen {
		return
	}
	e.transport.Close(e.slot)
	e.transport.ReclaimFinished()
	e.slotOpen = false
	e.slot = 0
}

var errSlotLost = errors.New("request slot no longer exists")
