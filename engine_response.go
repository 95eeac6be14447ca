package goCred

import (
	"github.com/MrEthical07/goCred/tokenresponse"
)

// completeLocked interprets a finished response.
func (e *Engine) completeLocked(status int, body []byte) {
	e.closeSlotLocked()

	if status >= 400 {
		parsed := tokenresponse.Parse(body)
		if parsed.Kind == tokenresponse.ProviderError {
			// OAuth2 error bodies carry no numeric code.
			code := parsed.Code
			if code == 0 {
				code = status
			}
			e.metrics.Inc(MetricProviderError)
			e.failLocked(&ProviderError{Code: code, Message: parsed.Message})
			return
		}
		e.metrics.Inc(MetricHTTPStatusError)
		e.failLocked(&StatusError{Status: status})
		return
	}

	task := e.auth.Task
	if task.management() {
		e.token.Authenticated = task != TaskDeleteUser && task != TaskResetPassword
		e.token.AcquiredAt = e.clock.Now()
		e.rearmLocked(true, e.config.Timers.DefaultTTL, 0)
		e.succeedLocked()
		return
	}

	parsed := tokenresponse.Parse(body)
	switch {
	case parsed.Kind == tokenresponse.ProviderError:
		e.metrics.Inc(MetricProviderError)
		e.failLocked(&ProviderError{Code: parsed.Code, Message: parsed.Message})
		return
	case !parsed.OK():
		e.metrics.Inc(MetricParseMismatch)
		e.failLocked(ErrParseMismatch)
		return
	}

	cred := &e.auth.Credential
	margin := e.config.Timers.ExpiryMargin
	if e.noMargin {
		margin = 0
	}
	expire := effectiveLifetime(
		parsed.TTL,
		cred.Expire,
		margin,
		e.config.Timers.MinTTL,
		e.config.Timers.DefaultTTL,
	)

	refresh := parsed.RefreshToken
	if refresh == "" {
		refresh = cred.RefreshToken
	}
	tokenType := parsed.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	e.token = AppToken{
		AccessToken:   parsed.Token,
		RefreshToken:  refresh,
		UID:           parsed.UID,
		TokenType:     tokenType,
		AcquiredAt:    e.clock.Now(),
		Authenticated: true,
		Kind:          cred.Kind,
	}
	e.rearmLocked(true, expire, 0)

	if refresh != "" {
		cred.RefreshToken = refresh
	}
	switch {
	case task == TaskSignUp && e.auth.Anonymous:
		e.auth.Task = TaskRefreshToken
	case task == TaskSignUp:
		e.auth.Task = TaskUndefined
	case cred.Kind == KindCustomToken && cred.RefreshToken != "":
		e.auth.Task = TaskRefreshToken
	}

	e.saveSnapshotLocked()
	e.succeedLocked()
}

func (e *Engine) succeedLocked() {
	e.noMargin = false
	e.lastErr = nil
	e.policy.Reset()
	e.metrics.Inc(MetricAuthSuccess)
	e.logger.Debug("auth succeeded",
		"handle", e.handle.String(),
		"kind", e.auth.Credential.Kind.String(),
		"task", e.auth.Task.String(),
		"expire", e.token.Expire,
	)
	e.transitionLocked(StateReady)
}
