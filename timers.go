package goCred

import "time"

// rearmLocked clears any cool-down, sets the token lifetime to expireCap (or interval when
// expireCap is zero), and restarts the refresh timer with interval when start is true.
func (e *Engine) rearmLocked(start bool, interval, expireCap time.Duration) {
	e.backoffTimer.Stop()
	e.refreshTimer.Stop()

	ttl := interval
	if expireCap > 0 {
		ttl = expireCap
	}
	e.token.Expire = ttl

	e.refreshTimer.Feed(interval)
	if start {
		e.refreshTimer.Start()
	}
}

// effectiveLifetime clamps a granted lifetime. The caller's cap and the server's TTL bound
// it from above and margin is subtracted. Only when the margin consumes the whole lifetime
// does it fall back to min(minTTL, bound), and never below 1s.
func effectiveLifetime(serverTTL, callerCap, margin, minTTL, defaultTTL time.Duration) time.Duration {
	if serverTTL <= 0 {
		serverTTL = defaultTTL
	}
	if callerCap <= 0 {
		callerCap = defaultTTL
	}

	bound := serverTTL
	if callerCap < bound {
		bound = callerCap
	}

	out := bound - margin
	if out <= 0 {
		out = minTTL
		if bound < out {
			out = bound
		}
	}
	if out < time.Second {
		out = time.Second
	}
	return out
}
