package internaldefs

import (
	goCred "github.com/MrEthical07/goCred"
)

// CounterDef binds a counter MetricID to its exported name.
type CounterDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name.
type HistogramDef struct {
	ID   goCred.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goCred.MetricAuthAttempt, Name: "gocred_auth_attempt_total", Help: "Submitted credential acquisition requests."},
	{ID: goCred.MetricAuthSuccess, Name: "gocred_auth_success_total", Help: "Acquisitions that reached Ready."},
	{ID: goCred.MetricAuthFailure, Name: "gocred_auth_failure_total", Help: "Transitions into the Error state."},
	{ID: goCred.MetricProviderError, Name: "gocred_provider_error_total", Help: "Failures carrying a provider error payload."},
	{ID: goCred.MetricHTTPStatusError, Name: "gocred_http_status_error_total", Help: "Failures with an HTTP error status and no provider payload."},
	{ID: goCred.MetricTimeout, Name: "gocred_timeout_total", Help: "Requests that exceeded the request window."},
	{ID: goCred.MetricParseMismatch, Name: "gocred_parse_mismatch_total", Help: "Response bodies that matched no known shape."},
	{ID: goCred.MetricSlotExhausted, Name: "gocred_slot_exhausted_total", Help: "Refused transport slot allocations."},
	{ID: goCred.MetricTransportFailure, Name: "gocred_transport_failure_total", Help: "Exchanges that failed before a response arrived."},
	{ID: goCred.MetricSigningStarted, Name: "gocred_signing_started_total", Help: "Accepted assertion signings."},
	{ID: goCred.MetricSigningFailure, Name: "gocred_signing_failure_total", Help: "Failed assertion signings."},
	{ID: goCred.MetricBusyDeferral, Name: "gocred_busy_deferral_total", Help: "Ticks deferred by a bulk transfer."},
	{ID: goCred.MetricInvalidTransition, Name: "gocred_invalid_transition_total", Help: "Rejected state transitions."},
	{ID: goCred.MetricRetryExhausted, Name: "gocred_retry_exhausted_total", Help: "Failures that exhausted the retry policy."},
	{ID: goCred.MetricTeardown, Name: "gocred_teardown_total", Help: "Completed teardowns."},
	{ID: goCred.MetricStoreRestore, Name: "gocred_store_restore_total", Help: "Tokens seeded from the token store."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goCred.MetricRequestLatency, Name: "gocred_request_latency_seconds", Help: "Submit to completion latency of token requests."},
}

// Lifecycle gauge names shared by the exporters.
const (
	StateGauge         = "gocred_state"
	StateHelp          = "1 for the engine's current lifecycle state, 0 for every other state."
	AuthenticatedGauge = "gocred_authenticated"
	AuthenticatedHelp  = "Whether the bound credential holds an accepted token."
	TTLGauge           = "gocred_token_ttl_seconds"
	TTLHelp            = "Seconds left before the token is refreshed."
	BusyGauge          = "gocred_busy"
	BusyHelp           = "Whether a bulk transfer is deferring auth traffic."
)

// States lists every lifecycle state in declaration order.
var States = []goCred.State{
	goCred.StateUninitialized,
	goCred.StateInitializing,
	goCred.StateTokenSigning,
	goCred.StateAuthenticating,
	goCred.StateRequestSent,
	goCred.StateResponseReceived,
	goCred.StateReady,
	goCred.StateError,
}

// KindLabel is the credential kind label for status, or "unbound".
func KindLabel(status goCred.Status) string {
	if !status.Bound {
		return "unbound"
	}
	return status.Kind.String()
}

// Bool01 maps a flag onto a gauge value.
func Bool01(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"10",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed-size bucket array, zero-filling missing entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals exporters publish.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
