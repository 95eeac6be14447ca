// Package goCred provides a client-side credential lifecycle engine: it turns a credential
// descriptor (static token, password, OAuth2 access/refresh token, custom token, or service
// account) into a live bearer token and keeps it fresh.
//
// The engine is driven by the host's own loop: [Engine.Tick] never blocks, performs at most
// one state transition or one request submission per call, and reports a tri-state
// [TickOutcome]. Network I/O goes through an asynchronous [Transport] the host polls in the
// same loop.
//
// # Architecture boundaries
//
// goCred is the public surface. It exposes [Engine], [Builder], [Config], [Credential], and
// value types ([AppToken], [Event], [AppBinding]). Response parsing, timers, the liveness
// registry, the transport, and the assertion signer live in sibling packages and are wired
// together by [Builder.Build].
//
// # What this package must NOT do
//
//   - Block inside Tick (Redis writes go through a write-behind queue).
//   - Hand out token material to callers whose binding is no longer live.
//   - Import middleware or any package that re-imports goCred (no import cycles).
package goCred
