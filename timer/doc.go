// Package timer provides the countdown primitive the credential engine uses for token expiry,
// post-error backoff, request timeouts, and the ready-settle window.
//
// A [Timer] never fires callbacks and never spawns goroutines. Callers poll [Timer.Remaining]
// from their own loop; a stopped or elapsed timer reports zero.
//
// # What this package must NOT do
//
//   - Block, sleep, or schedule work.
//   - Read the wall clock directly (all reads go through a [Clock]).
package timer
