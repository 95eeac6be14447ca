// Package tokenstore persists the last acquired app token in Redis so a restarted host can
// resume without a network round trip.
//
// # Binary encoding
//
// Snapshots are stored as a compact, versioned binary blob. The encoder is append-only: new
// versions add trailing fields but never reinterpret old ones, and Decode accepts every
// version it has ever written.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Snapshot] model. It does NOT
// decide when a token is saved or trusted; that belongs to the engine.
//
// # What this package must NOT do
//
//   - Import goCred (no upward imports).
//   - Log or otherwise expose token material.
package tokenstore
