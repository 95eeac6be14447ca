// Package middleware adapts a goCred.AppBinding to net/http for downstream API modules.
//
// # Adapters
//
//   - [Transport]: outbound http.RoundTripper that attaches the engine's bearer token.
//   - [Bulk]: runs a bulk upload/download with the binding's busy flag set.
//   - [RequireToken]: inbound handler guard for local endpoints that proxy downstream.
//
// Every adapter re-validates the binding's liveness before reading the token.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into AppBinding calls. It does NOT acquire or
// refresh tokens; the host loop's Tick does that.
//
// # What this package must NOT do
//
//   - Block waiting for a token to become available.
//   - Cache tokens beyond a single request.
package middleware
