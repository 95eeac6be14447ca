// Package registry tracks which engine, client, and result objects are still alive.
//
// Downstream modules capture a [Handle] when they bind to an engine and must call
// [Registry.IsLive] before every use of the state behind it. Handles are random uuids, so a
// handle that was unregistered can never be confused with a newer object.
//
// # What this package must NOT do
//
//   - Hold references to the objects it tracks.
//   - Reuse or recycle handles.
package registry
