// Package writebehind runs slow side effects (Redis writes) off the caller's goroutine.
//
// # Components
//
//   - [Job]: one named unit of work with its own context deadline.
//   - [Queue]: buffered async runner with drop-if-full / block-if-full semantics.
//
// # Architecture boundaries
//
// This package owns buffering and execution order (FIFO, single worker). It does NOT decide
// what to persist; that belongs to the engine.
//
// # What this package must NOT do
//
//   - Import goCred or any sibling internal package.
//   - Retry failed jobs; a failure is logged and counted.
package writebehind
