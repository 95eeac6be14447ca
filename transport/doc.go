// Package transport is the asynchronous HTTP client the credential engine submits requests to.
//
// Each exchange lives in a numbered slot. Submit hands the request to a background worker and
// returns at once; the worker's progress becomes visible to [HTTPClient.Response] only after the
// host calls [HTTPClient.Poll] from its loop, so a single-threaded host observes responses at
// well-defined points.
//
// # Slot lifecycle
//
//	CreateSlot → Submit → Poll… → Response(Done) → Close → ReclaimFinished
//
// Closing a slot cancels its in-flight request. Closed slots still count against MaxSlots until
// their worker exits and ReclaimFinished runs.
package transport
