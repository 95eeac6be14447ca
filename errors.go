package goCred

import (
	"errors"
	"fmt"
)

var (
	// ErrUnbound is returned when the engine is used before an app was initialized, or after
	// it was torn down.
	ErrUnbound = errors.New("engine not bound to an app")
	// ErrSlotExhausted is reported when the transport refuses to allocate a request slot.
	ErrSlotExhausted = errors.New("transport slot exhausted")
	// ErrTimeout is reported when no complete response arrived within the request window.
	ErrTimeout = errors.New("auth request timed out")
	// ErrParseMismatch is reported when a response body matched none of the known shapes.
	ErrParseMismatch = errors.New("unrecognized token response")
	// ErrSigningFailed is reported when the assertion signer failed.
	ErrSigningFailed = errors.New("assertion signing failed")
	// ErrInvalidCredential is reported when the credential cannot drive the requested flow.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidTransition is reported when the state machine attempted an illegal edge.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTransport is reported when the transport failed before a response arrived.
	ErrTransport = errors.New("transport failure")
	// ErrEngineClosed is returned by entry points after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrBuilderUsed is returned by a second call to Build.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrNotAuthenticated is returned by token readers while no bearer token is held.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrHTTPStatus is the sentinel wrapped by StatusError.
	ErrHTTPStatus = errors.New("unexpected http status")
)

// Event codes for errors that carry no provider or HTTP code.
const (
	CodeUnbound           = -1
	CodeSlotExhausted     = -2
	CodeTimeout           = -3
	CodeParseMismatch     = -4
	CodeSigningFailed     = -5
	CodeInvalidCredential = -6
	CodeInvalidTransition = -7
	CodeTransport         = -8
	CodeUnknown           = -100
)

// ProviderError is an error payload returned by the identity provider.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// StatusError is an HTTP failure whose body was not a provider error.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d", ErrHTTPStatus, e.Status)
}

// Unwrap lets errors.Is match ErrHTTPStatus.
func (e *StatusError) Unwrap() error {
	return ErrHTTPStatus
}

// ErrorCode maps err to the numeric code carried by events. Provider errors keep their own
// code and HTTP failures use the status.
func ErrorCode(err error) int {
	if err == nil {
		return 0
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}

	switch {
	case errors.Is(err, ErrUnbound):
		return CodeUnbound
	case errors.Is(err, ErrSlotExhausted):
		return CodeSlotExhausted
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrParseMismatch):
		return CodeParseMismatch
	case errors.Is(err, ErrSigningFailed):
		return CodeSigningFailed
	case errors.Is(err, ErrInvalidCredential):
		return CodeInvalidCredential
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrTransport):
		return CodeTransport
	default:
		return CodeUnknown
	}
}

// errorMessage is the human-readable part of an event.
func errorMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
