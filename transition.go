package goCred

import "fmt"

// transitions lists every legal edge. Any state may fall back to Uninitialized (teardown,
// rebind, restart) or Error.
var transitions = map[State][]State{
	StateUninitialized:    {StateInitializing, StateReady},
	StateInitializing:     {StateTokenSigning, StateAuthenticating},
	StateTokenSigning:     {StateAuthenticating},
	StateAuthenticating:   {StateRequestSent},
	StateRequestSent:      {StateResponseReceived, StateReady},
	StateResponseReceived: {StateReady},
	StateReady:            {},
	StateError:            {},
}

func validTransition(from, to State) bool {
	if to == StateUninitialized || to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionLocked moves to `to`, applying entry actions. An illegal edge is logged, counted,
// and routed to Error.
func (e *Engine) transitionLocked(to State) {
	from := e.state
	if from == to {
		return
	}
	if !validTransition(from, to) {
		e.metrics.Inc(MetricInvalidTransition)
		e.logger.Error("invalid state transition", "from", from.String(), "to", to.String())
		e.failLocked(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to))
		return
	}

	e.state = to
	e.logger.Trace("state transition", "from", from.String(), "to", to.String())

	switch to {
	case StateUninitialized:
		e.processing = false
		e.announced = false
	case StateReady:
		e.announced = false
		e.settleTimer.Feed(e.config.Timers.ReadySettle)
		e.settleTimer.Start()
		// The externally visible Ready event waits for the settle timer.
		return
	case StateError:
		// failLocked emits with the error attached.
		return
	default:
		e.processing = true
	}

	e.emitLocked(Event{State: to})
}
