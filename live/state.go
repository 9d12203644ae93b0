package live

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is the error of the terminal state reached when every
// reconnect attempt failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Failed
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type State struct {
	Status Status
	// Reason is set for Failed.
	Reason string
	err    error
}

func stateOf(s Status) State { return State{Status: s} }

func failedState(err error) State {
	return State{Status: Failed, Reason: err.Error(), err: err}
}

// Err returns the cause of a Failed state, or nil.
func (s State) Err() error { return s.err }

func (s State) String() string {
	if s.Status == Failed && s.Reason != "" {
		return "error: " + s.Reason
	}
	return s.Status.String()
}
