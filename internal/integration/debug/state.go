package debug

import "errors"

// SessionState is the lifecycle state of a session.
type SessionState int

const (
	// StateCreated is a session whose adapter is not yet connected.
	StateCreated SessionState = iota
	// StateStarting is set once the connection exists and initialize is sent.
	StateStarting
	// StateInitialized is set when the initialize response arrives.
	StateInitialized
	// StateLaunched is set when the launch response arrives.
	StateLaunched
	// StateAttached is set when the attach response arrives.
	StateAttached
	// StateRunning is set on continued events and accepted resume commands.
	StateRunning
	// StateStopped is set on stopped events.
	StateStopped
	// StateExited is set when the debuggee exits.
	StateExited
	// StateTerminated is set when the session is torn down.
	StateTerminated
)

// String returns a string representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateInitialized:
		return "initialized"
	case StateLaunched:
		return "launched"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Ended reports whether the session can no longer be driven.
func (s SessionState) Ended() bool {
	return s == StateExited || s == StateTerminated
}

// Errors returned to completion callbacks.
var (
	// ErrNotStopped is returned by commands that need a stopped thread.
	ErrNotStopped = errors.New("no stopped thread")

	// ErrUnsupported is returned when the adapter lacks the capability a
	// command needs.
	ErrUnsupported = errors.New("not supported by adapter")

	// ErrNoSession is returned when no session is available.
	ErrNoSession = errors.New("no debug session")

	// ErrNoFrame is returned when there is no selected stack frame.
	ErrNoFrame = errors.New("no stack frame selected")

	// ErrNoVariable is returned when a variable path does not resolve.
	ErrNoVariable = errors.New("no such variable")
)
